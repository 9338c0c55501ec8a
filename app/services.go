package app

import (
	"context"
	"fmt"
	"github.com/lefinal/royale-server/debugstatssvc"
	"github.com/lefinal/royale-server/errors"
	"github.com/lefinal/royale-server/logging"
	"github.com/lefinal/royale-server/logpublishsvc"
	"github.com/lefinal/royale-server/portal"
	"github.com/lefinal/royale-server/recordsvc"
	"github.com/lefinal/royale-server/service"
	"github.com/lefinal/royale-server/session"
	"github.com/lefinal/royale-server/sessionsvc"
	"github.com/lefinal/royale-server/store"
	"github.com/lefinal/royale-server/webserver"
	"github.com/lefinal/royale-server/ws"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"time"
)

type services map[string]service.Service

// serviceDeps holds everything needed for creating services.
type serviceDeps struct {
	coordinator *session.Coordinator
	mall        *store.Mall
	wsHub       *ws.Hub
	webServer   *webserver.WebServer
	// portalBase is nil if no MQTT server is configured.
	portalBase   portal.Base
	logEntriesIn <-chan logging.LogEntry
}

func createServices(appConfig Config, logger *zap.Logger, deps serviceDeps) (services, error) {
	services := make(services)
	services["session"] = deps.coordinator
	services["ws-hub"] = service.Func(func(ctx context.Context) error {
		deps.wsHub.Run(ctx)
		return nil
	})
	services["web-server"] = deps.webServer
	// Record service.
	services["record"] = recordsvc.New(logger.Named("record"), deps.mall, deps.coordinator)
	// Debug stats service.
	s, err := debugstatssvc.NewService(logger.Named("debug-stats"), debugstatssvc.Config{
		IsEnabled: appConfig.Log.SystemDebugStatsInterval.Valid && appConfig.Log.SystemDebugStatsInterval.Int > 0,
		Interval:  time.Duration(appConfig.Log.SystemDebugStatsInterval.Int) * time.Second,
	}, deps.coordinator)
	if err != nil {
		return nil, errors.Wrap(err, "new debug stats service", nil)
	}
	services["debug-stats"] = s
	if deps.portalBase == nil {
		logger.Info("no mqtt server configured. operator channel and log publishing disabled.")
		return services, nil
	}
	services["portal"] = service.Func(deps.portalBase.Open)
	// Session operator service.
	services["session-operator"] = sessionsvc.New(logger.Named("session-operator"),
		deps.portalBase.NewPortal("session-operator"), deps.coordinator)
	// Log publishing service.
	services["log-publish"] = logpublishsvc.New(logger.Named("log-publish"),
		deps.portalBase.NewPortal("log-publish"), deps.logEntriesIn)
	return services, nil
}

func (s services) run(ctx context.Context, logger *zap.Logger) error {
	wg, lifetime := errgroup.WithContext(ctx)
	for name, serviceToRun := range s {
		name, serviceToRun := name, serviceToRun
		wg.Go(func() error {
			logger.Debug(fmt.Sprintf("service %s up", name))
			defer logger.Debug(fmt.Sprintf("service %s down", name))
			if err := serviceToRun.Run(lifetime); err != nil {
				return errors.Wrap(err, "run service", errors.Details{"service_name": name})
			}
			return nil
		})
	}
	return wg.Wait()
}
