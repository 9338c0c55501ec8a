// Package app boots a complete royale server instance.
package app

import (
	"context"
	"github.com/lefinal/royale-server/errors"
	"github.com/lefinal/royale-server/gatekeeping"
	"github.com/lefinal/royale-server/logging"
	"github.com/lefinal/royale-server/portal"
	"github.com/lefinal/royale-server/session"
	"github.com/lefinal/royale-server/store"
	"github.com/lefinal/royale-server/webserver"
	"github.com/lefinal/royale-server/world"
	"github.com/lefinal/royale-server/ws"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
	"os"
)

// App is a complete royale server instance.
type App struct {
	// config is the main config used for the App.
	config Config
}

// NewApp creates a new App with the given Config. Boot it with App.Boot.
func NewApp(config Config) *App {
	return &App{
		config: config,
	}
}

// Boot sets everything up based on the set config and runs until the given
// context.Context is done.
func (app *App) Boot(ctx context.Context) error {
	err := ValidateConfig(app.config)
	if err != nil {
		return errors.Error{
			Code:    errors.ErrFatal,
			Err:     err,
			Message: "invalid config",
		}
	}
	logger, publishLog := setupLogging(ctx, app.config.Log)
	defer func() {
		_ = logger.Sync()
	}()
	err = app.boot(ctx, logger, publishLog)
	if err != nil {
		err = errors.Wrap(err, "boot", nil)
		errors.Log(logger, err)
		return err
	}
	return nil
}

func (app *App) boot(ctx context.Context, logger *zap.Logger, publishLog <-chan logging.LogEntry) error {
	logger.Warn("booting up")
	// Connect database.
	logger.Debug("connecting to database")
	maxDBConnections := int32(defaultMaxDBConnections)
	if app.config.MaxDBConnections.Valid {
		maxDBConnections = app.config.MaxDBConnections.Int32
	}
	db, err := connectDB(ctx, logger.Named("db"), app.config.DBConn, maxDBConnections)
	if err != nil {
		return errors.Wrap(err, "connect database", nil)
	}
	defer db.Close()
	mall := store.NewMall(logger.Named("store"), db)
	logger.Debug("database ready")
	// Create session.
	w := world.NewWorld(logger.Named("world"), app.config.GroundLevel, nil)
	coordinator := session.NewCoordinator(logger.Named("session"), app.config.Session, w)
	// Create player transport.
	gatekeeper := gatekeeping.NewNetGatekeeper(logger.Named("gatekeeping"), mall, coordinator, gatekeeping.Interactions{
		Config:    app.config.Interaction,
		Forwarder: coordinator,
		Scanner:   w,
	})
	wsHub := ws.NewHub(logger.Named("ws"), gatekeeper)
	webServer, err := webserver.NewWebServer(logger.Named("web-server"), webserver.Config{
		ServeAddr:    app.config.ServeAddr,
		WriteTimeout: webserver.DefaultWriteTimeout,
		ReadTimeout:  webserver.DefaultReadTimeout,
	})
	if err != nil {
		return errors.Wrap(err, "create web server", nil)
	}
	webServer.PopulateRoutes(ctx, wsHub, coordinator)
	// Create portal if MQTT is configured.
	var portalBase portal.Base
	if app.config.MQTTAddr.Valid {
		portalBase, err = portal.NewBase(logger.Named("portal").With(logging.NoPublish()), portal.Config{
			MQTTAddr: app.config.MQTTAddr.String,
			ClientID: app.config.MQTTClientID.String,
		})
		if err != nil {
			return errors.Wrap(err, "new portal base", nil)
		}
	}
	services, err := createServices(app.config, logger, serviceDeps{
		coordinator:  coordinator,
		mall:         mall,
		wsHub:        wsHub,
		webServer:    webServer,
		portalBase:   portalBase,
		logEntriesIn: publishLog,
	})
	if err != nil {
		return errors.Wrap(err, "create services", nil)
	}
	logger.Warn("completed setup", zap.String("session_id", coordinator.ID()))
	err = services.run(ctx, logger)
	if err != nil {
		return errors.Wrap(err, "run services", nil)
	}
	logger.Warn("shut down")
	return nil
}

func setupLogging(ctx context.Context, config LogConfig) (*zap.Logger, <-chan logging.LogEntry) {
	encConfig := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	cores := make([]zapcore.Core, 0)
	// Setup stdout logger with colorful level output.
	stdOutEncConfig := encConfig
	stdOutEncConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	cores = append(cores, zapcore.NewCore(
		zapcore.NewConsoleEncoder(stdOutEncConfig),
		zapcore.Lock(os.Stdout),
		zap.LevelEnablerFunc(func(level zapcore.Level) bool {
			return level >= config.StdoutLogLevel && level < zap.ErrorLevel
		})))
	// Setup error logger.
	cores = append(cores, zapcore.NewCore(
		zapcore.NewConsoleEncoder(encConfig),
		zapcore.Lock(os.Stderr),
		zap.LevelEnablerFunc(func(level zapcore.Level) bool {
			return level >= zap.ErrorLevel
		})))
	// Setup high priority logger.
	if config.HighPriorityOutput.Valid {
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(encConfig),
			zapcore.AddSync(&lumberjack.Logger{
				Filename: config.HighPriorityOutput.String,
				MaxSize:  config.MaxSize,
				MaxAge:   config.KeepDays,
			}),
			zap.LevelEnablerFunc(func(level zapcore.Level) bool {
				return level >= zap.WarnLevel
			})))
	}
	// Setup debug logger.
	if config.DebugOutput.Valid {
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(encConfig),
			zapcore.AddSync(&lumberjack.Logger{
				Filename: config.DebugOutput.String,
				MaxSize:  config.MaxSize,
				MaxAge:   config.KeepDays,
			}),
			zap.LevelEnablerFunc(func(level zapcore.Level) bool {
				return level >= zap.DebugLevel
			})))
	}
	// Setup publish logger.
	publishCore, publishLog := logging.NewNoPublishOmitCore(ctx, config.PublishLogLevel)
	cores = append(cores, publishCore)
	return zap.New(zapcore.NewTee(cores...)), publishLog
}
