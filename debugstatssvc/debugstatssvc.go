// Package debugstatssvc periodically logs session and runtime statistics.
package debugstatssvc

import (
	"context"
	"fmt"
	"github.com/lefinal/royale-server/errors"
	"github.com/lefinal/royale-server/service"
	"github.com/lefinal/royale-server/session"
	"go.uber.org/zap"
	"runtime"
	"time"
)

// Config for the debug stats service.
type Config struct {
	// IsEnabled describes whether periodic debug stats logging is desired.
	IsEnabled bool
	// Interval in which to log debug stats.
	Interval time.Duration
	// IncludeStack adds the stack of all goroutines to each log entry.
	IncludeStack bool
}

// SessionStats provides the session statistics to log.
type SessionStats interface {
	Stats() session.Stats
}

type debugStatsService struct {
	logger  *zap.Logger
	config  Config
	session SessionStats
}

// NewService creates the debug stats service. If enabled, the interval must be
// positive.
func NewService(logger *zap.Logger, config Config, s SessionStats) (service.Service, error) {
	if config.IsEnabled && config.Interval <= 0 {
		return nil, errors.NewInternalError("debug stats interval must be positive",
			errors.Details{"interval": config.Interval.String()})
	}
	return &debugStatsService{
		logger:  logger,
		config:  config,
		session: s,
	}, nil
}

func (s *debugStatsService) Run(ctx context.Context) error {
	if !s.config.IsEnabled {
		return nil
	}
	s.logger.Debug(fmt.Sprintf("logging system state every %gs", s.config.Interval.Seconds()))
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.logStats()
		}
	}
}

// logStats logs the current session statistics along with memory stats and
// goroutine count.
func (s *debugStatsService) logStats() {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	fields := []zap.Field{
		zap.Int("num_cpu", runtime.NumCPU()),
		zap.Int("num_goroutine", runtime.NumGoroutine()),
		zap.Uint64("memory_mb", memStats.Sys/1000/1000),
	}
	if s.session != nil {
		stats := s.session.Stats()
		fields = append(fields,
			zap.Uint64("tick", stats.Tick),
			zap.Int("teams", stats.Teams),
			zap.Int("players", stats.Players),
			zap.Int("downed", stats.Downed),
			zap.Int("queued_commands", stats.QueuedCommands),
			zap.Uint64("handled_commands", stats.HandledCommands))
	}
	if s.config.IncludeStack {
		buf := make([]byte, 1<<16)
		stackSize := runtime.Stack(buf, true)
		fields = append(fields, zap.String("stack", string(buf[:stackSize])))
	}
	s.logger.Debug("debug system stats", fields...)
}
