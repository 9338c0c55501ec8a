package logpublishsvc

import (
	"context"
	"github.com/lefinal/royale-server/event"
	"github.com/lefinal/royale-server/logging"
	"github.com/lefinal/royale-server/portal"
	"github.com/lefinal/royale-server/service"
	"go.uber.org/zap"
	"time"
)

// topicLogPublish is the topic to publish log entries to.
var topicLogPublish = portal.Join("log", "next")

// publishDebounceDelay is the delay to wait for collecting log entries.
const publishDebounceDelay = 100 * time.Millisecond

// logPublishService publishes log entries from logEntriesIn to the portal.
type logPublishService struct {
	logger *zap.Logger
	portal portal.Portal
	// logEntriesIn is the channel to read log entries to publish from.
	logEntriesIn <-chan logging.LogEntry
}

// New creates a new log publish service that can be run. The given
// logging.LogEntry channel is the channel log entries will be read from. The
// portal's logger must be created with logging.NoPublish in order to not
// publish failed publishes.
func New(logger *zap.Logger, portal portal.Portal, logEntriesIn <-chan logging.LogEntry) service.Service {
	return &logPublishService{
		logger:       logger,
		portal:       portal,
		logEntriesIn: logEntriesIn,
	}
}

// Run the service until the given context.Context is done.
func (s *logPublishService) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case entry, more := <-s.logEntriesIn:
			if !more {
				return nil
			}
			s.publishLogEntriesAfterTimeout(ctx, entry)
		}
	}
}

// publishLogEntriesAfterTimeout waits for publishDebounceDelay and then
// publishes the given logging.LogEntry along with all queued ones.
func (s *logPublishService) publishLogEntriesAfterTimeout(ctx context.Context, firstEntry logging.LogEntry) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(publishDebounceDelay):
		s.publishLogEntry(ctx, firstEntry)
		for {
			select {
			case entry, more := <-s.logEntriesIn:
				if !more {
					return
				}
				s.publishLogEntry(ctx, entry)
			default:
				return
			}
		}
	}
}

func (s *logPublishService) publishLogEntry(ctx context.Context, entry logging.LogEntry) {
	s.portal.Publish(ctx, topicLogPublish, event.NextLogEntryEvent{
		Time:       entry.Time,
		Message:    entry.Message,
		Level:      entry.Level.String(),
		LoggerName: entry.LoggerName,
		Fields:     entry.Fields,
	})
}
