package logpublishsvc

import (
	"context"
	"encoding/json"
	"github.com/lefinal/royale-server/event"
	"github.com/lefinal/royale-server/logging"
	"github.com/lefinal/royale-server/portal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	logger := zap.New(zapcore.NewNopCore())
	portalStub := &portal.Stub{}
	logEntriesIn := make(<-chan logging.LogEntry)
	s := New(logger, portalStub, logEntriesIn).(*logPublishService)
	require.NotNil(t, s, "should create")
	assert.Equal(t, logger, s.logger, "should set correct logger")
	assert.Equal(t, portalStub, s.portal, "should set correct portal")
	assert.Equal(t, logEntriesIn, s.logEntriesIn, "should set correct log entries in channel")
}

func TestRunPublishes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	loopback := portal.NewLoopback()
	logEntriesIn := make(chan logging.LogEntry, 8)
	s := New(zap.NewNop(), loopback, logEntriesIn)
	done := make(chan error)
	go func() {
		done <- s.Run(ctx)
	}()
	now := time.Date(2021, 11, 3, 12, 0, 0, 0, time.UTC)
	for _, message := range []string{"a", "b", "c"} {
		logEntriesIn <- logging.LogEntry{
			Time:       now,
			Message:    message,
			Level:      zapcore.WarnLevel,
			LoggerName: "session",
			Fields:     map[string]interface{}{"tick": float64(7)},
		}
	}
	assert.Eventually(t, func() bool {
		return len(loopback.Published(topicLogPublish)) == 3
	}, time.Second, 10*time.Millisecond, "should publish all entries")
	var got event.NextLogEntryEvent
	require.NoError(t, json.Unmarshal(loopback.Published(topicLogPublish)[0].Payload, &got))
	assert.Equal(t, "a", got.Message, "should keep order")
	assert.Equal(t, "warn", got.Level, "should set level")
	assert.Equal(t, "session", got.LoggerName, "should set logger name")
	assert.Equal(t, float64(7), got.Fields["tick"], "should set fields")
	assert.True(t, now.Equal(got.Time), "should set time")
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err, "should shut down without error")
	case <-time.After(time.Second):
		require.Fail(t, "timeout", "service did not shut down")
	}
}

func TestRunClosedInput(t *testing.T) {
	logEntriesIn := make(chan logging.LogEntry)
	close(logEntriesIn)
	s := New(zap.NewNop(), portal.NewLoopback(), logEntriesIn)
	assert.NoError(t, s.Run(context.Background()), "should return when input is closed")
}
