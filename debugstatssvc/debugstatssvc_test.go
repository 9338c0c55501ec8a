package debugstatssvc

import (
	"context"
	"github.com/lefinal/royale-server/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"testing"
	"time"
)

type sessionStatsStub session.Stats

func (s sessionStatsStub) Stats() session.Stats {
	return session.Stats(s)
}

func TestNewServiceInvalidInterval(t *testing.T) {
	_, err := NewService(zap.NewNop(), Config{IsEnabled: true}, nil)
	assert.Error(t, err, "should fail")
}

func TestRunDisabled(t *testing.T) {
	s, err := NewService(zap.NewNop(), Config{}, nil)
	require.NoError(t, err, "should not fail")
	assert.NoError(t, s.Run(context.Background()), "should return immediately")
}

func TestRunLogsStats(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	s, err := NewService(zap.New(core), Config{
		IsEnabled: true,
		Interval:  10 * time.Millisecond,
	}, sessionStatsStub{Tick: 42, Teams: 3, Players: 7, Downed: 1})
	require.NoError(t, err, "should not fail")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() {
		done <- s.Run(ctx)
	}()
	assert.Eventually(t, func() bool {
		return logs.FilterMessage("debug system stats").Len() > 0
	}, time.Second, 5*time.Millisecond, "should log stats")
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err, "should shut down without error")
	case <-time.After(time.Second):
		require.Fail(t, "timeout", "service did not shut down")
	}
	entry := logs.FilterMessage("debug system stats").All()[0]
	fields := entry.ContextMap()
	assert.Equal(t, uint64(42), fields["tick"], "should log tick")
	assert.Equal(t, int64(3), fields["teams"], "should log teams")
	assert.Equal(t, int64(7), fields["players"], "should log players")
	assert.NotContains(t, fields, "stack", "should not include stack")
}
