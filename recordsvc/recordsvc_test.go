package recordsvc

import (
	"context"
	"github.com/gobuffalo/nulls"
	"github.com/lefinal/royale-server/errors"
	"github.com/lefinal/royale-server/event"
	"github.com/lefinal/royale-server/store"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"sync"
	"testing"
	"time"
)

const waitFor = 2 * time.Second

type storeMock struct {
	mock.Mock
}

func (m *storeMock) RecordMatchEvents(ctx context.Context, events []store.MatchEvent) error {
	return m.Called(ctx, events).Error(0)
}

func (m *storeMock) RecordElimination(ctx context.Context, e store.Elimination) (bool, error) {
	args := m.Called(ctx, e)
	return args.Bool(0), args.Error(1)
}

type sessionStub struct {
	m         sync.Mutex
	listeners []event.Notifier
}

func (s *sessionStub) ID() string {
	return "session-1"
}

func (s *sessionStub) AddListener(notifier event.Notifier) {
	s.m.Lock()
	defer s.m.Unlock()
	s.listeners = append(s.listeners, notifier)
}

func (s *sessionStub) notify(n event.Notification) {
	s.m.Lock()
	defer s.m.Unlock()
	for _, l := range s.listeners {
		l.Notify(n)
	}
}

type RecordServiceSuite struct {
	suite.Suite
	store   *storeMock
	session *sessionStub
	s       *recordService
	now     time.Time
}

func (suite *RecordServiceSuite) SetupTest() {
	suite.store = &storeMock{}
	suite.session = &sessionStub{}
	suite.s = New(zap.New(zapcore.NewNopCore()), suite.store, suite.session).(*recordService)
	suite.now = time.Date(2021, 11, 3, 12, 0, 0, 0, time.UTC)
	suite.s.now = func() time.Time {
		return suite.now
	}
}

// run runs the service until all given notifications were handled and the
// service shut down.
func (suite *RecordServiceSuite) run(notifications ...event.Notification) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() {
		done <- suite.s.Run(ctx)
	}()
	for _, n := range notifications {
		suite.session.notify(n)
	}
	suite.Eventually(func() bool {
		return len(suite.s.queue) == 0
	}, waitFor, time.Millisecond, "should handle notifications")
	cancel()
	select {
	case err := <-done:
		suite.NoError(err, "should shut down without error")
	case <-time.After(waitFor):
		suite.Fail("timeout", "service did not shut down")
	}
}

func (suite *RecordServiceSuite) TestRegistersListener() {
	suite.Len(suite.session.listeners, 1, "should register listener")
}

func (suite *RecordServiceSuite) TestRecordsMatchEvents() {
	var recorded []store.MatchEvent
	suite.store.On("RecordMatchEvents", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			recorded = append(recorded, args.Get(1).([]store.MatchEvent)...)
		}).Return(nil)

	suite.run(event.Notification{
		Type:    event.TypePlayerDowned,
		Tick:    12,
		Payload: event.PlayerDownedEvent{PlayerID: "p1"},
	}, event.Notification{
		Type:    event.TypeTeamModeChanged,
		Tick:    13,
		Payload: event.TeamModeChangedEvent{Mode: 2},
	})

	suite.Require().Len(recorded, 2, "should record all notifications")
	suite.Equal("session-1", recorded[0].SessionID, "should set session id")
	suite.Equal(uint64(12), recorded[0].Tick, "should set tick")
	suite.Equal(string(event.TypePlayerDowned), recorded[0].Type, "should set type")
	suite.Equal(nulls.NewString("p1"), recorded[0].Actor, "should set actor")
	suite.JSONEq(`{"player_id":"p1"}`, string(recorded[0].Payload), "should set payload")
	suite.Equal(suite.now, recorded[0].RecordedAt, "should set recorded at")
	suite.False(recorded[1].Actor.Valid, "should not set actor for mode change")
	suite.NotEqual(recorded[0].ID, recorded[1].ID, "should generate distinct ids")
}

func (suite *RecordServiceSuite) TestRecordsElimination() {
	suite.store.On("RecordMatchEvents", mock.Anything, mock.Anything).Return(nil)
	suite.store.On("RecordElimination", mock.Anything, store.Elimination{
		SessionID:    "session-1",
		TeamID:       3,
		Tick:         40,
		Members:      []string{"a", "b"},
		EliminatedAt: suite.now,
	}).Return(true, nil).Once()

	suite.run(event.Notification{
		Type:    event.TypeTeamEliminated,
		Tick:    40,
		Payload: event.TeamEliminatedEvent{TeamID: 3, Members: []string{"a", "b"}},
	})

	suite.store.AssertExpectations(suite.T())
}

func (suite *RecordServiceSuite) TestStoreFailure() {
	suite.store.On("RecordMatchEvents", mock.Anything, mock.Anything).
		Return(errors.NewInternalError("sad life", nil))
	suite.store.On("RecordElimination", mock.Anything, mock.Anything).
		Return(false, errors.NewInternalError("sad life", nil))

	suite.run(event.Notification{
		Type:    event.TypeTeamEliminated,
		Tick:    40,
		Payload: event.TeamEliminatedEvent{TeamID: 1, Members: []string{"a"}},
	})

	suite.store.AssertNumberOfCalls(suite.T(), "RecordMatchEvents", 1)
	suite.store.AssertNumberOfCalls(suite.T(), "RecordElimination", 1)
}

func (suite *RecordServiceSuite) TestFlushesFullBatch() {
	batches := make(chan int, 4)
	suite.store.On("RecordMatchEvents", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			batches <- len(args.Get(1).([]store.MatchEvent))
		}).Return(nil)
	notifications := make([]event.Notification, 0, maxBatchSize)
	for i := 0; i < maxBatchSize; i++ {
		notifications = append(notifications, event.Notification{
			Type:    event.TypeReadyChanged,
			Tick:    uint64(i),
			Payload: event.ReadyChangedEvent{UserID: "u", TeamID: 1, Ready: i%2 == 0},
		})
	}
	suite.run(notifications...)
	total := 0
	for len(batches) > 0 {
		total += <-batches
	}
	suite.Equal(maxBatchSize, total, "should record all events")
}

func TestRecordService(t *testing.T) {
	suite.Run(t, new(RecordServiceSuite))
}

func TestActorOf(t *testing.T) {
	n := event.Notification{Payload: event.ReviveEvent{PlayerID: "p", ReviverID: "r"}}
	if got := actorOf(n); !got.Valid || got.String != "p" {
		t.Errorf("actorOf() = %v, want p", got)
	}
	if got := actorOf(event.Notification{Payload: event.TeamModeChangedEvent{Mode: 1}}); got.Valid {
		t.Errorf("actorOf() = %v, want invalid", got)
	}
}
