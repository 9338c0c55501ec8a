package gatekeeping

import (
	"context"
	"encoding/json"
	"github.com/gobuffalo/nulls"
	"github.com/lefinal/royale-server/client"
	"github.com/lefinal/royale-server/errors"
	"github.com/lefinal/royale-server/interaction"
	"github.com/lefinal/royale-server/messages"
	"github.com/lefinal/royale-server/session"
	"github.com/lefinal/royale-server/slots"
	"github.com/lefinal/royale-server/store"
	"github.com/lefinal/royale-server/team"
	"github.com/lefinal/royale-server/world"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
	"sync"
	"testing"
	"time"
)

const timeout = 3 * time.Second

type storeMock struct {
	mock.Mock
}

func (m *storeMock) RegisterUser(ctx context.Context, userID string, displayName string) (store.User, bool, error) {
	args := m.Called(ctx, userID, displayName)
	return args.Get(0).(store.User), args.Bool(1), args.Error(2)
}

func (m *storeMock) UpdateUserLastSeen(ctx context.Context, userID string) error {
	return m.Called(ctx, userID).Error(0)
}

// sessionStub records enqueued commands and sinks.
type sessionStub struct {
	commands chan session.Command
	m        sync.Mutex
	sinks    []session.UpdateSink
	full     session.Update
}

func newSessionStub() *sessionStub {
	snapshot := slots.NewTable(1, team.MaxTeamSize).Snapshot()
	return &sessionStub{
		commands: make(chan session.Command, 64),
		full: session.Update{
			SessionID: "session",
			Tick:      5,
			Full:      true,
			Mode:      int(team.ModeDuo),
			Snapshot:  &snapshot,
		},
	}
}

func (s *sessionStub) ID() string {
	return "session"
}

func (s *sessionStub) AddSink(sink session.UpdateSink) session.Update {
	s.m.Lock()
	defer s.m.Unlock()
	s.sinks = append(s.sinks, sink)
	return s.full
}

func (s *sessionStub) RemoveSink(sink session.UpdateSink) {
	s.m.Lock()
	defer s.m.Unlock()
	for i, other := range s.sinks {
		if other == sink {
			s.sinks = append(s.sinks[:i], s.sinks[i+1:]...)
			return
		}
	}
}

func (s *sessionStub) sinkCount() int {
	s.m.Lock()
	defer s.m.Unlock()
	return len(s.sinks)
}

func (s *sessionStub) push(u session.Update) {
	s.m.Lock()
	defer s.m.Unlock()
	for _, sink := range s.sinks {
		sink.PushUpdate(u)
	}
}

func (s *sessionStub) FullSync() session.Update {
	return s.full
}

func (s *sessionStub) Enqueue(cmd session.Command) bool {
	select {
	case s.commands <- cmd:
		return true
	default:
		return false
	}
}

func (s *sessionStub) Submit(ctx context.Context, cmd session.Command) error {
	select {
	case <-ctx.Done():
		return errors.NewContextAbortedError("submit command")
	case s.commands <- cmd:
		return nil
	}
}

// NetGatekeeperSuite tests NetGatekeeper.
type NetGatekeeperSuite struct {
	suite.Suite
	ctx     context.Context
	cancel  context.CancelFunc
	store   *storeMock
	session *sessionStub
	gk      *NetGatekeeper
	client  *client.Client
	done    chan struct{}
}

func (suite *NetGatekeeperSuite) SetupTest() {
	suite.ctx, suite.cancel = context.WithTimeout(context.Background(), timeout)
	suite.store = &storeMock{}
	suite.store.On("UpdateUserLastSeen", mock.Anything, mock.Anything).Return(nil).Maybe()
	suite.session = newSessionStub()
	suite.gk = NewNetGatekeeper(zap.NewNop(), suite.store, suite.session, Interactions{})
	suite.client = client.New("c1", 16)
	suite.done = make(chan struct{})
	go func() {
		defer close(suite.done)
		suite.gk.AcceptClient(suite.ctx, suite.client)
	}()
}

func (suite *NetGatekeeperSuite) TearDownTest() {
	suite.cancel()
	<-suite.done
}

func (suite *NetGatekeeperSuite) send(messageType messages.MessageType, content interface{}) {
	raw, err := messages.Marshal(messageType, "", content)
	suite.Require().NoError(err)
	select {
	case <-suite.ctx.Done():
		suite.FailNow("timeout", "send message")
	case suite.client.Receive <- raw:
	}
}

func (suite *NetGatekeeperSuite) receive() messages.MessageContainer {
	select {
	case <-suite.ctx.Done():
		suite.FailNow("timeout", "receive message")
	case raw := <-suite.client.Send:
		container, err := messages.ParseContainer(raw)
		suite.Require().NoError(err)
		return container
	}
	return messages.MessageContainer{}
}

func (suite *NetGatekeeperSuite) command() session.Command {
	select {
	case <-suite.ctx.Done():
		suite.FailNow("timeout", "wait for command")
	case cmd := <-suite.session.commands:
		return cmd
	}
	return nil
}

// hello performs the handshake for user u.
func (suite *NetGatekeeperSuite) hello() {
	suite.store.On("RegisterUser", mock.Anything, "u", "Ursula").
		Return(store.User{ID: "u", DisplayName: nulls.NewString("Ursula")}, true, nil).Once()
	suite.send(messages.MessageTypeHello, messages.MessageHello{
		UserID:      "u",
		DisplayName: "Ursula",
		Position:    world.Vec3{X: 2},
	})
	welcome := suite.receive()
	suite.Require().Equal(messages.MessageTypeWelcome, welcome.MessageType)
	var content messages.MessageWelcome
	suite.Require().NoError(json.Unmarshal(welcome.Content, &content))
	suite.Equal(messages.MessageWelcome{UserID: "u", DisplayName: "Ursula", SessionID: "session"}, content)
	full := suite.receive()
	suite.Require().Equal(messages.MessageTypeUpdate, full.MessageType)
	var update messages.MessageUpdate
	suite.Require().NoError(json.Unmarshal(full.Content, &update))
	suite.True(update.Full)
	suite.EqualValues(5, update.Tick)
	suite.Equal(session.SpawnPlayer{User: "u", Position: world.Vec3{X: 2}}, suite.command())
}

func (suite *NetGatekeeperSuite) TestHello() {
	suite.hello()
	suite.Equal([]team.UserID{"u"}, suite.gk.Online())
	suite.Equal(1, suite.session.sinkCount())
	suite.store.AssertExpectations(suite.T())
}

func (suite *NetGatekeeperSuite) TestInvalidHello() {
	suite.send(messages.MessageTypeJoinTeam, messages.MessageJoinTeam{TeamID: 1})
	errMessage := suite.receive()
	suite.Require().Equal(messages.MessageTypeError, errMessage.MessageType)
	var content messages.MessageError
	suite.Require().NoError(json.Unmarshal(errMessage.Content, &content))
	suite.Equal(string(errors.KindForbiddenMessage), content.Kind)
	suite.Empty(suite.gk.Online())
	// Hello still possible.
	suite.hello()
}

func (suite *NetGatekeeperSuite) TestRegisterFails() {
	suite.store.On("RegisterUser", mock.Anything, "u", "").
		Return(store.User{}, false, errors.NewInternalError("sad life", nil)).Once()
	suite.send(messages.MessageTypeHello, messages.MessageHello{UserID: "u"})
	errMessage := suite.receive()
	suite.Equal(messages.MessageTypeError, errMessage.MessageType)
	suite.Empty(suite.gk.Online())
}

func (suite *NetGatekeeperSuite) TestAssignsUserID() {
	suite.store.On("RegisterUser", mock.Anything, mock.AnythingOfType("string"), "").
		Return(store.User{}, true, nil).Once()
	suite.send(messages.MessageTypeHello, nil)
	welcome := suite.receive()
	suite.Require().Equal(messages.MessageTypeWelcome, welcome.MessageType)
	var content messages.MessageWelcome
	suite.Require().NoError(json.Unmarshal(welcome.Content, &content))
	suite.NotEmpty(content.UserID)
	suite.Equal(content.UserID, welcome.UserID)
}

func (suite *NetGatekeeperSuite) TestForwardsCommands() {
	suite.hello()
	suite.send(messages.MessageTypeJoinTeam, messages.MessageJoinTeam{TeamID: 2})
	suite.Equal(session.JoinTeam{User: "u", DisplayName: "Ursula", Team: 2}, suite.command())
	suite.send(messages.MessageTypeStartRevive, messages.MessageRevive{TargetID: "mate"})
	suite.Equal(session.StartRevive{Target: "mate", Reviver: "u"}, suite.command())
}

func (suite *NetGatekeeperSuite) TestUnknownMessage() {
	suite.hello()
	suite.send("meow", nil)
	errMessage := suite.receive()
	suite.Require().Equal(messages.MessageTypeError, errMessage.MessageType)
	suite.EqualValues("u", errMessage.UserID)
	var content messages.MessageError
	suite.Require().NoError(json.Unmarshal(errMessage.Content, &content))
	suite.Equal(string(errors.KindUnknownMessageType), content.Kind)
}

func (suite *NetGatekeeperSuite) TestPushesUpdates() {
	suite.hello()
	suite.session.push(session.Update{SessionID: "session", Tick: 6})
	update := suite.receive()
	suite.Require().Equal(messages.MessageTypeUpdate, update.MessageType)
	var content messages.MessageUpdate
	suite.Require().NoError(json.Unmarshal(update.Content, &content))
	suite.EqualValues(6, content.Tick)
	suite.False(content.Full)
}

func (suite *NetGatekeeperSuite) TestGoodbye() {
	suite.hello()
	suite.gk.SayGoodbyeToClient(suite.ctx, suite.client)
	suite.Equal(session.DespawnPlayer{User: "u"}, suite.command())
	suite.Equal(session.LeaveTeam{User: "u"}, suite.command())
	suite.Empty(suite.gk.Online())
	suite.Equal(0, suite.session.sinkCount())
	suite.store.AssertCalled(suite.T(), "UpdateUserLastSeen", mock.Anything, "u")
}

func (suite *NetGatekeeperSuite) TestGoodbyeWithoutHandshake() {
	suite.gk.SayGoodbyeToClient(suite.ctx, suite.client)
	suite.waitAcceptDone()
	suite.Empty(suite.session.commands)
	suite.store.AssertNotCalled(suite.T(), "UpdateUserLastSeen", mock.Anything, mock.Anything)
}

// waitAcceptDone waits for AcceptClient to return.
func (suite *NetGatekeeperSuite) waitAcceptDone() {
	select {
	case <-suite.ctx.Done():
		suite.FailNow("timeout", "wait for accept to return")
	case <-suite.done:
	}
}

func (suite *NetGatekeeperSuite) TestGoodbyeDuringRegistration() {
	registering := make(chan struct{})
	release := make(chan struct{})
	suite.store.On("RegisterUser", mock.Anything, "u", "").
		Run(func(_ mock.Arguments) {
			close(registering)
			<-release
		}).
		Return(store.User{ID: "u"}, true, nil).Once()
	suite.send(messages.MessageTypeHello, messages.MessageHello{UserID: "u"})
	<-registering
	suite.gk.SayGoodbyeToClient(suite.ctx, suite.client)
	close(release)
	suite.waitAcceptDone()
	suite.Empty(suite.gk.Online(), "player should not be added after goodbye")
	suite.Empty(suite.session.commands, "player should not be spawned after goodbye")
	suite.Equal(0, suite.session.sinkCount())
}

func (suite *NetGatekeeperSuite) TestGoodbyeWaitsForWelcome() {
	// Unbuffered so that the spawn blocks until read.
	suite.session.commands = make(chan session.Command)
	suite.store.On("RegisterUser", mock.Anything, "u", "").
		Return(store.User{ID: "u"}, true, nil).Once()
	suite.send(messages.MessageTypeHello, messages.MessageHello{UserID: "u"})
	welcome := suite.receive()
	suite.Require().Equal(messages.MessageTypeWelcome, welcome.MessageType)
	goodbyeDone := make(chan struct{})
	go func() {
		defer close(goodbyeDone)
		suite.gk.SayGoodbyeToClient(suite.ctx, suite.client)
	}()
	suite.Equal(session.SpawnPlayer{User: "u"}, suite.command())
	suite.Equal(session.DespawnPlayer{User: "u"}, suite.command())
	suite.Equal(session.LeaveTeam{User: "u"}, suite.command())
	select {
	case <-suite.ctx.Done():
		suite.FailNow("timeout", "wait for goodbye")
	case <-goodbyeDone:
	}
	suite.Empty(suite.gk.Online())
	suite.Equal(0, suite.session.sinkCount())
}

func (suite *NetGatekeeperSuite) TestGoodbyeWithFullInbox() {
	suite.session.commands = make(chan session.Command, 1)
	suite.hello()
	// Fill the inbox.
	suite.session.commands <- session.SetReady{User: "other", Ready: true}
	goodbyeDone := make(chan struct{})
	go func() {
		defer close(goodbyeDone)
		suite.gk.SayGoodbyeToClient(suite.ctx, suite.client)
	}()
	suite.Equal(session.SetReady{User: "other", Ready: true}, suite.command())
	suite.Equal(session.DespawnPlayer{User: "u"}, suite.command(), "despawn should not be dropped")
	suite.Equal(session.LeaveTeam{User: "u"}, suite.command(), "leave should not be dropped")
	select {
	case <-suite.ctx.Done():
		suite.FailNow("timeout", "wait for goodbye")
	case <-goodbyeDone:
	}
}

func (suite *NetGatekeeperSuite) TestInteractionWithoutArbiterIgnored() {
	suite.hello()
	suite.send(messages.MessageTypeInteractHold, nil)
	suite.send(messages.MessageTypeLeaveTeam, nil)
	suite.Equal(session.LeaveTeam{User: "u"}, suite.command(), "interaction should not be forwarded")
}

func (suite *NetGatekeeperSuite) TestDuplicateUser() {
	suite.hello()
	other := client.New("c2", 16)
	otherDone := make(chan struct{})
	go func() {
		defer close(otherDone)
		suite.gk.AcceptClient(suite.ctx, other)
	}()
	raw, err := messages.Marshal(messages.MessageTypeHello, "", messages.MessageHello{UserID: "u"})
	suite.Require().NoError(err)
	other.Receive <- raw
	select {
	case <-suite.ctx.Done():
		suite.FailNow("timeout", "wait for error")
	case raw := <-other.Send:
		container, err := messages.ParseContainer(raw)
		suite.Require().NoError(err)
		suite.Equal(messages.MessageTypeError, container.MessageType)
	}
	suite.cancel()
	<-otherDone
}

func TestNetGatekeeper(t *testing.T) {
	suite.Run(t, new(NetGatekeeperSuite))
}

// NetGatekeeperSessionSuite tests NetGatekeeper with a running session where
// player "r" was welcomed as teammate of the downed player "p".
type NetGatekeeperSessionSuite struct {
	suite.Suite
	ctx         context.Context
	cancel      context.CancelFunc
	world       *world.World
	coordinator *session.Coordinator
	store       *storeMock
	gk          *NetGatekeeper
	client      *client.Client
	wg          sync.WaitGroup
}

func (suite *NetGatekeeperSessionSuite) SetupTest() {
	suite.ctx, suite.cancel = context.WithTimeout(context.Background(), timeout)
	logger := zap.NewNop()
	suite.world = world.NewWorld(logger, 0, nil)
	sessionConfig := session.DefaultConfig()
	sessionConfig.TickRate = 50
	sessionConfig.BroadcastEvery = 1
	sessionConfig.Mode = team.ModeDuo
	suite.coordinator = session.NewCoordinator(logger, sessionConfig, suite.world)
	interactionConfig := interaction.DefaultConfig()
	interactionConfig.PollInterval = 10 * time.Millisecond
	suite.store = &storeMock{}
	suite.store.On("RegisterUser", mock.Anything, "r", "Rob").
		Return(store.User{ID: "r", DisplayName: nulls.NewString("Rob")}, true, nil).Once()
	suite.store.On("UpdateUserLastSeen", mock.Anything, mock.Anything).Return(nil).Maybe()
	suite.gk = NewNetGatekeeper(logger, suite.store, suite.coordinator, Interactions{
		Config:    interactionConfig,
		Forwarder: suite.coordinator,
		Scanner:   suite.world,
	})
	suite.client = client.New("c1", 256)
	suite.wg.Add(2)
	go func() {
		defer suite.wg.Done()
		_ = suite.coordinator.Run(suite.ctx)
	}()
	go func() {
		defer suite.wg.Done()
		suite.gk.AcceptClient(suite.ctx, suite.client)
	}()
	suite.Require().NoError(suite.coordinator.Submit(suite.ctx, session.SpawnPlayer{User: "p", Position: world.Vec3{X: 1}}))
	suite.Require().NoError(suite.coordinator.Submit(suite.ctx, session.JoinTeam{User: "p", DisplayName: "Pat"}))
	suite.send(messages.MessageTypeHello, messages.MessageHello{UserID: "r", DisplayName: "Rob"})
	suite.send(messages.MessageTypeJoinTeam, messages.MessageJoinTeam{TeamID: 1})
	suite.Require().Eventually(func() bool {
		return suite.coordinator.AreTeammates("p", "r")
	}, timeout, 5*time.Millisecond)
	suite.Require().NoError(suite.coordinator.Submit(suite.ctx, session.DownPlayer{User: "p"}))
	suite.Require().Eventually(func() bool {
		return suite.coordinator.IsDown("p")
	}, timeout, 5*time.Millisecond)
}

func (suite *NetGatekeeperSessionSuite) TearDownTest() {
	suite.gk.SayGoodbyeToClient(suite.ctx, suite.client)
	suite.cancel()
	suite.wg.Wait()
}

func (suite *NetGatekeeperSessionSuite) send(messageType messages.MessageType, content interface{}) {
	raw, err := messages.Marshal(messageType, "", content)
	suite.Require().NoError(err)
	select {
	case <-suite.ctx.Done():
		suite.FailNow("timeout", "send message")
	case suite.client.Receive <- raw:
	}
}

// holdUntilReviving holds the interaction input until r revives p.
func (suite *NetGatekeeperSessionSuite) holdUntilReviving() {
	suite.send(messages.MessageTypeInteractHold, nil)
	suite.Require().Eventually(func() bool {
		reviver, ok := suite.coordinator.Reviver("p")
		return ok && reviver == "r"
	}, timeout, 5*time.Millisecond)
}

func (suite *NetGatekeeperSessionSuite) TestHoldStartsRevive() {
	suite.holdUntilReviving()
	suite.True(suite.coordinator.IsDown("p"))
}

func (suite *NetGatekeeperSessionSuite) TestReviverWalkingAwayCancelsRevive() {
	suite.holdUntilReviving()
	suite.send(messages.MessageTypeMove, messages.MessageMove{Position: world.Vec3{X: 500}})
	suite.Eventually(func() bool {
		return !suite.coordinator.IsBeingRevived("p")
	}, timeout, 5*time.Millisecond)
	suite.True(suite.coordinator.IsDown("p"), "revive should not complete")
}

func (suite *NetGatekeeperSessionSuite) TestReleaseCancelsRevive() {
	suite.holdUntilReviving()
	suite.send(messages.MessageTypeInteractRelease, nil)
	suite.Eventually(func() bool {
		return !suite.coordinator.IsBeingRevived("p")
	}, timeout, 5*time.Millisecond)
	suite.True(suite.coordinator.IsDown("p"), "revive should not complete")
}

func TestNetGatekeeperSession(t *testing.T) {
	suite.Run(t, new(NetGatekeeperSessionSuite))
}

func TestPlayerSinkHoldsBackUntilSynced(t *testing.T) {
	c := client.New("c", 8)
	sink := newPlayerSink(zap.NewNop(), "u", c)
	sink.PushUpdate(session.Update{Tick: 3})
	sink.PushUpdate(session.Update{Tick: 5})
	if len(c.Send) != 0 {
		t.Fatalf("expected no sent updates before sync but got %d", len(c.Send))
	}
	sink.sync(session.Update{Tick: 4, Full: true})
	ticks := make([]uint64, 0)
	for len(c.Send) > 0 {
		container, err := messages.ParseContainer(<-c.Send)
		if err != nil {
			t.Fatal(err)
		}
		var u messages.MessageUpdate
		if err = json.Unmarshal(container.Content, &u); err != nil {
			t.Fatal(err)
		}
		ticks = append(ticks, u.Tick)
	}
	if len(ticks) != 2 || ticks[0] != 4 || ticks[1] != 5 {
		t.Fatalf("expected ticks [4 5] but got %v", ticks)
	}
}

func TestPlayerSinkRequestsResync(t *testing.T) {
	c := client.New("c", 1)
	sink := newPlayerSink(zap.NewNop(), "u", c)
	sink.sync(session.Update{Tick: 1, Full: true})
	sink.PushUpdate(session.Update{Tick: 2})
	select {
	case <-sink.resync:
	default:
		t.Fatal("expected resync request")
	}
}

func TestPlayerSinkFeedsMirror(t *testing.T) {
	c := client.New("c", 1)
	sink := newPlayerSink(zap.NewNop(), "u", c)
	mirror := &updateRecorder{}
	sink.mirror = mirror
	sink.PushUpdate(session.Update{Tick: 2})
	sink.sync(session.Update{Tick: 1, Full: true})
	// Client buffer is full now.
	sink.PushUpdate(session.Update{Tick: 3})
	ticks := make([]uint64, 0)
	for _, u := range mirror.updates {
		ticks = append(ticks, u.Tick)
	}
	if len(ticks) != 3 || ticks[0] != 1 || ticks[1] != 2 || ticks[2] != 3 {
		t.Fatalf("expected mirrored ticks [1 2 3] but got %v", ticks)
	}
}

// updateRecorder records pushed updates.
type updateRecorder struct {
	updates []session.Update
}

func (r *updateRecorder) PushUpdate(u session.Update) {
	r.updates = append(r.updates, u)
}
