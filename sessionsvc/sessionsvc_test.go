package sessionsvc

import (
	"context"
	"encoding/json"
	"github.com/lefinal/royale-server/event"
	"github.com/lefinal/royale-server/portal"
	"github.com/lefinal/royale-server/session"
	"github.com/lefinal/royale-server/team"
	"github.com/lefinal/royale-server/world"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"testing"
	"time"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type SessionServiceSuite struct {
	suite.Suite
	ctx         context.Context
	cancel      context.CancelFunc
	loopback    *portal.Loopback
	coordinator *session.Coordinator
	serviceDone chan error
}

func (suite *SessionServiceSuite) SetupTest() {
	suite.ctx, suite.cancel = context.WithCancel(context.Background())
	logger := zap.New(zapcore.NewNopCore())
	config := session.DefaultConfig()
	config.TickRate = 100
	config.BroadcastEvery = 1
	suite.coordinator = session.NewCoordinator(logger, config, world.NewWorld(logger, 0, nil))
	suite.loopback = portal.NewLoopback()
	s := New(logger, suite.loopback, suite.coordinator)
	go func() {
		_ = suite.coordinator.Run(suite.ctx)
	}()
	suite.serviceDone = make(chan error)
	go func() {
		suite.serviceDone <- s.Run(suite.ctx)
	}()
	// Wait for all subscriptions.
	suite.Eventually(func() bool {
		return suite.loopback.Subscribers(topicSetTeamMode) == 1 &&
			suite.loopback.Subscribers(topicDownPlayer) == 1 &&
			suite.loopback.Subscribers(topicDamage) == 1 &&
			suite.loopback.Subscribers(topicStatsRequest) == 1
	}, waitFor, tick, "should subscribe")
}

func (suite *SessionServiceSuite) TearDownTest() {
	suite.cancel()
	select {
	case err := <-suite.serviceDone:
		suite.NoError(err, "should shut down without error")
	case <-time.After(waitFor):
		suite.Fail("timeout", "service did not shut down")
	}
}

func (suite *SessionServiceSuite) spawn(user team.UserID) {
	suite.Require().NoError(suite.coordinator.Submit(suite.ctx, session.SpawnPlayer{User: user}))
	suite.Require().NoError(suite.coordinator.Submit(suite.ctx, session.JoinTeam{User: user, DisplayName: string(user)}))
	suite.Eventually(func() bool {
		_, ok := suite.coordinator.ReviveStatus(user)
		return ok
	}, waitFor, tick, "should spawn player")
}

func (suite *SessionServiceSuite) TestSetTeamMode() {
	suite.loopback.Publish(suite.ctx, topicSetTeamMode, event.SetTeamModeEvent{Mode: int(team.ModeSolo)})
	suite.Eventually(func() bool {
		return suite.coordinator.Mode() == team.ModeSolo
	}, waitFor, tick, "should set team mode")
	suite.Eventually(func() bool {
		return len(suite.loopback.Published(NotificationTopic(event.TypeTeamModeChanged))) == 1
	}, waitFor, tick, "should publish notification")
	var n struct {
		Type    event.Type                 `json:"type"`
		Payload event.TeamModeChangedEvent `json:"payload"`
	}
	suite.Require().NoError(json.Unmarshal(suite.loopback.Published(NotificationTopic(event.TypeTeamModeChanged))[0].Payload, &n))
	suite.Equal(event.TypeTeamModeChanged, n.Type, "should publish correct type")
	suite.Equal(int(team.ModeSolo), n.Payload.Mode, "should publish new mode")
}

func (suite *SessionServiceSuite) TestSetTeamModeInvalid() {
	suite.loopback.Publish(suite.ctx, topicSetTeamMode, event.SetTeamModeEvent{Mode: 3})
	suite.Eventually(func() bool {
		return len(suite.loopback.Published(topicError)) == 1
	}, waitFor, tick, "should publish error")
	suite.Equal(team.ModeSquad, suite.coordinator.Mode(), "should not change mode")
}

func (suite *SessionServiceSuite) TestDownPlayer() {
	suite.spawn("p1")
	suite.loopback.Publish(suite.ctx, topicDownPlayer, event.DownPlayerEvent{PlayerID: "p1"})
	suite.Eventually(func() bool {
		return suite.coordinator.IsDown("p1")
	}, waitFor, tick, "should down player")
	suite.Eventually(func() bool {
		return len(suite.loopback.Published(NotificationTopic(event.TypePlayerDowned))) == 1
	}, waitFor, tick, "should publish downed notification")
}

func (suite *SessionServiceSuite) TestDownPlayerMissingID() {
	suite.loopback.Publish(suite.ctx, topicDownPlayer, event.DownPlayerEvent{})
	suite.Eventually(func() bool {
		return len(suite.loopback.Published(topicError)) == 1
	}, waitFor, tick, "should publish error")
}

func (suite *SessionServiceSuite) TestDamageDepletes() {
	suite.spawn("p1")
	suite.loopback.Publish(suite.ctx, topicDamage, event.DamageReportEvent{
		TargetID: "p1",
		SourceID: "p2",
		Amount:   world.DefaultMaxHealth,
	})
	suite.Eventually(func() bool {
		return suite.coordinator.IsDown("p1")
	}, waitFor, tick, "should down player after depleting health")
}

func (suite *SessionServiceSuite) TestDamageInvalidAmount() {
	suite.spawn("p1")
	suite.loopback.Publish(suite.ctx, topicDamage, event.DamageReportEvent{TargetID: "p1", Amount: -1})
	suite.Eventually(func() bool {
		return len(suite.loopback.Published(topicError)) == 1
	}, waitFor, tick, "should publish error")
	suite.False(suite.coordinator.IsDown("p1"), "should not down player")
}

func (suite *SessionServiceSuite) TestStats() {
	suite.spawn("p1")
	suite.loopback.Publish(suite.ctx, topicStatsRequest, event.EmptyEvent{})
	suite.Eventually(func() bool {
		return len(suite.loopback.Published(topicStats)) == 1
	}, waitFor, tick, "should publish stats")
	var got StatsEvent
	suite.Require().NoError(json.Unmarshal(suite.loopback.Published(topicStats)[0].Payload, &got))
	suite.Equal(suite.coordinator.ID(), got.SessionID, "should include session id")
	suite.Equal(1, got.Stats.Players, "should include players")
}

func TestSessionService(t *testing.T) {
	suite.Run(t, new(SessionServiceSuite))
}
