package elimination

import (
	"github.com/lefinal/royale-server/event"
	"github.com/lefinal/royale-server/team"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"testing"
)

// AggregatorSuite tests Aggregator with a real team.Registry.
type AggregatorSuite struct {
	suite.Suite
	registry      *team.Registry
	notifications *event.Recorder
	aggregator    *Aggregator
}

func (suite *AggregatorSuite) SetupTest() {
	logger := zap.New(zapcore.NewNopCore())
	suite.registry = team.NewRegistry(logger, nil, team.ModeSquad, 8)
	suite.registry.CreateOrJoinTeam("a", "", team.NoTeam)
	suite.registry.CreateOrJoinTeam("b", "", 1)
	suite.registry.CreateOrJoinTeam("c", "", team.NoTeam)
	suite.notifications = &event.Recorder{}
	suite.aggregator = NewAggregator(logger, suite.registry, suite.notifications)
}

func (suite *AggregatorSuite) TestMemberStillAlive() {
	suite.registry.SetAlive("a", false)
	suite.aggregator.Notify(event.Notification{
		Type:    event.TypePlayerDowned,
		Payload: event.PlayerDownedEvent{PlayerID: "a"},
	})
	suite.Empty(suite.notifications.All())
}

// TestLastMemberBledOut checks that the team is eliminated once the last alive
// member bled out.
func (suite *AggregatorSuite) TestLastMemberBledOut() {
	suite.registry.SetAlive("a", false)
	suite.registry.SetAlive("b", false)
	suite.aggregator.Notify(event.Notification{
		Type:    event.TypeBledOut,
		Tick:    42,
		Payload: event.BledOutEvent{PlayerID: "b"},
	})
	eliminated := suite.notifications.OfType(event.TypeTeamEliminated)
	suite.Require().Len(eliminated, 1)
	suite.Equal(uint64(42), eliminated[0].Tick)
	suite.Equal(event.TeamEliminatedEvent{TeamID: 1, Members: []string{"a", "b"}}, eliminated[0].Payload)
}

func (suite *AggregatorSuite) TestSoloTeam() {
	suite.registry.SetAlive("c", false)
	suite.True(suite.aggregator.Check("c", 0))
}

func (suite *AggregatorSuite) TestIgnoresOtherNotifications() {
	suite.registry.SetAlive("c", false)
	suite.aggregator.Notify(event.Notification{
		Type:    event.TypeReviveStarted,
		Payload: event.ReviveEvent{PlayerID: "c", ReviverID: "x"},
	})
	suite.Empty(suite.notifications.All())
}

func (suite *AggregatorSuite) TestPlayerWithoutTeam() {
	suite.False(suite.aggregator.Check("ghost", 0))
}

func (suite *AggregatorSuite) TestMissingDirectory() {
	a := NewAggregator(zap.New(zapcore.NewNopCore()), nil, suite.notifications)
	suite.False(a.Check("a", 0))
}

func TestAggregator(t *testing.T) {
	suite.Run(t, new(AggregatorSuite))
}
