// Package elimination decides whether a whole team was removed from play.
package elimination

import (
	"github.com/lefinal/royale-server/event"
	"github.com/lefinal/royale-server/team"
	"go.uber.org/zap"
)

// Directory is the part of team.Directory needed for elimination checks.
type Directory interface {
	PlayerTeam(user team.UserID) (team.TeamID, bool)
	TeamMembers(teamID team.TeamID) []team.UserID
	IsAlive(user team.UserID) bool
}

// Aggregator reacts to downed and bled-out notifications. It holds no state
// besides its collaborators. Repeated eliminations of the same team are emitted
// again and must be deduplicated by consumers.
type Aggregator struct {
	logger    *zap.Logger
	directory Directory
	notifier  event.Notifier
}

// NewAggregator creates a new Aggregator that emits team-eliminated
// notifications to the given notifier.
func NewAggregator(logger *zap.Logger, directory Directory, notifier event.Notifier) *Aggregator {
	return &Aggregator{
		logger:    logger,
		directory: directory,
		notifier:  notifier,
	}
}

// Notify implements event.Notifier.
func (a *Aggregator) Notify(n event.Notification) {
	var player string
	switch p := n.Payload.(type) {
	case event.PlayerDownedEvent:
		player = p.PlayerID
	case event.BledOutEvent:
		player = p.PlayerID
	default:
		return
	}
	a.Check(team.UserID(player), n.Tick)
}

// Check checks the team of the given player and emits a team-eliminated
// notification if no member is alive anymore. It reports whether the team was
// eliminated.
func (a *Aggregator) Check(player team.UserID, tick uint64) bool {
	if a.directory == nil {
		return false
	}
	teamID, ok := a.directory.PlayerTeam(player)
	if !ok {
		a.logger.Debug("ignoring elimination check for player without team", zap.Any("player", player))
		return false
	}
	members := a.directory.TeamMembers(teamID)
	if len(members) == 0 {
		return false
	}
	for _, member := range members {
		if a.directory.IsAlive(member) {
			return false
		}
	}
	memberIDs := make([]string, 0, len(members))
	for _, member := range members {
		memberIDs = append(memberIDs, string(member))
	}
	a.logger.Info("team eliminated", zap.Any("team", teamID), zap.Strings("members", memberIDs))
	if a.notifier != nil {
		a.notifier.Notify(event.Notification{
			Type: event.TypeTeamEliminated,
			Tick: tick,
			Payload: event.TeamEliminatedEvent{
				TeamID:  int(teamID),
				Members: memberIDs,
			},
		})
	}
	return true
}
