package revive

import (
	"fmt"
	"github.com/lefinal/royale-server/errors"
	"github.com/lefinal/royale-server/event"
	"github.com/lefinal/royale-server/team"
	"go.uber.org/zap"
	"sort"
	"time"
)

// Machine owns the Record of every spawned player and evaluates transitions.
// It is not safe for concurrent use and must only be driven by the
// coordinator.
type Machine struct {
	logger        *zap.Logger
	config        Config
	collaborators Collaborators
	// notifier receives downed and revive notifications. Optional.
	notifier event.Notifier
	records  map[team.UserID]*Record
}

// NewMachine creates a new Machine.
func NewMachine(logger *zap.Logger, config Config, collaborators Collaborators, notifier event.Notifier) *Machine {
	return &Machine{
		logger:        logger,
		config:        config,
		collaborators: collaborators,
		notifier:      notifier,
		records:       make(map[team.UserID]*Record),
	}
}

// Config returns the gameplay constants.
func (m *Machine) Config() Config {
	return m.config
}

func (m *Machine) notify(n event.Notification) {
	if m.notifier == nil {
		return
	}
	m.notifier.Notify(n)
}

func (m *Machine) setAlive(player team.UserID, alive bool) {
	if m.collaborators.Stats == nil {
		return
	}
	m.collaborators.Stats.SetAlive(player, alive)
}

func (m *Machine) setControls(player team.UserID, controls bool, loadout bool) {
	if m.collaborators.Controls == nil {
		return
	}
	m.collaborators.Controls.SetControlsEnabled(player, controls)
	m.collaborators.Controls.SetLoadoutEnabled(player, loadout)
}

// AddPlayer creates the Record for a spawned player. If the player already
// exists and bled out, it is reset to alive. It returns false if nothing
// changed.
func (m *Machine) AddPlayer(player team.UserID) bool {
	if player == team.NoUser {
		return false
	}
	if record, ok := m.records[player]; ok {
		if !record.BledOut {
			return false
		}
		m.logger.Debug("player respawned", zap.Any("player", player))
	} else {
		m.logger.Debug("player spawned", zap.Any("player", player))
	}
	m.records[player] = &Record{Player: player}
	m.setControls(player, true, true)
	m.setAlive(player, true)
	return true
}

// RemovePlayer removes the Record of a despawned player. Revives the player was
// performing are cancelled.
func (m *Machine) RemovePlayer(player team.UserID) bool {
	if _, ok := m.records[player]; !ok {
		return false
	}
	m.cancelRevivesBy(player)
	delete(m.records, player)
	m.logger.Debug("player despawned", zap.Any("player", player))
	return true
}

// EnterDownedState downs the given player. It has no effect for unknown, bled
// out or already downed players.
func (m *Machine) EnterDownedState(player team.UserID) bool {
	record, ok := m.records[player]
	if !ok {
		m.logger.Debug("ignoring down for unknown player", zap.Any("player", player))
		return false
	}
	if record.BledOut {
		m.logger.Debug("ignoring down for bled out player", zap.Any("player", player))
		return false
	}
	if record.IsDown {
		m.logger.Warn("player already down", zap.Any("player", player))
		return false
	}
	record.IsDown = true
	record.BleedOutTimer.Start(m.config.BleedOutDuration)
	record.Reviver = team.NoUser
	record.ReviveTimer.Stop()
	m.setControls(player, false, false)
	m.snapToGround(player)
	m.cancelRevivesBy(player)
	m.setAlive(player, false)
	m.logger.Info("player downed", zap.Any("player", player))
	m.notify(event.Notification{
		Type:    event.TypePlayerDowned,
		Payload: event.PlayerDownedEvent{PlayerID: string(player)},
	})
	return true
}

// snapToGround moves the player to the ground directly below if it is within
// snap distance.
func (m *Machine) snapToGround(player team.UserID) {
	if m.collaborators.Positions == nil || m.collaborators.Ground == nil {
		return
	}
	pos, ok := m.collaborators.Positions.Position(player)
	if !ok {
		return
	}
	ground, ok := m.collaborators.Ground.ProbeGround(pos, m.config.GroundSnapDistance)
	if !ok || ground == pos {
		return
	}
	m.collaborators.Positions.SetPosition(player, ground)
	m.logger.Debug("snapped downed player to ground",
		zap.Any("player", player),
		zap.Float64("drop", pos.Y-ground.Y))
}

// cancelRevivesBy cancels all revives performed by the given reviver.
func (m *Machine) cancelRevivesBy(reviver team.UserID) {
	targets := make([]team.UserID, 0)
	for target, record := range m.records {
		if record.Reviver == reviver {
			targets = append(targets, target)
		}
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i] < targets[j] })
	for _, target := range targets {
		m.CancelRevive(target, team.NoUser)
	}
}

// validateRevive checks whether the reviver may start reviving the target.
func (m *Machine) validateRevive(target team.UserID, reviver team.UserID) error {
	details := errors.Details{"target": target, "reviver": reviver}
	record, ok := m.records[target]
	if !ok {
		return errors.NewBadRequestErr(errors.KindUnknownPlayer, "unknown target", details)
	}
	if record.BledOut {
		return errors.NewBadRequestErr(errors.KindBledOut, "target bled out", details)
	}
	if !record.IsDown {
		return errors.NewBadRequestErr(errors.KindNotDown, "target not down", details)
	}
	if record.Reviver != team.NoUser {
		details["current_reviver"] = record.Reviver
		return errors.NewBadRequestErr(errors.KindAlreadyBeingRevived, "target already being revived", details)
	}
	return m.validateReviver(target, reviver, details)
}

// validateReviver checks whether the reviver is able to revive the target. It is
// checked when starting and on every tick of a revive in progress.
func (m *Machine) validateReviver(target team.UserID, reviver team.UserID, details errors.Details) error {
	if reviver == target {
		return errors.NewBadRequestErr(errors.KindSelfRevive, "cannot revive self", details)
	}
	reviverRecord, ok := m.records[reviver]
	if !ok {
		return errors.NewBadRequestErr(errors.KindUnknownPlayer, "unknown reviver", details)
	}
	if reviverRecord.IsDown || reviverRecord.BledOut {
		return errors.NewBadRequestErr(errors.KindReviverDown, "reviver is down", details)
	}
	if m.collaborators.Teams == nil {
		return errors.NewBadRequestErr(errors.KindMissingCollaborator, "no team directory", details)
	}
	if !m.collaborators.Teams.AreTeammates(target, reviver) {
		return errors.NewBadRequestErr(errors.KindNotTeammates, "not teammates", details)
	}
	if m.collaborators.Positions == nil {
		return errors.NewBadRequestErr(errors.KindMissingCollaborator, "no positions", details)
	}
	targetPos, ok := m.collaborators.Positions.Position(target)
	if !ok {
		return errors.NewBadRequestErr(errors.KindOutOfRange, "target position unknown", details)
	}
	reviverPos, ok := m.collaborators.Positions.Position(reviver)
	if !ok {
		return errors.NewBadRequestErr(errors.KindOutOfRange, "reviver position unknown", details)
	}
	if d := targetPos.Distance(reviverPos); d > m.config.InteractionDistance {
		details["distance"] = d
		details["max_distance"] = m.config.InteractionDistance
		return errors.NewBadRequestErr(errors.KindOutOfRange,
			fmt.Sprintf("reviver out of range (%.2f > %.2f)", d, m.config.InteractionDistance), details)
	}
	return nil
}

// StartRevive starts a revive of the target by the given reviver. The request
// is rejected without state change if the target is not down, already being
// revived, not a teammate of the reviver or out of interaction range.
func (m *Machine) StartRevive(target team.UserID, reviver team.UserID) bool {
	err := m.validateRevive(target, reviver)
	if err != nil {
		errors.Log(m.logger, errors.Wrap(err, "start revive rejected", nil))
		return false
	}
	record := m.records[target]
	record.Reviver = reviver
	record.ReviveTimer.Start(m.config.ReviveDuration)
	m.logger.Info("revive started", zap.Any("target", target), zap.Any("reviver", reviver))
	m.notify(event.Notification{
		Type: event.TypeReviveStarted,
		Payload: event.ReviveEvent{
			PlayerID:  string(target),
			ReviverID: string(reviver),
		},
	})
	return true
}

// CancelRevive cancels the revive in progress on the target. If by is set, the
// revive is only cancelled if by is the current reviver. Down state and
// bleed-out countdown are left untouched.
func (m *Machine) CancelRevive(target team.UserID, by team.UserID) bool {
	record, ok := m.records[target]
	if !ok || record.Reviver == team.NoUser {
		return false
	}
	if by != team.NoUser && by != record.Reviver {
		m.logger.Debug("ignoring revive cancel from non-reviver",
			zap.Any("target", target),
			zap.Any("reviver", record.Reviver),
			zap.Any("by", by))
		return false
	}
	reviver := record.Reviver
	record.Reviver = team.NoUser
	record.ReviveTimer.Stop()
	m.logger.Info("revive cancelled", zap.Any("target", target), zap.Any("reviver", reviver))
	m.notify(event.Notification{
		Type: event.TypeReviveCancelled,
		Payload: event.ReviveEvent{
			PlayerID:  string(target),
			ReviverID: string(reviver),
		},
	})
	return true
}

// Tick advances all countdowns by dt and evaluates transitions. Revives whose
// reviver left the team, moved out of range or went down are cancelled first.
// Bleed-out is evaluated before revive completion.
func (m *Machine) Tick(dt time.Duration) {
	for _, player := range m.players() {
		record, ok := m.records[player]
		if !ok || !record.IsDown {
			continue
		}
		if record.Reviver != team.NoUser {
			err := m.validateReviver(player, record.Reviver, errors.Details{"target": player, "reviver": record.Reviver})
			if err != nil {
				m.logger.Debug("revive no longer possible", zap.Error(err))
				m.CancelRevive(player, team.NoUser)
			}
		}
		bledOut := record.BleedOutTimer.Advance(dt)
		revived := record.Reviver != team.NoUser && record.ReviveTimer.Advance(dt)
		if bledOut {
			m.bleedOut(record)
		} else if revived {
			m.completeRevive(record)
		}
	}
}

func (m *Machine) bleedOut(record *Record) {
	player := record.Player
	reviver := record.Reviver
	record.IsDown = false
	record.Reviver = team.NoUser
	record.ReviveTimer.Stop()
	record.BleedOutTimer.Stop()
	record.BledOut = true
	if m.collaborators.Controls != nil {
		m.collaborators.Controls.SetControlsEnabled(player, true)
	}
	if m.collaborators.Health != nil {
		m.collaborators.Health.ApplyDamage(player, LethalDamage, team.NoUser)
	}
	m.setAlive(player, false)
	m.logger.Info("player bled out", zap.Any("player", player), zap.Any("lost_reviver", reviver))
	m.notify(event.Notification{
		Type:    event.TypeBledOut,
		Payload: event.BledOutEvent{PlayerID: string(player)},
	})
}

func (m *Machine) completeRevive(record *Record) {
	player := record.Player
	reviver := record.Reviver
	record.IsDown = false
	record.Reviver = team.NoUser
	record.ReviveTimer.Stop()
	record.BleedOutTimer.Stop()
	m.setControls(player, true, true)
	if m.collaborators.Health != nil {
		m.collaborators.Health.ApplyHeal(player, m.config.ReviveHeal, reviver)
	}
	m.setAlive(player, true)
	m.logger.Info("revive completed", zap.Any("player", player), zap.Any("reviver", reviver))
	m.notify(event.Notification{
		Type: event.TypeReviveCompleted,
		Payload: event.ReviveEvent{
			PlayerID:  string(player),
			ReviverID: string(reviver),
		},
	})
}

// players returns all players in stable order.
func (m *Machine) players() []team.UserID {
	players := make([]team.UserID, 0, len(m.records))
	for player := range m.records {
		players = append(players, player)
	}
	sort.Slice(players, func(i, j int) bool { return players[i] < players[j] })
	return players
}

// Record returns a copy of the Record of the given player.
func (m *Machine) Record(player team.UserID) (Record, bool) {
	record, ok := m.records[player]
	if !ok {
		return Record{}, false
	}
	return *record, true
}

// HasPlayer describes whether the player is spawned.
func (m *Machine) HasPlayer(player team.UserID) bool {
	_, ok := m.records[player]
	return ok
}

// State returns the lifecycle state of the player.
func (m *Machine) State(player team.UserID) (State, bool) {
	record, ok := m.records[player]
	if !ok {
		return StateAlive, false
	}
	return record.State(), true
}

// IsDown describes whether the player is downed.
func (m *Machine) IsDown(player team.UserID) bool {
	record, ok := m.records[player]
	return ok && record.IsDown
}

// IsBeingRevived describes whether a revive on the player is in progress.
func (m *Machine) IsBeingRevived(player team.UserID) bool {
	record, ok := m.records[player]
	return ok && record.Reviver != team.NoUser
}

// Reviver returns the current reviver of the player.
func (m *Machine) Reviver(player team.UserID) (team.UserID, bool) {
	record, ok := m.records[player]
	if !ok || record.Reviver == team.NoUser {
		return team.NoUser, false
	}
	return record.Reviver, true
}

// ReviveProgress returns the elapsed fraction of the current revive.
func (m *Machine) ReviveProgress(player team.UserID) float64 {
	record, ok := m.records[player]
	if !ok {
		return 0
	}
	return record.ReviveTimer.Progress()
}

// BleedOutProgress returns the elapsed fraction of the bleed-out countdown.
func (m *Machine) BleedOutProgress(player team.UserID) float64 {
	record, ok := m.records[player]
	if !ok {
		return 0
	}
	return record.BleedOutTimer.Progress()
}

// Statuses returns the Status of all players ordered by player.
func (m *Machine) Statuses() []Status {
	players := m.players()
	statuses := make([]Status, 0, len(players))
	for _, player := range players {
		statuses = append(statuses, StatusOf(*m.records[player]))
	}
	return statuses
}
