package session

import (
	"github.com/lefinal/royale-server/event"
	"github.com/lefinal/royale-server/revive"
	"github.com/lefinal/royale-server/slots"
	"github.com/lefinal/royale-server/team"
	"go.uber.org/zap"
	"sync"
)

// Forwarder delivers commands to the Coordinator. Forwarding is one-way and
// must not block.
type Forwarder interface {
	Forward(cmd Command)
}

// Participant is the role-independent view of a session. It is implemented by
// Coordinator and Replica.
type Participant interface {
	team.Directory
	revive.View
	RequestStartRevive(target team.UserID, reviver team.UserID)
	RequestCancelRevive(target team.UserID, by team.UserID)
}

var (
	_ Participant = (*Coordinator)(nil)
	_ Participant = (*Replica)(nil)
)

// Replica is the read-only mirror of a session held by observers. It never
// mutates canonical state but forwards requests. Safe for concurrent use.
type Replica struct {
	logger  *zap.Logger
	local   team.UserID
	forward Forwarder
	// listeners receive replicated notifications.
	listeners event.Fanout
	// m locks all following fields.
	m         sync.RWMutex
	sessionID string
	synced    bool
	lastTick  uint64
	host      team.UserID
	view      team.TableView
	statuses  revive.StatusSet
}

// NewReplica creates a Replica for the given local user that forwards requests
// using the given Forwarder.
func NewReplica(logger *zap.Logger, local team.UserID, forward Forwarder) *Replica {
	return &Replica{
		logger:   logger,
		local:    local,
		forward:  forward,
		view:     team.TableView{Table: slots.NewTable(1, team.MaxTeamSize)},
		statuses: revive.StatusSet{},
	}
}

// Local returns the local user.
func (r *Replica) Local() team.UserID {
	return r.local
}

// AddListener adds a Notifier for replicated notifications.
func (r *Replica) AddListener(notifier event.Notifier) {
	r.listeners.Add(notifier)
}

// Synced describes whether a full update was applied.
func (r *Replica) Synced() bool {
	r.m.RLock()
	defer r.m.RUnlock()
	return r.synced
}

// LastTick returns the tick of the last applied update.
func (r *Replica) LastTick() uint64 {
	r.m.RLock()
	defer r.m.RUnlock()
	return r.lastTick
}

// Host returns the user allowed to change the team mode.
func (r *Replica) Host() team.UserID {
	r.m.RLock()
	defer r.m.RUnlock()
	return r.host
}

// PushUpdate implements UpdateSink by applying the update.
func (r *Replica) PushUpdate(u Update) {
	r.Apply(u)
}

// Apply applies the given Update. Incremental updates before the first full
// one, stale updates and updates of another session are dropped. It reports
// whether the update was applied.
func (r *Replica) Apply(u Update) bool {
	r.m.Lock()
	if !u.Full {
		if !r.synced || u.SessionID != r.sessionID {
			r.m.Unlock()
			r.logger.Debug("dropping update without prior full sync",
				zap.String("session_id", u.SessionID),
				zap.Uint64("tick", u.Tick))
			return false
		}
	}
	if r.synced && u.SessionID == r.sessionID && u.Tick < r.lastTick {
		r.m.Unlock()
		r.logger.Debug("dropping stale update",
			zap.Uint64("tick", u.Tick),
			zap.Uint64("last_tick", r.lastTick))
		return false
	}
	if u.Full {
		if u.Snapshot == nil {
			r.m.Unlock()
			r.logger.Warn("dropping full update without snapshot", zap.Uint64("tick", u.Tick))
			return false
		}
		if err := r.view.Table.ApplySnapshot(*u.Snapshot); err != nil {
			r.m.Unlock()
			r.logger.Warn("apply snapshot failed", zap.Error(err))
			return false
		}
		r.sessionID = u.SessionID
		r.synced = true
	}
	for _, rangeUpdate := range u.Ranges {
		if err := r.view.Table.Apply(rangeUpdate); err != nil {
			r.logger.Warn("apply range update failed", zap.Error(err), zap.Int("team_id", rangeUpdate.TeamID))
		}
	}
	r.view.CurrentMode = team.Mode(u.Mode)
	r.host = team.UserID(u.Host)
	r.statuses = revive.NewStatusSet(u.Revives)
	r.lastTick = u.Tick
	r.m.Unlock()
	for _, n := range u.Notifications {
		r.listeners.Notify(n)
	}
	return true
}

// Mode returns the replicated team mode.
func (r *Replica) Mode() team.Mode {
	r.m.RLock()
	defer r.m.RUnlock()
	return r.view.Mode()
}

// PlayerTeam returns the team of the given user.
func (r *Replica) PlayerTeam(user team.UserID) (team.TeamID, bool) {
	r.m.RLock()
	defer r.m.RUnlock()
	return r.view.PlayerTeam(user)
}

// TeamMembers returns the members of the given team.
func (r *Replica) TeamMembers(teamID team.TeamID) []team.UserID {
	r.m.RLock()
	defer r.m.RUnlock()
	return r.view.TeamMembers(teamID)
}

// AreTeammates describes whether both users are in the same team. Stale
// replicas may answer false for recent joins.
func (r *Replica) AreTeammates(a team.UserID, b team.UserID) bool {
	r.m.RLock()
	defer r.m.RUnlock()
	return r.view.AreTeammates(a, b)
}

// IsTeamReady describes whether all members of the team are ready.
func (r *Replica) IsTeamReady(teamID team.TeamID) bool {
	r.m.RLock()
	defer r.m.RUnlock()
	return r.view.IsTeamReady(teamID)
}

// IsAlive returns the replicated statistics-alive flag.
func (r *Replica) IsAlive(user team.UserID) bool {
	r.m.RLock()
	defer r.m.RUnlock()
	return r.view.IsAlive(user)
}

// Leader returns the leader of the given team.
func (r *Replica) Leader(teamID team.TeamID) (team.UserID, bool) {
	r.m.RLock()
	defer r.m.RUnlock()
	return r.view.Leader(teamID)
}

// IsDown describes whether the player is downed.
func (r *Replica) IsDown(player team.UserID) bool {
	r.m.RLock()
	defer r.m.RUnlock()
	return r.statuses.IsDown(player)
}

// IsBeingRevived describes whether a revive on the player is in progress.
func (r *Replica) IsBeingRevived(player team.UserID) bool {
	r.m.RLock()
	defer r.m.RUnlock()
	return r.statuses.IsBeingRevived(player)
}

// Reviver returns the current reviver of the player.
func (r *Replica) Reviver(player team.UserID) (team.UserID, bool) {
	r.m.RLock()
	defer r.m.RUnlock()
	return r.statuses.Reviver(player)
}

// ReviveProgress returns the elapsed fraction of the current revive.
func (r *Replica) ReviveProgress(player team.UserID) float64 {
	r.m.RLock()
	defer r.m.RUnlock()
	return r.statuses.ReviveProgress(player)
}

// BleedOutProgress returns the elapsed fraction of the bleed-out countdown.
func (r *Replica) BleedOutProgress(player team.UserID) float64 {
	r.m.RLock()
	defer r.m.RUnlock()
	return r.statuses.BleedOutProgress(player)
}

func (r *Replica) send(cmd Command) {
	if r.forward == nil {
		r.logger.Debug("dropping request without forwarder", zap.Any("cmd", cmd))
		return
	}
	r.forward.Forward(cmd)
}

// RequestJoinTeam requests joining the given team or creating a new one with
// team.NoTeam.
func (r *Replica) RequestJoinTeam(displayName string, teamID team.TeamID) {
	r.send(JoinTeam{User: r.local, DisplayName: displayName, Team: teamID})
}

// RequestLeaveTeam requests leaving the current team.
func (r *Replica) RequestLeaveTeam() {
	r.send(LeaveTeam{User: r.local})
}

// RequestSetReady requests setting the ready flag.
func (r *Replica) RequestSetReady(ready bool) {
	r.send(SetReady{User: r.local, Ready: ready})
}

// RequestSetTeamMode requests changing the team mode. Rejected by the
// authority unless the local user is host.
func (r *Replica) RequestSetTeamMode(mode team.Mode) {
	r.send(SetTeamMode{By: r.local, Mode: mode})
}

// RequestStartRevive requests starting a revive.
func (r *Replica) RequestStartRevive(target team.UserID, reviver team.UserID) {
	r.send(StartRevive{Target: target, Reviver: reviver})
}

// RequestCancelRevive requests cancelling a revive.
func (r *Replica) RequestCancelRevive(target team.UserID, by team.UserID) {
	r.send(CancelRevive{Target: target, By: by})
}
