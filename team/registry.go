package team

import (
	"fmt"
	"github.com/lefinal/royale-server/errors"
	"github.com/lefinal/royale-server/event"
	"github.com/lefinal/royale-server/slots"
	"go.uber.org/zap"
	"sort"
	"sync"
)

// Registry owns the canonical team state and projects every change into the
// slot table. Only the coordinator mutates it. Notifications are emitted after
// the internal lock is released so that listeners may query the Registry.
type Registry struct {
	logger *zap.Logger
	// notifier receives team-mode, ready and slot notifications. Optional.
	notifier event.Notifier
	// m locks all following fields.
	m    sync.RWMutex
	mode Mode
	// lastTeamID is the last allocated team id.
	lastTeamID TeamID
	teams      map[TeamID]*Record
	teamByUser map[UserID]TeamID
	names      map[UserID]string
	ready      map[UserID]bool
	// dead holds users whose statistics-alive flag is false. Users are alive by
	// default.
	dead  map[UserID]struct{}
	table *slots.Table
}

// NewRegistry creates a Registry with the given mode and a slot table for the
// given number of teams.
func NewRegistry(logger *zap.Logger, notifier event.Notifier, mode Mode, maxTeams int) *Registry {
	if !mode.Valid() {
		mode = ModeSquad
	}
	return &Registry{
		logger:     logger,
		notifier:   notifier,
		mode:       mode,
		teams:      make(map[TeamID]*Record),
		teamByUser: make(map[UserID]TeamID),
		names:      make(map[UserID]string),
		ready:      make(map[UserID]bool),
		dead:       make(map[UserID]struct{}),
		table:      slots.NewTable(maxTeams, MaxTeamSize),
	}
}

// notify forwards the given notifications.
func (r *Registry) notify(notifications []event.Notification) {
	if r.notifier == nil {
		return
	}
	for _, n := range notifications {
		r.notifier.Notify(n)
	}
}

// SetTeamMode sets the capacity for teams. Existing teams are not resized.
func (r *Registry) SetTeamMode(mode Mode) error {
	if !mode.Valid() {
		return errors.NewBadRequestErr(errors.KindInvalidTeamMode, fmt.Sprintf("invalid team mode %d", mode),
			errors.Details{"mode": int(mode)})
	}
	r.m.Lock()
	if r.mode == mode {
		r.m.Unlock()
		return nil
	}
	r.mode = mode
	r.m.Unlock()
	r.logger.Info("team mode changed", zap.Stringer("mode", mode))
	r.notify([]event.Notification{{
		Type:    event.TypeTeamModeChanged,
		Payload: event.TeamModeChangedEvent{Mode: int(mode)},
	}})
	return nil
}

// Mode returns the current team mode.
func (r *Registry) Mode() Mode {
	r.m.RLock()
	defer r.m.RUnlock()
	return r.mode
}

// CreateOrJoinTeam adds the user to the requested team if it exists and has
// free capacity. If no team is requested or the requested one does not exist, a
// new team with the user as sole member and leader is created. A user that is
// already part of another team leaves it first. If the requested team is full,
// nothing changes and false is returned. The caller may retry with NoTeam in
// order to get a fresh team.
func (r *Registry) CreateOrJoinTeam(user UserID, displayName string, requested TeamID) (Record, bool) {
	if user == NoUser {
		return Record{}, false
	}
	r.m.Lock()
	record, ok, pending := r.createOrJoinTeam(user, displayName, requested)
	r.m.Unlock()
	r.notify(pending)
	return record, ok
}

func (r *Registry) createOrJoinTeam(user UserID, displayName string, requested TeamID) (Record, bool, []event.Notification) {
	pending := make([]event.Notification, 0, 2)
	nameChanged := false
	if displayName != "" && r.names[user] != displayName {
		r.names[user] = displayName
		nameChanged = true
	}
	current, hasCurrent := r.teamByUser[user]
	if requested != NoTeam {
		if target, ok := r.teams[requested]; ok {
			if hasCurrent && current == requested {
				// Duplicate join.
				if nameChanged {
					pending = append(pending, r.resync(requested)...)
				}
				return target.clone(), true, pending
			}
			if len(target.Members) >= r.mode.Capacity() {
				errors.Log(r.logger, errors.NewBadRequestErr(errors.KindTeamFull, "requested team is full",
					errors.Details{"user": user, "team": requested, "capacity": r.mode.Capacity()}))
				return Record{}, false, pending
			}
			if hasCurrent {
				pending = append(pending, r.leaveTeam(user)...)
			}
			target.Members = append(target.Members, user)
			pending = append(pending, r.resync(requested)...)
			r.teamByUser[user] = requested
			r.logger.Debug("user joined team", zap.Any("user", user), zap.Any("team", requested))
			return target.clone(), true, pending
		}
	}
	// Allocate a new team.
	nextID := r.lastTeamID + 1
	if int(nextID) > r.table.MaxTeams() {
		errors.Log(r.logger, errors.Error{
			Code:    errors.ErrInternal,
			Kind:    errors.KindSessionFull,
			Message: "no more team ids available in slot table",
			Details: errors.Details{"user": user, "max_teams": r.table.MaxTeams()},
		})
		return Record{}, false, pending
	}
	if hasCurrent {
		pending = append(pending, r.leaveTeam(user)...)
	}
	r.lastTeamID = nextID
	record := &Record{
		ID:      nextID,
		Members: []UserID{user},
		Leader:  user,
	}
	r.teams[nextID] = record
	r.teamByUser[user] = nextID
	pending = append(pending, r.resync(nextID)...)
	r.logger.Debug("user created team", zap.Any("user", user), zap.Any("team", nextID))
	return record.clone(), true, pending
}

// LeaveTeam removes the user from its team. If the user was the leader,
// leadership passes to the next member in join order. Empty teams are deleted.
// Unknown users are ignored and false is returned.
func (r *Registry) LeaveTeam(user UserID) bool {
	r.m.Lock()
	_, ok := r.teamByUser[user]
	var pending []event.Notification
	if ok {
		pending = r.leaveTeam(user)
	}
	r.m.Unlock()
	r.notify(pending)
	return ok
}

func (r *Registry) leaveTeam(user UserID) []event.Notification {
	teamID, ok := r.teamByUser[user]
	if !ok {
		return nil
	}
	delete(r.teamByUser, user)
	delete(r.ready, user)
	record, ok := r.teams[teamID]
	if !ok {
		errors.Log(r.logger, errors.NewInternalError("team for user not found", errors.Details{
			"user": user,
			"team": teamID,
		}))
		return nil
	}
	i := record.indexOf(user)
	if i >= 0 {
		record.Members = append(record.Members[:i], record.Members[i+1:]...)
	}
	if len(record.Members) == 0 {
		delete(r.teams, teamID)
		r.logger.Debug("team disbanded", zap.Any("team", teamID))
	} else if record.Leader == user {
		record.Leader = record.Members[0]
		r.logger.Debug("leadership passed", zap.Any("team", teamID), zap.Any("leader", record.Leader))
	}
	return r.resync(teamID)
}

// SetPlayerReady sets the ready flag of the given user. Users without team are
// ignored and false is returned.
func (r *Registry) SetPlayerReady(user UserID, ready bool) bool {
	r.m.Lock()
	teamID, ok := r.teamByUser[user]
	if !ok {
		r.m.Unlock()
		return false
	}
	if r.ready[user] == ready {
		r.m.Unlock()
		return true
	}
	if ready {
		r.ready[user] = true
	} else {
		delete(r.ready, user)
	}
	pending := r.resync(teamID)
	pending = append(pending, event.Notification{
		Type: event.TypeReadyChanged,
		Payload: event.ReadyChangedEvent{
			UserID: string(user),
			TeamID: int(teamID),
			Ready:  ready,
		},
	})
	r.m.Unlock()
	r.notify(pending)
	return true
}

// SetAlive sets the statistics-alive flag for the given user.
func (r *Registry) SetAlive(user UserID, alive bool) {
	r.m.Lock()
	_, isDead := r.dead[user]
	if isDead == !alive {
		r.m.Unlock()
		return
	}
	if alive {
		delete(r.dead, user)
	} else {
		r.dead[user] = struct{}{}
	}
	var pending []event.Notification
	if teamID, ok := r.teamByUser[user]; ok {
		pending = r.resync(teamID)
	}
	r.m.Unlock()
	r.notify(pending)
}

// resync rewrites the slot range of the given team and returns the
// notification for replication.
func (r *Registry) resync(teamID TeamID) []event.Notification {
	var members []slots.Member
	if record, ok := r.teams[teamID]; ok {
		members = make([]slots.Member, 0, len(record.Members))
		for _, user := range record.Members {
			_, isDead := r.dead[user]
			members = append(members, slots.Member{
				UserID:      string(user),
				DisplayName: r.names[user],
				Alive:       !isDead,
				Leader:      record.Leader == user,
				Ready:       r.ready[user],
			})
		}
	}
	update, err := r.table.SyncTeam(int(teamID), members)
	if err != nil {
		errors.Log(r.logger, errors.Wrap(err, "sync team slots", errors.Details{"team": teamID}))
		return nil
	}
	return []event.Notification{{
		Type:    event.TypeTeamSlotsSynced,
		Payload: event.TeamSlotsSyncedEvent{RangeUpdate: update},
	}}
}

// PlayerTeam returns the team of the given user.
func (r *Registry) PlayerTeam(user UserID) (TeamID, bool) {
	r.m.RLock()
	defer r.m.RUnlock()
	teamID, ok := r.teamByUser[user]
	return teamID, ok
}

// Team returns a copy of the team with the given id.
func (r *Registry) Team(teamID TeamID) (Record, bool) {
	r.m.RLock()
	defer r.m.RUnlock()
	record, ok := r.teams[teamID]
	if !ok {
		return Record{}, false
	}
	return record.clone(), true
}

// Teams returns copies of all teams ordered by id.
func (r *Registry) Teams() []Record {
	r.m.RLock()
	defer r.m.RUnlock()
	records := make([]Record, 0, len(r.teams))
	for _, record := range r.teams {
		records = append(records, record.clone())
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].ID < records[j].ID
	})
	return records
}

// TeamMembers returns the members of the given team in join order.
func (r *Registry) TeamMembers(teamID TeamID) []UserID {
	record, ok := r.Team(teamID)
	if !ok {
		return []UserID{}
	}
	return record.Members
}

// AreTeammates describes whether both users are distinct members of the same
// team.
func (r *Registry) AreTeammates(a UserID, b UserID) bool {
	if a == b {
		return false
	}
	r.m.RLock()
	defer r.m.RUnlock()
	teamA, ok := r.teamByUser[a]
	if !ok {
		return false
	}
	teamB, ok := r.teamByUser[b]
	return ok && teamA == teamB
}

// IsTeamReady describes whether the team exists and all members are ready.
func (r *Registry) IsTeamReady(teamID TeamID) bool {
	r.m.RLock()
	defer r.m.RUnlock()
	record, ok := r.teams[teamID]
	if !ok {
		return false
	}
	for _, member := range record.Members {
		if !r.ready[member] {
			return false
		}
	}
	return true
}

// IsAlive returns the statistics-alive flag of the given user. Users that are
// not member of any team are reported as not alive.
func (r *Registry) IsAlive(user UserID) bool {
	r.m.RLock()
	defer r.m.RUnlock()
	if _, ok := r.teamByUser[user]; !ok {
		return false
	}
	_, isDead := r.dead[user]
	return !isDead
}

// DisplayName returns the last known display name of the user.
func (r *Registry) DisplayName(user UserID) string {
	r.m.RLock()
	defer r.m.RUnlock()
	return r.names[user]
}

// Snapshot returns a copy of the slot table.
func (r *Registry) Snapshot() slots.Snapshot {
	r.m.RLock()
	defer r.m.RUnlock()
	return r.table.Snapshot()
}
