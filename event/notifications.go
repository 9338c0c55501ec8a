package event

import (
	"github.com/lefinal/royale-server/slots"
	"sync"
)

// Type identifies a Notification.
type Type string

// All notification types.
const (
	// TypeTeamModeChanged is used with TeamModeChangedEvent.
	TypeTeamModeChanged Type = "team-mode-changed"
	// TypeReadyChanged is used with ReadyChangedEvent.
	TypeReadyChanged Type = "ready-changed"
	// TypeTeamSlotsSynced is used with TeamSlotsSyncedEvent whenever the slot
	// range of a team was rewritten.
	TypeTeamSlotsSynced Type = "team-slots-synced"
	// TypePlayerDowned is used with PlayerDownedEvent.
	TypePlayerDowned Type = "player-downed"
	// TypeReviveStarted is used with ReviveEvent.
	TypeReviveStarted Type = "revive-started"
	// TypeReviveCancelled is used with ReviveEvent.
	TypeReviveCancelled Type = "revive-cancelled"
	// TypeReviveCompleted is used with ReviveEvent.
	TypeReviveCompleted Type = "revive-completed"
	// TypeBledOut is used with BledOutEvent.
	TypeBledOut Type = "bled-out"
	// TypeTeamEliminated is used with TeamEliminatedEvent.
	TypeTeamEliminated Type = "team-eliminated"
)

// Notification is emitted by the coordinator whenever canonical state changed.
// Observers react to them locally but never mutate canonical state.
type Notification struct {
	// Type describes which payload is set.
	Type Type `json:"type"`
	// Tick is the coordinator tick the notification was emitted in.
	Tick uint64 `json:"tick"`
	// Payload is one of the event payloads in this package.
	Payload interface{} `json:"payload"`
}

// Notifier is notified of Notification.
type Notifier interface {
	Notify(n Notification)
}

// NotifierFunc allows using a function as Notifier.
type NotifierFunc func(n Notification)

// Notify calls the function.
func (fn NotifierFunc) Notify(n Notification) {
	fn(n)
}

// Fanout forwards notifications to all added Notifier in the order they were
// added. Safe for concurrent use.
type Fanout struct {
	notifiers []Notifier
	m         sync.RWMutex
}

// Add the given Notifier.
func (f *Fanout) Add(notifier Notifier) {
	f.m.Lock()
	defer f.m.Unlock()
	f.notifiers = append(f.notifiers, notifier)
}

// Notify all added notifiers.
func (f *Fanout) Notify(n Notification) {
	f.m.RLock()
	notifiers := f.notifiers
	f.m.RUnlock()
	for _, notifier := range notifiers {
		notifier.Notify(n)
	}
}

// Recorder records all notifications. Used mostly in tests.
type Recorder struct {
	m       sync.Mutex
	records []Notification
}

// Notify records the Notification.
func (r *Recorder) Notify(n Notification) {
	r.m.Lock()
	defer r.m.Unlock()
	r.records = append(r.records, n)
}

// All returns all recorded notifications.
func (r *Recorder) All() []Notification {
	r.m.Lock()
	defer r.m.Unlock()
	out := make([]Notification, len(r.records))
	copy(out, r.records)
	return out
}

// OfType returns all recorded notifications with the given Type.
func (r *Recorder) OfType(t Type) []Notification {
	r.m.Lock()
	defer r.m.Unlock()
	out := make([]Notification, 0)
	for _, n := range r.records {
		if n.Type == t {
			out = append(out, n)
		}
	}
	return out
}

// Reset clears all records.
func (r *Recorder) Reset() {
	r.m.Lock()
	defer r.m.Unlock()
	r.records = nil
}

// TeamModeChangedEvent is the payload for TypeTeamModeChanged.
type TeamModeChangedEvent struct {
	// Mode is the new capacity.
	Mode int `json:"mode"`
}

// ReadyChangedEvent is the payload for TypeReadyChanged.
type ReadyChangedEvent struct {
	UserID string `json:"user_id"`
	TeamID int    `json:"team_id"`
	Ready  bool   `json:"ready"`
}

// TeamSlotsSyncedEvent is the payload for TypeTeamSlotsSynced. It holds the
// whole rewritten slot range of a team.
type TeamSlotsSyncedEvent struct {
	slots.RangeUpdate
}

// PlayerDownedEvent is the payload for TypePlayerDowned.
type PlayerDownedEvent struct {
	PlayerID string `json:"player_id"`
}

// ReviveEvent is the payload for TypeReviveStarted, TypeReviveCancelled and
// TypeReviveCompleted.
type ReviveEvent struct {
	PlayerID  string `json:"player_id"`
	ReviverID string `json:"reviver_id"`
}

// BledOutEvent is the payload for TypeBledOut.
type BledOutEvent struct {
	PlayerID string `json:"player_id"`
}

// TeamEliminatedEvent is the payload for TypeTeamEliminated.
type TeamEliminatedEvent struct {
	TeamID  int      `json:"team_id"`
	Members []string `json:"members"`
}
