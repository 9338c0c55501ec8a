package session

import (
	"github.com/lefinal/royale-server/event"
	"github.com/lefinal/royale-server/revive"
	"github.com/lefinal/royale-server/slots"
)

// Update is a replication batch pushed from the Coordinator to replicas.
type Update struct {
	// SessionID identifies the session.
	SessionID string `json:"session_id"`
	// Tick is the coordinator tick the update was created in. Replicas drop
	// updates older than the last applied one.
	Tick uint64 `json:"tick"`
	// Full marks updates holding the whole state in Snapshot.
	Full bool `json:"full"`
	// Mode is the current team mode.
	Mode int `json:"mode"`
	// Host may change the team mode.
	Host string `json:"host"`
	// Snapshot is only set for full updates.
	Snapshot *slots.Snapshot `json:"snapshot,omitempty"`
	// Ranges are the rewritten slot ranges since the last update.
	Ranges []slots.RangeUpdate `json:"ranges,omitempty"`
	// Revives holds the status of all spawned players.
	Revives []revive.Status `json:"revives"`
	// Notifications since the last update.
	Notifications []event.Notification `json:"notifications,omitempty"`
}

// UpdateSink receives updates. PushUpdate is called from the coordinator loop
// and must not block.
type UpdateSink interface {
	PushUpdate(u Update)
}

// UpdateSinkFunc allows using a function as UpdateSink.
type UpdateSinkFunc func(u Update)

// PushUpdate calls the function.
func (fn UpdateSinkFunc) PushUpdate(u Update) {
	fn(u)
}
