// Package gatekeeping provides the Gatekeeper which handles the handshake of
// player clients and bridges them to the session.
package gatekeeping

import (
	"context"
	"github.com/lefinal/royale-server/interaction"
	"github.com/lefinal/royale-server/session"
	"github.com/lefinal/royale-server/store"
)

// Store is used for persistent user information.
type Store interface {
	// RegisterUser retrieves the user with the given id or creates it. The display
	// name is only updated when not empty. The second return value describes
	// whether the user was created.
	RegisterUser(ctx context.Context, userID string, displayName string) (store.User, bool, error)
	// UpdateUserLastSeen sets the last seen timestamp of the user to now.
	UpdateUserLastSeen(ctx context.Context, userID string) error
}

// Session is the session players are bridged to.
type Session interface {
	// ID returns the session id.
	ID() string
	// AddSink adds an UpdateSink and returns a full update for initial sync.
	AddSink(sink session.UpdateSink) session.Update
	// RemoveSink removes the given UpdateSink.
	RemoveSink(sink session.UpdateSink)
	// FullSync returns the latest full update.
	FullSync() session.Update
	// Enqueue enqueues the given command without blocking.
	Enqueue(cmd session.Command) bool
	// Submit enqueues the given command and blocks until it was queued or the
	// context is done.
	Submit(ctx context.Context, cmd session.Command) error
}

// Interactions configures the interaction arbiter that is run for each welcomed
// player. The arbiter reads a replica of the session that receives the same
// updates as the player's client. If Forwarder or Scanner is not set,
// interaction input is ignored.
type Interactions struct {
	Config interaction.Config
	// Forwarder receives the revive requests of the arbiter.
	Forwarder session.Forwarder
	// Scanner finds players near the local one.
	Scanner interaction.Scanner
}
