package gatekeeping

import (
	"github.com/lefinal/royale-server/client"
	"github.com/lefinal/royale-server/errors"
	"github.com/lefinal/royale-server/interaction"
	"github.com/lefinal/royale-server/messages"
	"github.com/lefinal/royale-server/session"
	"github.com/lefinal/royale-server/team"
	"go.uber.org/zap"
	"sync"
)

// player is a client that completed the handshake.
type player struct {
	user        team.UserID
	displayName string
	client      *client.Client
	sink        *playerSink
	// replica mirrors the session for arbiter. It is fed by sink. Optional.
	replica *session.Replica
	// arbiter turns interaction input into revive requests. Optional.
	arbiter *interaction.Arbiter
	// ready is closed when the welcome finished. welcomed and shutdown must only
	// be read afterwards.
	ready    chan struct{}
	welcomed bool
	// shutdown stops the pumps of the player.
	shutdown func()
}

// playerSink implements session.UpdateSink for a player. Updates are held back
// until the initial full update was sent. If an update could not be passed to
// the client, a full resync is requested via resync.
type playerSink struct {
	logger *zap.Logger
	user   team.UserID
	client *client.Client
	// mirror receives all updates passed to the client. Optional.
	mirror session.UpdateSink
	// resync receives when the client missed an update.
	resync chan struct{}
	// m locks synced and backlog.
	m       sync.Mutex
	synced  bool
	backlog []session.Update
}

func newPlayerSink(logger *zap.Logger, user team.UserID, c *client.Client) *playerSink {
	return &playerSink{
		logger: logger,
		user:   user,
		client: c,
		resync: make(chan struct{}, 1),
	}
}

// PushUpdate sends the update to the client or holds it back if the initial
// full update was not sent yet.
func (s *playerSink) PushUpdate(u session.Update) {
	s.m.Lock()
	defer s.m.Unlock()
	if !s.synced {
		s.backlog = append(s.backlog, u)
		return
	}
	s.send(u)
}

// sync sends the given full update followed by all held back updates.
func (s *playerSink) sync(full session.Update) {
	s.m.Lock()
	defer s.m.Unlock()
	s.synced = true
	s.send(full)
	for _, u := range s.backlog {
		if u.Tick < full.Tick {
			continue
		}
		s.send(u)
	}
	s.backlog = nil
}

// send marshals the update and passes it to the mirror and the client. If the
// client buffer is full, a resync is requested.
func (s *playerSink) send(u session.Update) {
	if s.mirror != nil {
		s.mirror.PushUpdate(u)
	}
	raw, err := messages.Marshal(messages.MessageTypeUpdate, string(s.user), messages.MessageUpdate(u))
	if err != nil {
		errors.Log(s.logger, errors.Wrap(err, "marshal update", nil))
		return
	}
	if s.client.TrySend(raw) {
		return
	}
	s.logger.Warn("dropping update for slow client, requesting resync", zap.Uint64("tick", u.Tick))
	select {
	case s.resync <- struct{}{}:
	default:
	}
}
