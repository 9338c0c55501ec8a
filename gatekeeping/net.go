package gatekeeping

import (
	"context"
	"github.com/google/uuid"
	"github.com/lefinal/royale-server/client"
	"github.com/lefinal/royale-server/errors"
	"github.com/lefinal/royale-server/interaction"
	"github.com/lefinal/royale-server/messages"
	"github.com/lefinal/royale-server/session"
	"github.com/lefinal/royale-server/team"
	"go.uber.org/zap"
	"sort"
	"sync"
	"time"
)

// resyncDelay is the delay before a full update is sent to a client that missed
// updates.
const resyncDelay = 500 * time.Millisecond

// storeTimeout is the timeout for store operations when saying goodbye. The
// passed context might already be done when the server shuts down.
const storeTimeout = 5 * time.Second

// lifecycleTimeout is the timeout for submitting spawn, despawn and team leave
// commands to the session.
const lifecycleTimeout = 5 * time.Second

// NetGatekeeper implements client.Listener. It waits for the hello of new
// clients, registers the user, spawns the player and translates incoming
// messages to session commands.
type NetGatekeeper struct {
	logger *zap.Logger
	// store is used for persistent user information.
	store Store
	// session is where players are spawned.
	session Session
	// interactions is used for creating the interaction arbiter of each player.
	interactions Interactions
	// m locks handshakes and players.
	m sync.RWMutex
	// handshakes holds a channel for each client in handshake that is closed when
	// the client leaves.
	handshakes map[*client.Client]chan struct{}
	// players holds all players that completed the handshake.
	players map[*client.Client]*player
}

// NewNetGatekeeper creates a NetGatekeeper for the given session.
func NewNetGatekeeper(logger *zap.Logger, store Store, s Session, interactions Interactions) *NetGatekeeper {
	return &NetGatekeeper{
		logger:       logger,
		store:        store,
		session:      s,
		interactions: interactions,
		handshakes:   make(map[*client.Client]chan struct{}),
		players:      make(map[*client.Client]*player),
	}
}

// Online returns the ids of all online users in ascending order.
func (gk *NetGatekeeper) Online() []team.UserID {
	gk.m.RLock()
	defer gk.m.RUnlock()
	online := make([]team.UserID, 0, len(gk.players))
	for _, p := range gk.players {
		online = append(online, p.user)
	}
	sort.Slice(online, func(i, j int) bool {
		return online[i] < online[j]
	})
	return online
}

// isOnline checks if a player with the given user id is online.
func (gk *NetGatekeeper) isOnline(user team.UserID) bool {
	gk.m.RLock()
	defer gk.m.RUnlock()
	return gk.isOnlineLocked(user)
}

// isOnlineLocked is isOnline without locking. gk.m must be locked.
func (gk *NetGatekeeper) isOnlineLocked(user team.UserID) bool {
	for _, p := range gk.players {
		if p.user == user {
			return true
		}
	}
	return false
}

// leftSignal returns the channel that is closed when the given client leaves
// before completing the handshake. gk.m must be locked.
func (gk *NetGatekeeper) leftSignal(c *client.Client) chan struct{} {
	left, ok := gk.handshakes[c]
	if !ok {
		left = make(chan struct{})
		gk.handshakes[c] = left
	}
	return left
}

// signalLeft closes the channel returned by leftSignal. gk.m must be locked.
func (gk *NetGatekeeper) signalLeft(c *client.Client) {
	left := gk.leftSignal(c)
	select {
	case <-left:
	default:
		close(left)
	}
}

// AcceptClient waits for the hello message of the client and welcomes it.
// Invalid hellos are answered with an error message.
func (gk *NetGatekeeper) AcceptClient(ctx context.Context, c *client.Client) {
	gk.m.Lock()
	left := gk.leftSignal(c)
	gk.m.Unlock()
	defer func() {
		gk.m.Lock()
		delete(gk.handshakes, c)
		gk.m.Unlock()
	}()
	for {
		select {
		case <-ctx.Done():
			errors.Log(gk.logger, errors.NewContextAbortedError("wait for hello message"))
			return
		case <-left:
			gk.logger.Debug("client left during handshake", zap.String("client_id", c.ID))
			return
		case raw, ok := <-c.Receive:
			if !ok {
				gk.logger.Warn("client disconnected while waiting for hello", zap.String("client_id", c.ID))
				return
			}
			hello, err := gk.parseHello(raw)
			if err != nil {
				gk.logAndSendErrorMessage(err, c, team.NoUser)
				continue
			}
			err = gk.welcome(ctx, c, hello)
			if err != nil {
				gk.logAndSendErrorMessage(errors.Wrap(err, "welcome", nil), c, team.NoUser)
				continue
			}
			return
		}
	}
}

// parseHello parses the given raw message as hello. If no user id is set, a new
// one is assigned.
func (gk *NetGatekeeper) parseHello(raw []byte) (messages.MessageHello, error) {
	container, err := messages.ParseContainer(raw)
	if err != nil {
		return messages.MessageHello{}, errors.Wrap(err, "parse container", nil)
	}
	hello, err := messages.ParseHello(container)
	if err != nil {
		return messages.MessageHello{}, errors.Wrap(err, "parse hello", nil)
	}
	if hello.UserID == "" {
		hello.UserID = uuid.New().String()
	}
	return hello, nil
}

// welcome registers the user, sends the welcome message and the initial full
// update and starts the pumps. The player is added before sending the welcome
// message so that SayGoodbyeToClient waits for the welcome to finish.
func (gk *NetGatekeeper) welcome(ctx context.Context, c *client.Client, hello messages.MessageHello) error {
	user := team.UserID(hello.UserID)
	if gk.isOnline(user) {
		return errors.NewBadRequestErr(errors.KindForbiddenMessage, "user already online",
			errors.Details{"user_id": user})
	}
	storeUser, created, err := gk.store.RegisterUser(ctx, hello.UserID, hello.DisplayName)
	if err != nil {
		return errors.Wrap(err, "register user", errors.Details{"user_id": user})
	}
	logger := gk.logger.With(zap.String("client_id", c.ID), zap.Any("user_id", user))
	p := &player{
		user:        user,
		displayName: storeUser.DisplayName.String,
		client:      c,
		sink:        newPlayerSink(logger, user, c),
		ready:       make(chan struct{}),
	}
	welcomeRaw, err := messages.Marshal(messages.MessageTypeWelcome, hello.UserID, messages.MessageWelcome{
		UserID:      hello.UserID,
		DisplayName: p.displayName,
		SessionID:   gk.session.ID(),
	})
	if err != nil {
		return errors.Wrap(err, "marshal welcome message", nil)
	}
	gk.m.Lock()
	select {
	case <-gk.leftSignal(c):
		gk.m.Unlock()
		return errors.Error{
			Code:    errors.ErrCommunication,
			Message: "client left during handshake",
			Details: errors.Details{"client_id": c.ID},
		}
	default:
	}
	if gk.isOnlineLocked(user) {
		gk.m.Unlock()
		return errors.NewBadRequestErr(errors.KindForbiddenMessage, "user already online",
			errors.Details{"user_id": user})
	}
	gk.players[c] = p
	gk.m.Unlock()
	defer close(p.ready)
	if !c.TrySend(welcomeRaw) {
		gk.removePlayer(c, p)
		return errors.Error{
			Code:    errors.ErrCommunication,
			Message: "send welcome message",
			Details: errors.Details{"client_id": c.ID},
		}
	}
	spawnCtx, cancelSpawn := context.WithTimeout(ctx, lifecycleTimeout)
	defer cancelSpawn()
	err = gk.session.Submit(spawnCtx, session.SpawnPlayer{User: user, Position: hello.Position})
	if err != nil {
		gk.removePlayer(c, p)
		return errors.Wrap(err, "submit spawn", errors.Details{"user_id": user})
	}
	pumps, shutdownPumps := context.WithCancel(context.Background())
	p.shutdown = shutdownPumps
	if gk.interactions.Forwarder != nil && gk.interactions.Scanner != nil {
		p.replica = session.NewReplica(logger.Named("replica"), user, gk.interactions.Forwarder)
		p.sink.mirror = p.replica
		p.arbiter = interaction.NewArbiter(logger.Named("interaction"), gk.interactions.Config, user,
			p.replica, p.replica, gk.interactions.Scanner, p.replica)
	}
	full := gk.session.AddSink(p.sink)
	p.sink.sync(full)
	if p.arbiter != nil {
		go func() {
			err := p.arbiter.Run(pumps)
			if err != nil {
				errors.Log(logger, errors.Wrap(err, "run interaction arbiter", nil))
			}
		}()
	}
	go gk.incomingPump(pumps, logger, p)
	go gk.resyncPump(pumps, p)
	p.welcomed = true
	logger.Info("player welcomed", zap.Bool("created", created), zap.String("display_name", p.displayName))
	return nil
}

// removePlayer removes the given player of the client if it was not already
// removed by SayGoodbyeToClient.
func (gk *NetGatekeeper) removePlayer(c *client.Client, p *player) {
	gk.m.Lock()
	defer gk.m.Unlock()
	if gk.players[c] == p {
		delete(gk.players, c)
	}
}

// incomingPump translates incoming messages from the player's client to
// session commands.
func (gk *NetGatekeeper) incomingPump(ctx context.Context, logger *zap.Logger, p *player) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-p.client.Receive:
			if !ok {
				return
			}
			container, err := messages.ParseContainer(raw)
			if err != nil {
				gk.logAndSendErrorMessage(err, p.client, p.user)
				continue
			}
			logger.Debug(string(container.Content),
				zap.String("dir", "incoming"),
				zap.Any("message_type", container.MessageType))
			if holding, ok := messages.ParseInteraction(container); ok {
				if p.arbiter == nil {
					logger.Debug("ignoring interaction input without arbiter")
					continue
				}
				p.arbiter.SetHolding(holding)
				continue
			}
			cmd, err := messages.CommandFromContainer(p.user, container)
			if err != nil {
				gk.logAndSendErrorMessage(err, p.client, p.user)
				continue
			}
			if jt, ok := cmd.(session.JoinTeam); ok && jt.DisplayName == "" {
				jt.DisplayName = p.displayName
				cmd = jt
			}
			if !gk.session.Enqueue(cmd) {
				gk.logAndSendErrorMessage(errors.Error{
					Code:    errors.ErrCommunication,
					Message: "session busy",
					Details: errors.Details{"message_type": container.MessageType},
				}, p.client, p.user)
			}
		}
	}
}

// resyncPump sends full updates to the player's client after it missed
// updates.
func (gk *NetGatekeeper) resyncPump(ctx context.Context, p *player) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.sink.resync:
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(resyncDelay):
		}
		p.sink.sync(gk.session.FullSync())
	}
}

// SayGoodbyeToClient removes the player of the given client from the session.
// If the client is still in handshake, the handshake is aborted.
func (gk *NetGatekeeper) SayGoodbyeToClient(ctx context.Context, c *client.Client) {
	gk.m.Lock()
	p, ok := gk.players[c]
	if !ok {
		gk.signalLeft(c)
		gk.m.Unlock()
		gk.logger.Warn("client disconnected without completing handshake", zap.String("client_id", c.ID))
		return
	}
	delete(gk.players, c)
	gk.m.Unlock()
	<-p.ready
	if !p.welcomed {
		gk.m.Lock()
		gk.signalLeft(c)
		gk.m.Unlock()
		gk.logger.Warn("client disconnected during failed welcome", zap.String("client_id", c.ID))
		return
	}
	p.shutdown()
	gk.session.RemoveSink(p.sink)
	lifecycleCtx, cancelLifecycle := context.WithTimeout(ctx, lifecycleTimeout)
	defer cancelLifecycle()
	for _, cmd := range []session.Command{session.DespawnPlayer{User: p.user}, session.LeaveTeam{User: p.user}} {
		err := gk.session.Submit(lifecycleCtx, cmd)
		if err != nil {
			errors.Log(gk.logger, errors.Wrap(err, "submit command for leaving player",
				errors.Details{"user_id": p.user, "cmd": cmd}))
		}
	}
	storeCtx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	err := gk.store.UpdateUserLastSeen(storeCtx, string(p.user))
	if err != nil {
		errors.Log(gk.logger, errors.Wrap(err, "update user last seen", errors.Details{"user_id": p.user}))
	}
	gk.logger.Info("player left", zap.Any("user_id", p.user))
}

// logAndSendErrorMessage logs the given error and sends it to the given
// client.
func (gk *NetGatekeeper) logAndSendErrorMessage(e error, c *client.Client, user team.UserID) {
	errors.Log(gk.logger, e)
	raw, err := messages.Marshal(messages.MessageTypeError, string(user), messages.MessageErrorFromError(e))
	if err != nil {
		errors.Log(gk.logger, errors.Wrap(err, "marshal error message", nil))
		return
	}
	if !c.TrySend(raw) {
		gk.logger.Warn("dropping error message for slow client", zap.String("client_id", c.ID))
	}
}
