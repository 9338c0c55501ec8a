// Package session provides the two roles of a session: the Coordinator owns
// canonical team and revive state and runs the fixed-rate simulation loop, the
// Replica mirrors pushed updates and forwards requests.
package session

import (
	"context"
	"github.com/google/uuid"
	"github.com/lefinal/royale-server/elimination"
	"github.com/lefinal/royale-server/errors"
	"github.com/lefinal/royale-server/event"
	"github.com/lefinal/royale-server/revive"
	"github.com/lefinal/royale-server/slots"
	"github.com/lefinal/royale-server/team"
	"github.com/lefinal/royale-server/world"
	"go.uber.org/zap"
	"sync"
	"time"
)

// maxDeferredRounds limits follow-up command processing after a command or
// tick.
const maxDeferredRounds = 16

// Config for the Coordinator.
type Config struct {
	// TickRate is the simulation rate in Hz.
	TickRate int `json:"tick_rate"`
	// BroadcastEvery is the number of ticks between replica updates.
	BroadcastEvery int `json:"broadcast_every"`
	// MaxTeams is the capacity of the slot table.
	MaxTeams int `json:"max_teams"`
	// Mode is the initial team mode.
	Mode team.Mode `json:"mode"`
	// Host may change the team mode. If empty, the first user joining a team
	// becomes host.
	Host team.UserID `json:"host"`
	// InboxSize is the capacity of the command queue.
	InboxSize int `json:"inbox_size"`
	// Revive holds the gameplay constants for the revive state machine.
	Revive revive.Config `json:"revive"`
}

// DefaultConfig returns the default Config.
func DefaultConfig() Config {
	return Config{
		TickRate:       30,
		BroadcastEvery: 3,
		MaxTeams:       64,
		Mode:           team.ModeSquad,
		InboxSize:      256,
		Revive:         revive.DefaultConfig(),
	}
}

// Stats are the session statistics.
type Stats struct {
	Tick            uint64 `json:"tick"`
	Teams           int    `json:"teams"`
	Players         int    `json:"players"`
	Downed          int    `json:"downed"`
	QueuedCommands  int    `json:"queued_commands"`
	HandledCommands uint64 `json:"handled_commands"`
}

// Coordinator is the authority of a session. Only the loop started with Run
// mutates canonical state. All other methods are safe for concurrent use.
type Coordinator struct {
	logger *zap.Logger
	config Config
	id     string
	inbox  chan Command
	dt     time.Duration

	registry   *team.Registry
	machine    *revive.Machine
	world      *world.World
	aggregator *elimination.Aggregator
	// listeners receive all notifications after each command or tick.
	listeners event.Fanout

	// The following fields are only accessed by the loop.
	tick            uint64
	host            team.UserID
	handledCommands uint64
	pending         []event.Notification
	outRanges       []slots.RangeUpdate
	outNotes        []event.Notification

	// deferredMutex locks deferred.
	deferredMutex sync.Mutex
	deferred      []Command

	// publishedMutex locks published and sinks.
	publishedMutex sync.RWMutex
	published      Update
	publishedSet   revive.StatusSet
	publishedStats Stats
	sinks          []UpdateSink
}

// NewCoordinator creates a Coordinator for a new session in the given world.
func NewCoordinator(logger *zap.Logger, config Config, w *world.World) *Coordinator {
	if config.TickRate < 1 {
		config.TickRate = 1
	}
	if config.BroadcastEvery < 1 {
		config.BroadcastEvery = 1
	}
	c := &Coordinator{
		logger: logger,
		config: config,
		id:     uuid.New().String(),
		inbox:  make(chan Command, config.InboxSize),
		dt:     time.Second / time.Duration(config.TickRate),
		world:  w,
		host:   config.Host,
	}
	collector := event.NotifierFunc(c.collect)
	c.registry = team.NewRegistry(logger.Named("team"), collector, config.Mode, config.MaxTeams)
	c.aggregator = elimination.NewAggregator(logger.Named("elimination"), c.registry, collector)
	c.machine = revive.NewMachine(logger.Named("revive"), config.Revive, revive.Collaborators{
		Teams:     c.registry,
		Health:    w,
		Controls:  w,
		Positions: w,
		Ground:    w,
		Stats:     c.registry,
	}, collector)
	w.OnDepleted(func(target team.UserID, _ team.UserID) {
		c.deferredMutex.Lock()
		defer c.deferredMutex.Unlock()
		c.deferred = append(c.deferred, DownPlayer{User: target})
	})
	c.publish()
	return c
}

// ID returns the session id.
func (c *Coordinator) ID() string {
	return c.id
}

// collect stamps and records the notification and passes it to the
// elimination aggregator.
func (c *Coordinator) collect(n event.Notification) {
	n.Tick = c.tick
	c.pending = append(c.pending, n)
	c.aggregator.Notify(n)
}

// AddListener adds a Notifier that receives all notifications. Listeners are
// called from the loop and must not block.
func (c *Coordinator) AddListener(notifier event.Notifier) {
	c.listeners.Add(notifier)
}

// AddSink adds an UpdateSink and returns a full update for initial sync.
func (c *Coordinator) AddSink(sink UpdateSink) Update {
	c.publishedMutex.Lock()
	defer c.publishedMutex.Unlock()
	c.sinks = append(c.sinks, sink)
	return c.published
}

// RemoveSink removes the given UpdateSink. The sink must be comparable.
func (c *Coordinator) RemoveSink(sink UpdateSink) {
	c.publishedMutex.Lock()
	defer c.publishedMutex.Unlock()
	for i, s := range c.sinks {
		if s == sink {
			c.sinks = append(c.sinks[:i], c.sinks[i+1:]...)
			return
		}
	}
}

// Submit enqueues the given Command and blocks until it was queued or the
// context is done.
func (c *Coordinator) Submit(ctx context.Context, cmd Command) error {
	select {
	case <-ctx.Done():
		return errors.NewContextAbortedError("submit command")
	case c.inbox <- cmd:
		return nil
	}
}

// Enqueue enqueues the given Command without blocking. If the queue is full,
// the command is dropped and false is returned.
func (c *Coordinator) Enqueue(cmd Command) bool {
	select {
	case c.inbox <- cmd:
		return true
	default:
		c.logger.Warn("dropping command because of full inbox", zap.Any("cmd", cmd))
		return false
	}
}

// Forward implements Forwarder for in-process replicas.
func (c *Coordinator) Forward(cmd Command) {
	c.Enqueue(cmd)
}

// Run runs the simulation loop until the given context is done.
func (c *Coordinator) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.dt)
	defer ticker.Stop()
	c.logger.Info("session started",
		zap.String("session_id", c.id),
		zap.Int("tick_rate", c.config.TickRate),
		zap.Stringer("mode", c.registry.Mode()))
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("session stopped", zap.String("session_id", c.id), zap.Uint64("tick", c.tick))
			return nil
		case cmd := <-c.inbox:
			c.handle(cmd)
		case <-ticker.C:
			c.step()
		}
	}
}

// step advances the simulation by one tick.
func (c *Coordinator) step() {
	c.tick++
	c.machine.Tick(c.dt)
	c.flush()
	if c.tick%uint64(c.config.BroadcastEvery) == 0 {
		c.broadcast()
	}
}

// handle applies the given Command and flushes resulting notifications.
func (c *Coordinator) handle(cmd Command) {
	c.apply(cmd)
	c.handledCommands++
	c.flush()
}

// apply applies the Command without flushing.
func (c *Coordinator) apply(cmd Command) {
	switch cmd := cmd.(type) {
	case JoinTeam:
		if cmd.User == team.NoUser {
			return
		}
		if _, ok := c.registry.CreateOrJoinTeam(cmd.User, cmd.DisplayName, cmd.Team); ok && c.host == team.NoUser {
			c.host = cmd.User
			c.logger.Info("host assigned", zap.Any("host", c.host))
		}
	case LeaveTeam:
		c.registry.LeaveTeam(cmd.User)
	case SetReady:
		c.registry.SetPlayerReady(cmd.User, cmd.Ready)
	case SetTeamMode:
		if cmd.By != team.NoUser && cmd.By != c.host {
			errors.Log(c.logger, errors.NewBadRequestErr(errors.KindNotAuthority, "only host may set team mode",
				errors.Details{"by": cmd.By, "host": c.host}))
			return
		}
		if err := c.registry.SetTeamMode(cmd.Mode); err != nil {
			errors.Log(c.logger, errors.Wrap(err, "set team mode", nil))
		}
	case SpawnPlayer:
		if cmd.User == team.NoUser {
			return
		}
		if state, ok := c.machine.State(cmd.User); ok && state != revive.StateBledOut {
			c.logger.Debug("ignoring spawn of present player", zap.Any("user", cmd.User), zap.Stringer("state", state))
			return
		}
		c.world.Spawn(cmd.User, cmd.Position)
		c.machine.AddPlayer(cmd.User)
	case DespawnPlayer:
		if !c.machine.RemovePlayer(cmd.User) {
			return
		}
		c.world.Despawn(cmd.User)
		c.registry.SetAlive(cmd.User, false)
		c.aggregator.Check(cmd.User, c.tick)
	case MovePlayer:
		if c.machine.IsDown(cmd.User) {
			return
		}
		c.world.SetPosition(cmd.User, cmd.Position)
	case DownPlayer:
		c.machine.EnterDownedState(cmd.User)
	case Damage:
		c.world.ApplyDamage(cmd.Target, cmd.Amount, cmd.Source)
	case StartRevive:
		c.machine.StartRevive(cmd.Target, cmd.Reviver)
	case CancelRevive:
		c.machine.CancelRevive(cmd.Target, cmd.By)
	default:
		errors.Log(c.logger, errors.NewInternalError("unsupported command", errors.Details{"cmd": cmd}))
	}
}

// takeDeferred returns and clears deferred commands.
func (c *Coordinator) takeDeferred() []Command {
	c.deferredMutex.Lock()
	defer c.deferredMutex.Unlock()
	cmds := c.deferred
	c.deferred = nil
	return cmds
}

// flush applies deferred commands, dispatches pending notifications to
// listeners and publishes the current state.
func (c *Coordinator) flush() {
	for round := 0; round < maxDeferredRounds; round++ {
		cmds := c.takeDeferred()
		if len(cmds) == 0 {
			break
		}
		for _, cmd := range cmds {
			c.apply(cmd)
		}
	}
	pending := c.pending
	c.pending = nil
	for _, n := range pending {
		if synced, ok := n.Payload.(event.TeamSlotsSyncedEvent); ok {
			c.outRanges = append(c.outRanges, synced.RangeUpdate)
			continue
		}
		c.outNotes = append(c.outNotes, n)
		c.listeners.Notify(n)
	}
	c.publish()
}

// publish updates the full state for queries and initial syncs.
func (c *Coordinator) publish() {
	snapshot := c.registry.Snapshot()
	statuses := c.machine.Statuses()
	downed := 0
	for _, s := range statuses {
		if s.IsDown {
			downed++
		}
	}
	c.publishedMutex.Lock()
	defer c.publishedMutex.Unlock()
	c.published = Update{
		SessionID: c.id,
		Tick:      c.tick,
		Full:      true,
		Mode:      int(c.registry.Mode()),
		Host:      string(c.host),
		Snapshot:  &snapshot,
		Revives:   statuses,
	}
	c.publishedSet = revive.NewStatusSet(statuses)
	c.publishedStats = Stats{
		Tick:            c.tick,
		Teams:           len(c.registry.Teams()),
		Players:         len(statuses),
		Downed:          downed,
		QueuedCommands:  len(c.inbox),
		HandledCommands: c.handledCommands,
	}
}

// broadcast pushes an incremental update to all sinks.
func (c *Coordinator) broadcast() {
	c.publishedMutex.RLock()
	defer c.publishedMutex.RUnlock()
	u := Update{
		SessionID:     c.id,
		Tick:          c.tick,
		Mode:          c.published.Mode,
		Host:          c.published.Host,
		Ranges:        c.outRanges,
		Revives:       c.published.Revives,
		Notifications: c.outNotes,
	}
	c.outRanges = nil
	c.outNotes = nil
	for _, sink := range c.sinks {
		sink.PushUpdate(u)
	}
}

// FullSync returns the latest full update.
func (c *Coordinator) FullSync() Update {
	c.publishedMutex.RLock()
	defer c.publishedMutex.RUnlock()
	return c.published
}

// Stats returns the latest session statistics.
func (c *Coordinator) Stats() Stats {
	c.publishedMutex.RLock()
	defer c.publishedMutex.RUnlock()
	return c.publishedStats
}

// Registry returns the team registry. Mutations must only happen through
// commands.
func (c *Coordinator) Registry() *team.Registry {
	return c.registry
}

// Teams returns copies of all teams ordered by id.
func (c *Coordinator) Teams() []team.Record {
	return c.registry.Teams()
}

// Team returns a copy of the team with the given id.
func (c *Coordinator) Team(teamID team.TeamID) (team.Record, bool) {
	return c.registry.Team(teamID)
}

// DisplayName returns the last known display name of the user.
func (c *Coordinator) DisplayName(user team.UserID) string {
	return c.registry.DisplayName(user)
}

// Mode returns the current team mode.
func (c *Coordinator) Mode() team.Mode {
	return c.registry.Mode()
}

// PlayerTeam returns the team of the given user.
func (c *Coordinator) PlayerTeam(user team.UserID) (team.TeamID, bool) {
	return c.registry.PlayerTeam(user)
}

// TeamMembers returns the members of the given team.
func (c *Coordinator) TeamMembers(teamID team.TeamID) []team.UserID {
	return c.registry.TeamMembers(teamID)
}

// AreTeammates describes whether both users are in the same team.
func (c *Coordinator) AreTeammates(a team.UserID, b team.UserID) bool {
	return c.registry.AreTeammates(a, b)
}

// IsTeamReady describes whether all members of the team are ready.
func (c *Coordinator) IsTeamReady(teamID team.TeamID) bool {
	return c.registry.IsTeamReady(teamID)
}

// IsAlive returns the statistics-alive flag.
func (c *Coordinator) IsAlive(user team.UserID) bool {
	return c.registry.IsAlive(user)
}

// ReviveStatus returns the published revive status of the given player.
func (c *Coordinator) ReviveStatus(player team.UserID) (revive.Status, bool) {
	c.publishedMutex.RLock()
	defer c.publishedMutex.RUnlock()
	s, ok := c.publishedSet[player]
	return s, ok
}

// IsDown describes whether the player is downed.
func (c *Coordinator) IsDown(player team.UserID) bool {
	c.publishedMutex.RLock()
	defer c.publishedMutex.RUnlock()
	return c.publishedSet.IsDown(player)
}

// IsBeingRevived describes whether a revive on the player is in progress.
func (c *Coordinator) IsBeingRevived(player team.UserID) bool {
	c.publishedMutex.RLock()
	defer c.publishedMutex.RUnlock()
	return c.publishedSet.IsBeingRevived(player)
}

// Reviver returns the current reviver of the player.
func (c *Coordinator) Reviver(player team.UserID) (team.UserID, bool) {
	c.publishedMutex.RLock()
	defer c.publishedMutex.RUnlock()
	return c.publishedSet.Reviver(player)
}

// ReviveProgress returns the elapsed fraction of the current revive.
func (c *Coordinator) ReviveProgress(player team.UserID) float64 {
	c.publishedMutex.RLock()
	defer c.publishedMutex.RUnlock()
	return c.publishedSet.ReviveProgress(player)
}

// BleedOutProgress returns the elapsed fraction of the bleed-out countdown.
func (c *Coordinator) BleedOutProgress(player team.UserID) float64 {
	c.publishedMutex.RLock()
	defer c.publishedMutex.RUnlock()
	return c.publishedSet.BleedOutProgress(player)
}

// RequestStartRevive enqueues a StartRevive command.
func (c *Coordinator) RequestStartRevive(target team.UserID, reviver team.UserID) {
	c.Enqueue(StartRevive{Target: target, Reviver: reviver})
}

// RequestCancelRevive enqueues a CancelRevive command.
func (c *Coordinator) RequestCancelRevive(target team.UserID, by team.UserID) {
	c.Enqueue(CancelRevive{Target: target, By: by})
}
