// Package interaction selects revivable teammates near the local player and
// turns hold-style input into revive requests.
package interaction

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/lefinal/royale-server/errors"
	"github.com/lefinal/royale-server/revive"
	"github.com/lefinal/royale-server/team"
	"github.com/lefinal/royale-server/world"
	"go.uber.org/zap"
	"sync"
	"time"
)

// Config for the Arbiter. PollInterval is encoded as string like "200ms" in
// JSON.
type Config struct {
	// PollInterval is the interval for candidate scans.
	PollInterval time.Duration `json:"poll_interval"`
	// Radius is the scan radius.
	Radius float64 `json:"radius"`
	// ConfirmPolls is the number of polls to wait for a requested revive to show
	// up in the replicated state before requesting again.
	ConfirmPolls int `json:"confirm_polls"`
}

// DefaultConfig returns a Config with the default interaction distance.
func DefaultConfig() Config {
	return Config{
		PollInterval: 200 * time.Millisecond,
		Radius:       3,
		ConfirmPolls: 2,
	}
}

// MarshalJSON encodes PollInterval as string.
func (c Config) MarshalJSON() ([]byte, error) {
	type plain Config
	return json.Marshal(struct {
		plain
		PollInterval string `json:"poll_interval"`
	}{
		plain:        plain(c),
		PollInterval: c.PollInterval.String(),
	})
}

// UnmarshalJSON decodes PollInterval from string. Absent fields keep their
// current value.
func (c *Config) UnmarshalJSON(data []byte) error {
	type plain Config
	aux := struct {
		*plain
		PollInterval string `json:"poll_interval"`
	}{plain: (*plain)(c)}
	err := json.Unmarshal(data, &aux)
	if err != nil {
		return errors.NewJSONError(err, "unmarshal interaction config", true)
	}
	if aux.PollInterval == "" {
		return nil
	}
	pollInterval, err := time.ParseDuration(aux.PollInterval)
	if err != nil {
		return errors.NewBadRequestErr(errors.KindInvalidDuration,
			fmt.Sprintf("invalid poll interval %q", aux.PollInterval),
			errors.Details{"poll_interval": aux.PollInterval})
	}
	c.PollInterval = pollInterval
	return nil
}

// Scanner finds entities near a position.
type Scanner interface {
	Position(player team.UserID) (world.Vec3, bool)
	Nearby(center world.Vec3, radius float64, exclude team.UserID) []team.UserID
}

// Requester issues one-way revive requests to the authority.
type Requester interface {
	RequestStartRevive(target team.UserID, reviver team.UserID)
	RequestCancelRevive(target team.UserID, by team.UserID)
}

// Arbiter runs on every participant. It never mutates canonical state but only
// issues requests and treats rejection as a normal outcome.
type Arbiter struct {
	logger    *zap.Logger
	config    Config
	local     team.UserID
	teams     revive.TeammateChecker
	revives   revive.View
	scanner   Scanner
	requester Requester
	// m locks all following fields.
	m         sync.Mutex
	holding   bool
	candidate team.UserID
	// requested is the target a start was requested for.
	requested team.UserID
	// unconfirmedPolls counts polls since the request without our revive showing
	// up.
	unconfirmedPolls int
}

// NewArbiter creates an Arbiter for the given local player.
func NewArbiter(logger *zap.Logger, config Config, local team.UserID, teams revive.TeammateChecker,
	revives revive.View, scanner Scanner, requester Requester) *Arbiter {
	return &Arbiter{
		logger:    logger,
		config:    config,
		local:     local,
		teams:     teams,
		revives:   revives,
		scanner:   scanner,
		requester: requester,
	}
}

// Run polls until the given context is done.
func (a *Arbiter) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.config.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			a.Poll()
		}
	}
}

// SetHolding sets whether the interaction input is held. The next poll acts on
// it.
func (a *Arbiter) SetHolding(holding bool) {
	a.m.Lock()
	defer a.m.Unlock()
	a.holding = holding
}

// Candidate returns the current revivable target.
func (a *Arbiter) Candidate() (team.UserID, bool) {
	a.m.Lock()
	defer a.m.Unlock()
	return a.candidate, a.candidate != team.NoUser
}

// isRevivable checks whether the given player may be revived by the local one.
func (a *Arbiter) isRevivable(player team.UserID) bool {
	if a.teams == nil || a.revives == nil {
		return false
	}
	if !a.teams.AreTeammates(a.local, player) || !a.revives.IsDown(player) {
		return false
	}
	reviver, ok := a.revives.Reviver(player)
	return !ok || reviver == a.local
}

// selectCandidate returns the closest revivable teammate.
func (a *Arbiter) selectCandidate() team.UserID {
	if a.scanner == nil || a.revives == nil || a.revives.IsDown(a.local) {
		return team.NoUser
	}
	pos, ok := a.scanner.Position(a.local)
	if !ok {
		return team.NoUser
	}
	for _, player := range a.scanner.Nearby(pos, a.config.Radius, a.local) {
		if a.isRevivable(player) {
			return player
		}
	}
	return team.NoUser
}

// Poll scans for a candidate and issues start or cancel requests.
func (a *Arbiter) Poll() {
	candidate := a.selectCandidate()
	a.m.Lock()
	defer a.m.Unlock()
	if candidate != a.candidate {
		a.logger.Debug("revive candidate changed", zap.Any("from", a.candidate), zap.Any("to", candidate))
	}
	a.candidate = candidate
	if a.requested != team.NoUser {
		if !a.holding || candidate != a.requested {
			if a.revives.IsDown(a.requested) {
				a.requester.RequestCancelRevive(a.requested, a.local)
			}
			a.logger.Debug("revive interaction ended",
				zap.Any("target", a.requested),
				zap.Bool("holding", a.holding))
			a.requested = team.NoUser
			a.unconfirmedPolls = 0
		} else if reviver, ok := a.revives.Reviver(a.requested); ok && reviver == a.local {
			a.unconfirmedPolls = 0
			return
		} else {
			a.unconfirmedPolls++
			if a.unconfirmedPolls <= a.config.ConfirmPolls {
				return
			}
			// Request was rejected or lost.
			a.requested = team.NoUser
			a.unconfirmedPolls = 0
		}
	}
	if a.holding && candidate != team.NoUser && a.requested == team.NoUser {
		a.requester.RequestStartRevive(candidate, a.local)
		a.requested = candidate
		a.unconfirmedPolls = 0
	}
}
