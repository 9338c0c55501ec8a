// Package revive implements the per-player downed/revive lifecycle.
//
// A player is Alive until downed. While downed, a bleed-out countdown runs. A
// teammate in range may start a revive which runs its own countdown. Each tick,
// bleed-out expiry is evaluated before revive completion, so if both expire in
// the same tick, the player bleeds out.
package revive

import (
	"encoding/json"
	"fmt"
	"github.com/lefinal/royale-server/errors"
	"github.com/lefinal/royale-server/team"
	"github.com/lefinal/royale-server/world"
	"math"
	"time"
)

// LethalDamage is applied to entities that bled out.
const LethalDamage = math.MaxFloat32

// Config holds the gameplay constants. Durations are encoded as strings like
// "30s" in JSON.
type Config struct {
	// BleedOutDuration is the time a downed player survives without revive.
	BleedOutDuration time.Duration `json:"bleed_out_duration"`
	// ReviveDuration is the time a revive takes.
	ReviveDuration time.Duration `json:"revive_duration"`
	// InteractionDistance is the maximum distance between reviver and target.
	InteractionDistance float64 `json:"interaction_distance"`
	// ReviveHeal is the health applied on revive completion.
	ReviveHeal float64 `json:"revive_heal"`
	// GroundSnapDistance is the maximum drop for snapping downed players to the
	// ground.
	GroundSnapDistance float64 `json:"ground_snap_distance"`
}

// DefaultConfig returns the default gameplay constants.
func DefaultConfig() Config {
	return Config{
		BleedOutDuration:    30 * time.Second,
		ReviveDuration:      5 * time.Second,
		InteractionDistance: 3,
		ReviveHeal:          30,
		GroundSnapDistance:  2,
	}
}

// MarshalJSON encodes durations as strings.
func (c Config) MarshalJSON() ([]byte, error) {
	type plain Config
	return json.Marshal(struct {
		plain
		BleedOutDuration string `json:"bleed_out_duration"`
		ReviveDuration   string `json:"revive_duration"`
	}{
		plain:            plain(c),
		BleedOutDuration: c.BleedOutDuration.String(),
		ReviveDuration:   c.ReviveDuration.String(),
	})
}

// UnmarshalJSON decodes durations from strings. Absent fields keep their
// current value.
func (c *Config) UnmarshalJSON(data []byte) error {
	type plain Config
	aux := struct {
		*plain
		BleedOutDuration string `json:"bleed_out_duration"`
		ReviveDuration   string `json:"revive_duration"`
	}{plain: (*plain)(c)}
	err := json.Unmarshal(data, &aux)
	if err != nil {
		return errors.NewJSONError(err, "unmarshal revive config", true)
	}
	err = parseDuration(aux.BleedOutDuration, &c.BleedOutDuration)
	if err != nil {
		return errors.Wrap(err, "parse bleed out duration", nil)
	}
	err = parseDuration(aux.ReviveDuration, &c.ReviveDuration)
	if err != nil {
		return errors.Wrap(err, "parse revive duration", nil)
	}
	return nil
}

// parseDuration sets d to the parsed duration if s is not empty.
func parseDuration(s string, d *time.Duration) error {
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return errors.NewBadRequestErr(errors.KindInvalidDuration, fmt.Sprintf("invalid duration %q", s),
			errors.Details{"duration": s})
	}
	*d = parsed
	return nil
}

// State of a player in the lifecycle.
type State int

const (
	// StateAlive is the initial state.
	StateAlive State = iota
	// StateDowned is entered via Machine.EnterDownedState.
	StateDowned
	// StateRecovering is Downed with a revive in progress.
	StateRecovering
	// StateBledOut is terminal until the player respawns.
	StateBledOut
)

func (s State) String() string {
	switch s {
	case StateAlive:
		return "alive"
	case StateDowned:
		return "downed"
	case StateRecovering:
		return "recovering"
	case StateBledOut:
		return "bled-out"
	}
	return fmt.Sprintf("unknown(%d)", int(s))
}

// Record is the revive state of one player entity.
type Record struct {
	Player team.UserID
	IsDown bool
	// Reviver is set if and only if a revive is in progress.
	Reviver     team.UserID
	ReviveTimer Countdown
	// BleedOutTimer only runs while IsDown is true.
	BleedOutTimer Countdown
	// BledOut is set after bleed-out and cleared on respawn.
	BledOut bool
}

// State derives the lifecycle state.
func (r Record) State() State {
	switch {
	case r.BledOut:
		return StateBledOut
	case r.IsDown && r.Reviver != team.NoUser:
		return StateRecovering
	case r.IsDown:
		return StateDowned
	}
	return StateAlive
}

// TeammateChecker is used for checking that reviver and target are teammates.
type TeammateChecker interface {
	AreTeammates(a team.UserID, b team.UserID) bool
}

// Health is the health system of player entities.
type Health interface {
	ApplyDamage(target team.UserID, amount float64, source team.UserID)
	ApplyHeal(target team.UserID, amount float64, source team.UserID)
}

// Controls switches controls/physics and equipped items of player entities.
type Controls interface {
	SetControlsEnabled(player team.UserID, enabled bool)
	SetLoadoutEnabled(player team.UserID, enabled bool)
}

// Positions provides entity positions.
type Positions interface {
	Position(player team.UserID) (world.Vec3, bool)
	SetPosition(player team.UserID, position world.Vec3)
}

// GroundProbe casts a ray downwards and returns the contact point.
type GroundProbe interface {
	ProbeGround(from world.Vec3, maxDistance float64) (world.Vec3, bool)
}

// StatsSink receives the statistics-alive flag.
type StatsSink interface {
	SetAlive(user team.UserID, alive bool)
}

// Collaborators are the external systems used by the Machine. Each one is
// optional. Operations depending on a missing collaborator have no effect or
// skip the respective side effect.
type Collaborators struct {
	Teams     TeammateChecker
	Health    Health
	Controls  Controls
	Positions Positions
	Ground    GroundProbe
	Stats     StatsSink
}
