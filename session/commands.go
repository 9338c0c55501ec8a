package session

import (
	"github.com/lefinal/royale-server/team"
	"github.com/lefinal/royale-server/world"
)

// Command is a request processed by the Coordinator in arrival order. Any role
// may issue commands but only the Coordinator applies them.
type Command interface {
	// Issuer is the user that issued the command. team.NoUser is used for the
	// authority itself and operators.
	Issuer() team.UserID
}

// JoinTeam creates or joins a team. See team.Registry.CreateOrJoinTeam.
type JoinTeam struct {
	User        team.UserID
	DisplayName string
	Team        team.TeamID
}

// Issuer returns the joining user.
func (c JoinTeam) Issuer() team.UserID { return c.User }

// LeaveTeam leaves the current team.
type LeaveTeam struct {
	User team.UserID
}

// Issuer returns the leaving user.
func (c LeaveTeam) Issuer() team.UserID { return c.User }

// SetReady sets the ready flag.
type SetReady struct {
	User  team.UserID
	Ready bool
}

// Issuer returns the user.
func (c SetReady) Issuer() team.UserID { return c.User }

// SetTeamMode sets the team mode. Only the host and the authority may do so.
type SetTeamMode struct {
	By   team.UserID
	Mode team.Mode
}

// Issuer returns the requesting user.
func (c SetTeamMode) Issuer() team.UserID { return c.By }

// SpawnPlayer creates the player entity.
type SpawnPlayer struct {
	User     team.UserID
	Position world.Vec3
}

// Issuer returns the spawned user.
func (c SpawnPlayer) Issuer() team.UserID { return c.User }

// DespawnPlayer removes the player entity.
type DespawnPlayer struct {
	User team.UserID
}

// Issuer returns the despawned user.
func (c DespawnPlayer) Issuer() team.UserID { return c.User }

// MovePlayer updates the position of the player entity.
type MovePlayer struct {
	User     team.UserID
	Position world.Vec3
}

// Issuer returns the moved user.
func (c MovePlayer) Issuer() team.UserID { return c.User }

// DownPlayer downs the player. Issued by the damage system.
type DownPlayer struct {
	User team.UserID
}

// Issuer returns team.NoUser as downing is authority-only.
func (c DownPlayer) Issuer() team.UserID { return team.NoUser }

// Damage applies damage to the target. Depleting health downs the target.
type Damage struct {
	Target team.UserID
	Source team.UserID
	Amount float64
}

// Issuer returns team.NoUser as damage is authority-only.
func (c Damage) Issuer() team.UserID { return team.NoUser }

// StartRevive starts a revive of Target by Reviver.
type StartRevive struct {
	Target  team.UserID
	Reviver team.UserID
}

// Issuer returns the reviver.
func (c StartRevive) Issuer() team.UserID { return c.Reviver }

// CancelRevive cancels the revive on Target. If By is set, only the current
// reviver may cancel.
type CancelRevive struct {
	Target team.UserID
	By     team.UserID
}

// Issuer returns the cancelling user.
func (c CancelRevive) Issuer() team.UserID { return c.By }
