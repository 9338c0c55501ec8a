package revive

import (
	"github.com/lefinal/royale-server/team"
	"sort"
)

// View provides read access to revive state for presentation and interaction.
type View interface {
	// IsDown describes whether the player is downed.
	IsDown(player team.UserID) bool
	// IsBeingRevived describes whether a revive on the player is in progress.
	IsBeingRevived(player team.UserID) bool
	// Reviver returns the current reviver of the player.
	Reviver(player team.UserID) (team.UserID, bool)
	// ReviveProgress returns the elapsed fraction of the current revive.
	ReviveProgress(player team.UserID) float64
	// BleedOutProgress returns the elapsed fraction of the bleed-out countdown.
	BleedOutProgress(player team.UserID) float64
}

// Status is the replicated projection of a Record.
type Status struct {
	PlayerID         team.UserID `json:"player_id"`
	State            State       `json:"state"`
	IsDown           bool        `json:"is_down"`
	Reviver          team.UserID `json:"reviver"`
	ReviveProgress   float64     `json:"revive_progress"`
	BleedOutProgress float64     `json:"bleed_out_progress"`
}

// StatusOf projects the given Record.
func StatusOf(r Record) Status {
	return Status{
		PlayerID:         r.Player,
		State:            r.State(),
		IsDown:           r.IsDown,
		Reviver:          r.Reviver,
		ReviveProgress:   r.ReviveTimer.Progress(),
		BleedOutProgress: r.BleedOutTimer.Progress(),
	}
}

// StatusSet is a View over replicated Status. It is not safe for concurrent
// use.
type StatusSet map[team.UserID]Status

// NewStatusSet creates a StatusSet from the given list.
func NewStatusSet(statuses []Status) StatusSet {
	set := make(StatusSet, len(statuses))
	for _, s := range statuses {
		set[s.PlayerID] = s
	}
	return set
}

// List returns all statuses ordered by player.
func (set StatusSet) List() []Status {
	statuses := make([]Status, 0, len(set))
	for _, s := range set {
		statuses = append(statuses, s)
	}
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].PlayerID < statuses[j].PlayerID
	})
	return statuses
}

// IsDown describes whether the player is downed.
func (set StatusSet) IsDown(player team.UserID) bool {
	return set[player].IsDown
}

// IsBeingRevived describes whether a revive on the player is in progress.
func (set StatusSet) IsBeingRevived(player team.UserID) bool {
	return set[player].Reviver != team.NoUser
}

// Reviver returns the current reviver of the player.
func (set StatusSet) Reviver(player team.UserID) (team.UserID, bool) {
	reviver := set[player].Reviver
	return reviver, reviver != team.NoUser
}

// ReviveProgress returns the elapsed fraction of the current revive.
func (set StatusSet) ReviveProgress(player team.UserID) float64 {
	return set[player].ReviveProgress
}

// BleedOutProgress returns the elapsed fraction of the bleed-out countdown.
func (set StatusSet) BleedOutProgress(player team.UserID) float64 {
	return set[player].BleedOutProgress
}
