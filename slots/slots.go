// Package slots provides the fixed-capacity table that is the wire-visible
// representation of all team memberships and ready flags.
//
// The table is an arena addressed by arithmetic: the slot for member index i of
// team t lives at (t-1)*stride + i. The stride is fixed at construction and
// must be at least the largest team capacity so that changing the team mode
// never invalidates addresses.
package slots

import (
	"fmt"
	"github.com/lefinal/royale-server/errors"
)

// Slot is the denormalized read-only projection of a team member.
type Slot struct {
	// TeamID of the team the member belongs to. 0 marks an empty slot.
	TeamID int `json:"team_id"`
	// UserID is the identity reference.
	UserID string `json:"user_id"`
	// DisplayName is the human-readable name of the user.
	DisplayName string `json:"display_name"`
	// Alive is the statistics-alive flag.
	Alive bool `json:"alive"`
	// Leader is true for the party leader.
	Leader bool `json:"leader"`
}

// Empty is the sentinel value for slots without member.
var Empty = Slot{}

// IsEmpty describes whether the slot holds no member.
func (s Slot) IsEmpty() bool {
	return s.TeamID == 0
}

// Member is the input for Table.SyncTeam.
type Member struct {
	UserID      string
	DisplayName string
	Alive       bool
	Leader      bool
	Ready       bool
}

// RangeUpdate is the complete content of a team's slot range. Ranges are always
// rewritten as a whole.
type RangeUpdate struct {
	TeamID int `json:"team_id"`
	// FirstIndex is the slot index of Slots[0].
	FirstIndex int    `json:"first_index"`
	Slots      []Slot `json:"slots"`
	Ready      []bool `json:"ready"`
}

// Snapshot is a full copy of a Table.
type Snapshot struct {
	Stride   int    `json:"stride"`
	MaxTeams int    `json:"max_teams"`
	Slots    []Slot `json:"slots"`
	Ready    []bool `json:"ready"`
}

// Table is the replicated slot table. It is not safe for concurrent use. The
// owner is responsible for locking.
type Table struct {
	stride   int
	maxTeams int
	slots    []Slot
	ready    []bool
}

// NewTable creates a Table for the given maximum number of teams and the given
// stride (maximum team size).
func NewTable(maxTeams int, stride int) *Table {
	if maxTeams < 1 {
		maxTeams = 1
	}
	if stride < 1 {
		stride = 1
	}
	return &Table{
		stride:   stride,
		maxTeams: maxTeams,
		slots:    make([]Slot, maxTeams*stride),
		ready:    make([]bool, maxTeams*stride),
	}
}

// Stride is the maximum team size used for addressing.
func (t *Table) Stride() int {
	return t.stride
}

// MaxTeams is the number of addressable teams.
func (t *Table) MaxTeams() int {
	return t.maxTeams
}

// Len returns the total number of slots.
func (t *Table) Len() int {
	return len(t.slots)
}

// Index returns the slot index for the member with the given index in the team
// with the given id.
func (t *Table) Index(teamID int, memberIndex int) (int, error) {
	if teamID < 1 || teamID > t.maxTeams {
		return -1, errors.Error{
			Code:    errors.ErrInternal,
			Kind:    errors.KindSlotOutOfBounds,
			Message: fmt.Sprintf("team id %d out of bounds (max %d)", teamID, t.maxTeams),
			Details: errors.Details{"team_id": teamID},
		}
	}
	if memberIndex < 0 || memberIndex >= t.stride {
		return -1, errors.Error{
			Code:    errors.ErrInternal,
			Kind:    errors.KindSlotOutOfBounds,
			Message: fmt.Sprintf("member index %d out of bounds (stride %d)", memberIndex, t.stride),
			Details: errors.Details{"team_id": teamID, "member_index": memberIndex},
		}
	}
	return (teamID-1)*t.stride + memberIndex, nil
}

// SyncTeam rewrites the whole slot range of the team with the given id. Slots
// beyond the member count are cleared to Empty. The written range is returned
// for replication.
func (t *Table) SyncTeam(teamID int, members []Member) (RangeUpdate, error) {
	if len(members) > t.stride {
		return RangeUpdate{}, errors.Error{
			Code:    errors.ErrInternal,
			Kind:    errors.KindSlotOutOfBounds,
			Message: fmt.Sprintf("team has %d members but stride is %d", len(members), t.stride),
			Details: errors.Details{"team_id": teamID},
		}
	}
	first, err := t.Index(teamID, 0)
	if err != nil {
		return RangeUpdate{}, errors.Wrap(err, "index of first team slot", nil)
	}
	for i := 0; i < t.stride; i++ {
		if i < len(members) {
			m := members[i]
			t.slots[first+i] = Slot{
				TeamID:      teamID,
				UserID:      m.UserID,
				DisplayName: m.DisplayName,
				Alive:       m.Alive,
				Leader:      m.Leader,
			}
			t.ready[first+i] = m.Ready
		} else {
			t.slots[first+i] = Empty
			t.ready[first+i] = false
		}
	}
	return t.rangeOf(teamID, first), nil
}

// rangeOf copies the slot range starting at first.
func (t *Table) rangeOf(teamID int, first int) RangeUpdate {
	update := RangeUpdate{
		TeamID:     teamID,
		FirstIndex: first,
		Slots:      make([]Slot, t.stride),
		Ready:      make([]bool, t.stride),
	}
	copy(update.Slots, t.slots[first:first+t.stride])
	copy(update.Ready, t.ready[first:first+t.stride])
	return update
}

// TeamRange returns a copy of the slot range of the given team.
func (t *Table) TeamRange(teamID int) (RangeUpdate, error) {
	first, err := t.Index(teamID, 0)
	if err != nil {
		return RangeUpdate{}, err
	}
	return t.rangeOf(teamID, first), nil
}

// Slot returns the slot at the given index.
func (t *Table) Slot(index int) (Slot, bool) {
	if index < 0 || index >= len(t.slots) {
		return Empty, false
	}
	return t.slots[index], true
}

// Ready returns the ready flag at the given index.
func (t *Table) Ready(index int) bool {
	if index < 0 || index >= len(t.ready) {
		return false
	}
	return t.ready[index]
}

// Apply applies a RangeUpdate received from the authority. The update must
// address exactly the range of its team.
func (t *Table) Apply(update RangeUpdate) error {
	first, err := t.Index(update.TeamID, 0)
	if err != nil {
		return errors.Wrap(err, "index of first team slot", nil)
	}
	if first != update.FirstIndex || len(update.Slots) != t.stride || len(update.Ready) != t.stride {
		return errors.Error{
			Code:    errors.ErrProtocolViolation,
			Kind:    errors.KindSlotOutOfBounds,
			Message: "range update does not match table addressing",
			Details: errors.Details{
				"team_id":        update.TeamID,
				"first_index":    update.FirstIndex,
				"expected_first": first,
				"slot_count":     len(update.Slots),
				"stride":         t.stride,
			},
		}
	}
	copy(t.slots[first:first+t.stride], update.Slots)
	copy(t.ready[first:first+t.stride], update.Ready)
	return nil
}

// Snapshot returns a full copy of the table.
func (t *Table) Snapshot() Snapshot {
	s := Snapshot{
		Stride:   t.stride,
		MaxTeams: t.maxTeams,
		Slots:    make([]Slot, len(t.slots)),
		Ready:    make([]bool, len(t.ready)),
	}
	copy(s.Slots, t.slots)
	copy(s.Ready, t.ready)
	return s
}

// ApplySnapshot replaces the whole content with the given Snapshot. The table
// is resized if the snapshot has different dimensions.
func (t *Table) ApplySnapshot(s Snapshot) error {
	if s.Stride < 1 || s.MaxTeams < 1 || len(s.Slots) != s.Stride*s.MaxTeams || len(s.Ready) != len(s.Slots) {
		return errors.Error{
			Code:    errors.ErrProtocolViolation,
			Kind:    errors.KindSlotOutOfBounds,
			Message: "invalid snapshot dimensions",
			Details: errors.Details{"stride": s.Stride, "max_teams": s.MaxTeams, "slot_count": len(s.Slots)},
		}
	}
	t.stride = s.Stride
	t.maxTeams = s.MaxTeams
	t.slots = make([]Slot, len(s.Slots))
	t.ready = make([]bool, len(s.Ready))
	copy(t.slots, s.Slots)
	copy(t.ready, s.Ready)
	return nil
}

// Occupied returns the indices of all non-empty slots.
func (t *Table) Occupied() []int {
	indices := make([]int, 0)
	for i, s := range t.slots {
		if !s.IsEmpty() {
			indices = append(indices, i)
		}
	}
	return indices
}
