// Package team manages team formation, capacity enforcement and member/leader
// bookkeeping. The Registry is the canonical state owned by the coordinator;
// TableView answers the same queries from a replicated slot table.
package team

import (
	"fmt"
	"strconv"
	"strings"
)

// UserID is the persistent identity of a user.
type UserID string

// NoUser is used for absent user references.
const NoUser UserID = ""

// TeamID is the transient, authority-assigned id of a team. Ids start at 1, are
// monotonically increasing and never reused within a session.
type TeamID int

// NoTeam is used when a request does not target a specific team.
const NoTeam TeamID = 0

// ParseTeamID parses the given string as TeamID. Empty strings and invalid
// values result in NoTeam and false.
func ParseTeamID(s string) (TeamID, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return NoTeam, false
	}
	id, err := strconv.Atoi(s)
	if err != nil || id < 1 {
		return NoTeam, false
	}
	return TeamID(id), true
}

// Mode is the capacity policy for teams.
type Mode int

const (
	// ModeSolo allows one member per team.
	ModeSolo Mode = 1
	// ModeDuo allows two members per team.
	ModeDuo Mode = 2
	// ModeSquad allows four members per team.
	ModeSquad Mode = 4
)

// MaxTeamSize is the capacity of the largest Mode. Used as stride for the slot
// table.
const MaxTeamSize = int(ModeSquad)

// Valid describes whether the mode is one of Solo, Duo or Squad.
func (m Mode) Valid() bool {
	switch m {
	case ModeSolo, ModeDuo, ModeSquad:
		return true
	}
	return false
}

// Capacity is the maximum member count for teams.
func (m Mode) Capacity() int {
	return int(m)
}

func (m Mode) String() string {
	switch m {
	case ModeSolo:
		return "solo"
	case ModeDuo:
		return "duo"
	case ModeSquad:
		return "squad"
	}
	return fmt.Sprintf("unknown(%d)", int(m))
}

// Record is a team with its members.
type Record struct {
	ID TeamID `json:"id"`
	// Members in join order. Never empty while the record exists.
	Members []UserID `json:"members"`
	// Leader is the party leader.
	Leader UserID `json:"leader"`
}

// clone returns a deep copy of the Record.
func (r *Record) clone() Record {
	members := make([]UserID, len(r.Members))
	copy(members, r.Members)
	return Record{
		ID:      r.ID,
		Members: members,
		Leader:  r.Leader,
	}
}

// indexOf returns the member index of the given user or -1.
func (r *Record) indexOf(user UserID) int {
	for i, member := range r.Members {
		if member == user {
			return i
		}
	}
	return -1
}

// Directory answers team queries. Answers may be momentarily stale on
// replicas. "Not yet teammates" is a valid answer, never a fault.
type Directory interface {
	// Mode returns the current team mode.
	Mode() Mode
	// PlayerTeam returns the team of the given user.
	PlayerTeam(user UserID) (TeamID, bool)
	// TeamMembers returns the members of the given team in join order.
	TeamMembers(team TeamID) []UserID
	// AreTeammates describes whether both users are distinct members of the same
	// team.
	AreTeammates(a UserID, b UserID) bool
	// IsTeamReady describes whether the team exists and all members are ready.
	IsTeamReady(team TeamID) bool
	// IsAlive returns the statistics-alive flag of the given user. Users that are
	// not member of any team are never alive.
	IsAlive(user UserID) bool
}
