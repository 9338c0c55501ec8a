package team

import "github.com/lefinal/royale-server/slots"

// TableView answers Directory queries from a replicated slots.Table. It holds
// no lock. The owner of the table must lock around calls.
type TableView struct {
	Table *slots.Table
	// CurrentMode is the last replicated team mode.
	CurrentMode Mode
}

// Mode returns the last replicated team mode.
func (v TableView) Mode() Mode {
	return v.CurrentMode
}

// findUser returns the slot index of the given user.
func (v TableView) findUser(user UserID) (int, slots.Slot, bool) {
	if user == NoUser {
		return -1, slots.Empty, false
	}
	for _, index := range v.Table.Occupied() {
		s, _ := v.Table.Slot(index)
		if s.UserID == string(user) {
			return index, s, true
		}
	}
	return -1, slots.Empty, false
}

// PlayerTeam returns the team of the given user.
func (v TableView) PlayerTeam(user UserID) (TeamID, bool) {
	_, s, ok := v.findUser(user)
	if !ok {
		return NoTeam, false
	}
	return TeamID(s.TeamID), true
}

// TeamMembers returns the members of the given team in slot order which equals
// join order.
func (v TableView) TeamMembers(teamID TeamID) []UserID {
	members := make([]UserID, 0)
	r, err := v.Table.TeamRange(int(teamID))
	if err != nil {
		return members
	}
	for _, s := range r.Slots {
		if !s.IsEmpty() {
			members = append(members, UserID(s.UserID))
		}
	}
	return members
}

// AreTeammates describes whether both users are distinct members of the same
// team.
func (v TableView) AreTeammates(a UserID, b UserID) bool {
	if a == b {
		return false
	}
	teamA, ok := v.PlayerTeam(a)
	if !ok {
		return false
	}
	teamB, ok := v.PlayerTeam(b)
	return ok && teamA == teamB
}

// IsTeamReady describes whether the team has members and all of them are
// ready.
func (v TableView) IsTeamReady(teamID TeamID) bool {
	r, err := v.Table.TeamRange(int(teamID))
	if err != nil {
		return false
	}
	memberCount := 0
	for i, s := range r.Slots {
		if s.IsEmpty() {
			continue
		}
		memberCount++
		if !r.Ready[i] {
			return false
		}
	}
	return memberCount > 0
}

// IsAlive returns the replicated statistics-alive flag. Users that are not
// member of any team are reported as not alive.
func (v TableView) IsAlive(user UserID) bool {
	_, s, ok := v.findUser(user)
	return ok && s.Alive
}

// Leader returns the leader of the given team.
func (v TableView) Leader(teamID TeamID) (UserID, bool) {
	r, err := v.Table.TeamRange(int(teamID))
	if err != nil {
		return NoUser, false
	}
	for _, s := range r.Slots {
		if !s.IsEmpty() && s.Leader {
			return UserID(s.UserID), true
		}
	}
	return NoUser, false
}
