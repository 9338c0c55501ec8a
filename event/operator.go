package event

// SetTeamModeEvent is received from operators for changing the team mode.
type SetTeamModeEvent struct {
	Mode int `json:"mode"`
}

// DownPlayerEvent is received from the damage system when a player's health
// got depleted and the player needs to enter the downed state.
type DownPlayerEvent struct {
	PlayerID string `json:"player_id"`
}

// DamageReportEvent is received from hit-detecting devices.
type DamageReportEvent struct {
	TargetID string  `json:"target_id"`
	SourceID string  `json:"source_id"`
	Amount   float64 `json:"amount"`
}
