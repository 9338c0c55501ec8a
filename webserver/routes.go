package webserver

import (
	"context"
	"encoding/json"
	"github.com/gorilla/mux"
	"github.com/lefinal/royale-server/errors"
	"github.com/lefinal/royale-server/messages"
	"github.com/lefinal/royale-server/revive"
	"github.com/lefinal/royale-server/session"
	"github.com/lefinal/royale-server/team"
	"github.com/lefinal/royale-server/ws"
	"net/http"
)

// Session is the session the REST API answers queries for.
type Session interface {
	Mode() team.Mode
	Teams() []team.Record
	Team(teamID team.TeamID) (team.Record, bool)
	PlayerTeam(user team.UserID) (team.TeamID, bool)
	IsTeamReady(teamID team.TeamID) bool
	IsAlive(user team.UserID) bool
	DisplayName(user team.UserID) string
	ReviveStatus(player team.UserID) (revive.Status, bool)
	Stats() session.Stats
}

// PopulateRoutes populates the WebServer with the routes.
func (server *WebServer) PopulateRoutes(ctx context.Context, hub *ws.Hub, s Session) {
	if hub != nil {
		server.router.HandleFunc("/ws", ws.HandleWS(ctx, hub))
	}
	apiRouter := server.router.PathPrefix("/api/v1").Subrouter()
	apiRouter.HandleFunc("/teams", handleGetTeams(s)).Methods(http.MethodGet)
	apiRouter.HandleFunc("/teams/{teamID}", handleGetTeam(s)).Methods(http.MethodGet)
	apiRouter.HandleFunc("/players/{userID}", handleGetPlayer(s)).Methods(http.MethodGet)
	apiRouter.HandleFunc("/stats", handleGetStats(s)).Methods(http.MethodGet)
}

// memberResponse is a team member in API responses.
type memberResponse struct {
	UserID      team.UserID    `json:"user_id"`
	DisplayName string         `json:"display_name"`
	IsLeader    bool           `json:"is_leader"`
	IsAlive     bool           `json:"is_alive"`
	Revive      *revive.Status `json:"revive,omitempty"`
}

// teamResponse is a team in API responses.
type teamResponse struct {
	ID      team.TeamID      `json:"id"`
	Leader  team.UserID      `json:"leader"`
	IsReady bool             `json:"is_ready"`
	Members []memberResponse `json:"members"`
}

// teamsResponse is the response for handleGetTeams.
type teamsResponse struct {
	Mode  string         `json:"mode"`
	Teams []teamResponse `json:"teams"`
}

// playerResponse is the response for handleGetPlayer.
type playerResponse struct {
	UserID      team.UserID    `json:"user_id"`
	DisplayName string         `json:"display_name"`
	TeamID      *team.TeamID   `json:"team_id"`
	IsAlive     bool           `json:"is_alive"`
	Revive      *revive.Status `json:"revive,omitempty"`
}

// reviveStatus returns the revive status of the given player or nil if not
// spawned.
func reviveStatus(s Session, user team.UserID) *revive.Status {
	status, ok := s.ReviveStatus(user)
	if !ok {
		return nil
	}
	return &status
}

func teamResponseFromRecord(s Session, record team.Record) teamResponse {
	members := make([]memberResponse, 0, len(record.Members))
	for _, member := range record.Members {
		members = append(members, memberResponse{
			UserID:      member,
			DisplayName: s.DisplayName(member),
			IsLeader:    member == record.Leader,
			IsAlive:     s.IsAlive(member),
			Revive:      reviveStatus(s, member),
		})
	}
	return teamResponse{
		ID:      record.ID,
		Leader:  record.Leader,
		IsReady: s.IsTeamReady(record.ID),
		Members: members,
	}
}

func handleGetTeams(s Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		records := s.Teams()
		res := teamsResponse{
			Mode:  s.Mode().String(),
			Teams: make([]teamResponse, 0, len(records)),
		}
		for _, record := range records {
			res.Teams = append(res.Teams, teamResponseFromRecord(s, record))
		}
		respondJSON(w, http.StatusOK, res)
	}
}

func handleGetTeam(s Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		teamIDStr := mux.Vars(r)["teamID"]
		teamID, ok := team.ParseTeamID(teamIDStr)
		if !ok {
			respondError(w, errors.NewBadRequestErr(errors.KindResourceNotFound, "invalid team id",
				errors.Details{"team_id": teamIDStr}))
			return
		}
		record, ok := s.Team(teamID)
		if !ok {
			respondError(w, errors.NewResourceNotFoundError("team not found", errors.Details{"team_id": teamID}))
			return
		}
		respondJSON(w, http.StatusOK, teamResponseFromRecord(s, record))
	}
}

func handleGetPlayer(s Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := team.UserID(mux.Vars(r)["userID"])
		res := playerResponse{
			UserID:      user,
			DisplayName: s.DisplayName(user),
			IsAlive:     s.IsAlive(user),
			Revive:      reviveStatus(s, user),
		}
		if teamID, ok := s.PlayerTeam(user); ok {
			res.TeamID = &teamID
		}
		if res.TeamID == nil && res.Revive == nil {
			respondError(w, errors.NewResourceNotFoundError("player not found", errors.Details{"user_id": user}))
			return
		}
		respondJSON(w, http.StatusOK, res)
	}
}

func handleGetStats(s Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, s.Stats())
	}
}

// respondJSON writes the given status and the JSON encoded body.
func respondJSON(w http.ResponseWriter, status int, body interface{}) {
	raw, err := json.Marshal(body)
	if err != nil {
		respondError(w, errors.NewJSONError(err, "marshal response", false))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(raw)
}

// respondError writes the given error as messages.MessageError with the status
// matching the error code.
func respondError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if e, ok := errors.Cast(err); ok {
		switch e.Code {
		case errors.ErrBadRequest, errors.ErrProtocolViolation:
			status = http.StatusBadRequest
		case errors.ErrNotFound:
			status = http.StatusNotFound
		}
	}
	raw, _ := json.Marshal(messages.MessageErrorFromError(err))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(raw)
}
