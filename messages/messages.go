// Package messages provides the JSON wire format for the player websocket
// transport.
package messages

import (
	"encoding/json"
	"github.com/lefinal/royale-server/errors"
	"github.com/lefinal/royale-server/session"
	"github.com/lefinal/royale-server/world"
)

// MessageType is the type of message and serves for using the correct parsing
// method.
type MessageType string

// MessageContainer is a container for all messages that are sent and received.
// It holds some meta information as well as the actual payload.
type MessageContainer struct {
	// MessageType is the type of the message.
	MessageType MessageType `json:"message_type"`
	// UserID is the id of the user the message belongs to. Only set by the
	// server.
	UserID string `json:"user_id,omitempty"`
	// Content is the actual message content.
	Content json.RawMessage `json:"content,omitempty"`
}

// All message types.
const (
	// MessageTypeError is used for error messages. The content is being set to the
	// detailed error.
	MessageTypeError MessageType = "error"
	// MessageTypeHello is received with MessageHello for saying hello to the
	// server.
	MessageTypeHello MessageType = "hello"
	// MessageTypeWelcome is sent to the client when it is welcomed at the server.
	// Used with MessageWelcome.
	MessageTypeWelcome MessageType = "welcome"
	// MessageTypeUpdate is sent with MessageUpdate for replication.
	MessageTypeUpdate MessageType = "update"
	// MessageTypeJoinTeam is received with MessageJoinTeam.
	MessageTypeJoinTeam MessageType = "join-team"
	// MessageTypeLeaveTeam is received without content.
	MessageTypeLeaveTeam MessageType = "leave-team"
	// MessageTypeSetReady is received with MessageSetReady.
	MessageTypeSetReady MessageType = "set-ready"
	// MessageTypeSetTeamMode is received with MessageSetTeamMode.
	MessageTypeSetTeamMode MessageType = "set-team-mode"
	// MessageTypeStartRevive is received with MessageRevive.
	MessageTypeStartRevive MessageType = "start-revive"
	// MessageTypeCancelRevive is received with MessageRevive.
	MessageTypeCancelRevive MessageType = "cancel-revive"
	// MessageTypeMove is received with MessageMove.
	MessageTypeMove MessageType = "move"
	// MessageTypeInteractHold is received without content when the player starts
	// holding the interaction input.
	MessageTypeInteractHold MessageType = "interact-hold"
	// MessageTypeInteractRelease is received without content when the player
	// releases the interaction input.
	MessageTypeInteractRelease MessageType = "interact-release"
)

// MessageError is used with MessageTypeError for errors that need to be sent
// to clients.
type MessageError struct {
	// Code is the error code from errors.Error.
	Code string `json:"code"`
	// Kind is the error kind from errors.Error.
	Kind string `json:"kind,omitempty"`
	// Err is the error from errors.Error.
	Err string `json:"err"`
	// Message is the message from errors.Error.
	Message string `json:"message"`
	// Details are error details from errors.Error.
	Details map[string]interface{} `json:"details"`
}

// MessageErrorFromError creates a MessageError from the given error. Errors
// not caused by the user are masked.
func MessageErrorFromError(err error) MessageError {
	e, _ := errors.Cast(err)
	if !errors.BlameUser(err) {
		return MessageError{
			Code:    string(e.Code),
			Message: "internal server error",
		}
	}
	return MessageError{
		Code:    string(e.Code),
		Kind:    string(e.Kind),
		Err:     e.Error(),
		Message: e.Message,
		Details: e.Details,
	}
}

// MessageHello is the first message from a client.
type MessageHello struct {
	// UserID is the stable id of the user. If empty, a new one is assigned.
	UserID string `json:"user_id"`
	// DisplayName is the human-readable name.
	DisplayName string `json:"display_name"`
	// Position is the spawn position.
	Position world.Vec3 `json:"position"`
}

// MessageWelcome is the answer to MessageHello.
type MessageWelcome struct {
	// UserID is the assigned user id.
	UserID string `json:"user_id"`
	// DisplayName is the known display name.
	DisplayName string `json:"display_name"`
	// SessionID is the id of the joined session.
	SessionID string `json:"session_id"`
}

// MessageUpdate is used with MessageTypeUpdate.
type MessageUpdate session.Update

// MessageJoinTeam is used with MessageTypeJoinTeam.
type MessageJoinTeam struct {
	// TeamID is the team to join. 0 creates a new team.
	TeamID int `json:"team_id"`
	// DisplayName overrides the display name from hello. Optional.
	DisplayName string `json:"display_name,omitempty"`
}

// MessageSetReady is used with MessageTypeSetReady.
type MessageSetReady struct {
	Ready bool `json:"ready"`
}

// MessageSetTeamMode is used with MessageTypeSetTeamMode.
type MessageSetTeamMode struct {
	// Mode is the team capacity (1, 2 or 4).
	Mode int `json:"mode"`
}

// MessageRevive is used with MessageTypeStartRevive and
// MessageTypeCancelRevive.
type MessageRevive struct {
	// TargetID is the downed player.
	TargetID string `json:"target_id"`
}

// MessageMove is used with MessageTypeMove.
type MessageMove struct {
	Position world.Vec3 `json:"position"`
}
