// Provide basic event functionality.

package event

import (
	"github.com/eclipse/paho.golang/paho"
	"github.com/lefinal/royale-server/errors"
)

// Event is a received MQTT message along with its parsed payload.
type Event[T any] struct {
	Publish *paho.Publish
	Payload T
}

// EmptyEvent is used for events without any payload.
type EmptyEvent struct{}

// ErrorEventPayload is used for errors that need to be sent to clients.
type ErrorEventPayload struct {
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

// ErrorEventPayloadFromError creates a ErrorEventPayload from the given error.
// Internal errors are masked.
func ErrorEventPayloadFromError(err error) ErrorEventPayload {
	e, _ := errors.Cast(err)
	if !errors.BlameUser(err) {
		return ErrorEventPayload{
			Code:    string(e.Code),
			Message: "internal server error",
		}
	}
	return ErrorEventPayload{
		Code:    string(e.Code),
		Kind:    string(e.Kind),
		Err:     e.Error(),
		Message: e.Message,
		Details: e.Details,
	}
}
