package messages

import (
	"encoding/json"
	"fmt"
	"github.com/lefinal/royale-server/errors"
	"github.com/lefinal/royale-server/session"
	"github.com/lefinal/royale-server/team"
)

// ParseContainer parses the given raw message as MessageContainer.
func ParseContainer(raw []byte) (MessageContainer, error) {
	var container MessageContainer
	err := json.Unmarshal(raw, &container)
	if err != nil {
		return MessageContainer{}, errors.NewJSONError(err, "unmarshal message container", true)
	}
	return container, nil
}

// decodeContent decodes the content of the container into v.
func decodeContent(container MessageContainer, v interface{}) error {
	if len(container.Content) == 0 {
		return errors.NewBadRequestErr(errors.KindDecodeJSON, "missing content",
			errors.Details{"message_type": container.MessageType})
	}
	err := json.Unmarshal(container.Content, v)
	if err != nil {
		return errors.NewJSONError(err, fmt.Sprintf("unmarshal %s content", container.MessageType), true)
	}
	return nil
}

// ParseHello parses the given container as MessageHello.
func ParseHello(container MessageContainer) (MessageHello, error) {
	if container.MessageType != MessageTypeHello {
		return MessageHello{}, errors.NewBadRequestErr(errors.KindForbiddenMessage,
			"expected hello", errors.Details{"message_type": container.MessageType})
	}
	var hello MessageHello
	if len(container.Content) == 0 {
		return hello, nil
	}
	err := decodeContent(container, &hello)
	if err != nil {
		return MessageHello{}, err
	}
	return hello, nil
}

// ParseInteraction checks whether the container holds interaction input. The
// first return value describes whether the input is held.
func ParseInteraction(container MessageContainer) (bool, bool) {
	switch container.MessageType {
	case MessageTypeInteractHold:
		return true, true
	case MessageTypeInteractRelease:
		return false, true
	}
	return false, false
}

// CommandFromContainer creates the session.Command for the given container
// received from the given user.
func CommandFromContainer(user team.UserID, container MessageContainer) (session.Command, error) {
	switch container.MessageType {
	case MessageTypeJoinTeam:
		var m MessageJoinTeam
		if err := decodeContent(container, &m); err != nil {
			return nil, err
		}
		if m.TeamID < 0 {
			return nil, errors.NewBadRequestErr(errors.KindResourceNotFound, "invalid team id",
				errors.Details{"team_id": m.TeamID})
		}
		return session.JoinTeam{User: user, DisplayName: m.DisplayName, Team: team.TeamID(m.TeamID)}, nil
	case MessageTypeLeaveTeam:
		return session.LeaveTeam{User: user}, nil
	case MessageTypeSetReady:
		var m MessageSetReady
		if err := decodeContent(container, &m); err != nil {
			return nil, err
		}
		return session.SetReady{User: user, Ready: m.Ready}, nil
	case MessageTypeSetTeamMode:
		var m MessageSetTeamMode
		if err := decodeContent(container, &m); err != nil {
			return nil, err
		}
		mode := team.Mode(m.Mode)
		if !mode.Valid() {
			return nil, errors.NewBadRequestErr(errors.KindInvalidTeamMode, "invalid team mode",
				errors.Details{"mode": m.Mode})
		}
		return session.SetTeamMode{By: user, Mode: mode}, nil
	case MessageTypeStartRevive:
		var m MessageRevive
		if err := decodeContent(container, &m); err != nil {
			return nil, err
		}
		return session.StartRevive{Target: team.UserID(m.TargetID), Reviver: user}, nil
	case MessageTypeCancelRevive:
		var m MessageRevive
		if err := decodeContent(container, &m); err != nil {
			return nil, err
		}
		return session.CancelRevive{Target: team.UserID(m.TargetID), By: user}, nil
	case MessageTypeMove:
		var m MessageMove
		if err := decodeContent(container, &m); err != nil {
			return nil, err
		}
		return session.MovePlayer{User: user, Position: m.Position}, nil
	case MessageTypeHello:
		return nil, errors.NewBadRequestErr(errors.KindForbiddenMessage, "already said hello", nil)
	}
	return nil, errors.NewBadRequestErr(errors.KindUnknownMessageType, "unknown message type",
		errors.Details{"message_type": container.MessageType})
}

// Marshal marshals a MessageContainer with the given type, user id and
// content.
func Marshal(messageType MessageType, userID string, content interface{}) ([]byte, error) {
	var raw json.RawMessage
	if content != nil {
		var err error
		raw, err = json.Marshal(content)
		if err != nil {
			return nil, errors.NewJSONError(err, "marshal message content", false)
		}
	}
	b, err := json.Marshal(MessageContainer{
		MessageType: messageType,
		UserID:      userID,
		Content:     raw,
	})
	if err != nil {
		return nil, errors.NewJSONError(err, "marshal message container", false)
	}
	return b, nil
}
