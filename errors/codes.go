package errors

// Code is the general error code.
type Code string

const (
	ErrAborted           Code = "aborted"
	ErrBadRequest        Code = "bad-request"
	ErrCommunication     Code = "communication"
	ErrProtocolViolation Code = "protocol-violation"
	ErrFatal             Code = "fatal"
	ErrNotFound          Code = "not-found"
	ErrInternal          Code = "internal"
	ErrUnexpected        Code = "unexpected"
)

// Kind is a more specific description of an error than Code.
type Kind string

const (
	// KindAlreadyBeingRevived is used when a revive is started for a player that
	// already has a reviver.
	KindAlreadyBeingRevived Kind = "already-being-revived"
	// KindBledOut is used for operations on a player that already bled out.
	KindBledOut Kind = "bled-out"
	// KindContextAborted is used when we were currently performing an operation but
	// the context got aborted.
	KindContextAborted Kind = "context-aborted"
	KindDB             Kind = "db"
	KindDBQuery        Kind = "db-query"
	KindDBRollback     Kind = "db-rollback"
	KindDecodeJSON     Kind = "decode-json"
	KindEncodeJSON     Kind = "encode-json"
	// KindForbiddenMessage is used when a message type is not allowed in the
	// current connection state.
	KindForbiddenMessage Kind = "forbidden-message"
	// KindInvalidDamage is used for damage reports with non-positive amount.
	KindInvalidDamage Kind = "invalid-damage"
	// KindInvalidDuration is used for configured durations that cannot be parsed.
	KindInvalidDuration Kind = "invalid-duration"
	// KindInvalidTeamMode is used for team modes that are not Solo, Duo or Squad.
	KindInvalidTeamMode Kind = "invalid-team-mode"
	// KindMissingCollaborator is used when an operation depends on a service that
	// is not available yet.
	KindMissingCollaborator Kind = "missing-collaborator"
	// KindNotAuthority is used when authority-only operations are requested by
	// somebody else.
	KindNotAuthority Kind = "not-authority"
	// KindNotDown is used when a revive is started for a player that is not down.
	KindNotDown Kind = "not-down"
	// KindNotTeammates is used when reviver and target are not in the same team.
	KindNotTeammates Kind = "not-teammates"
	// KindNoReviveInProgress is used when a revive is cancelled that does not
	// exist.
	KindNoReviveInProgress Kind = "no-revive-in-progress"
	// KindOutOfRange is used when the reviver is too far away from the target.
	KindOutOfRange Kind = "out-of-range"
	// KindReviverDown is used when a downed player tries to revive somebody.
	KindReviverDown Kind = "reviver-down"
	// KindSelfRevive is used when a player tries to revive himself.
	KindSelfRevive       Kind = "self-revive"
	KindResourceNotFound Kind = "resource-not-found"
	// KindSessionFull is used when no more team ids can be addressed in the slot
	// table.
	KindSessionFull Kind = "session-full"
	// KindSlotOutOfBounds is used when a slot address does not fit into the slot
	// table.
	KindSlotOutOfBounds Kind = "slot-out-of-bounds"
	// KindTeamFull is used when a team has no free capacity.
	KindTeamFull Kind = "team-full"
	KindUnexpected Kind = "unexpected"
	// KindUnknownMessageType is used for messages with a type we do not know.
	KindUnknownMessageType Kind = "unknown-message-type"
	// KindUnknownPlayer is used when no player entity exists for an id.
	KindUnknownPlayer Kind = "unknown-player"
	// KindUnknownUser is used when a user is not part of any team.
	KindUnknownUser Kind = "unknown-user"
)
