package errors

import "fmt"

// NewResourceNotFoundError returns a new ErrNotFound error with kind
// KindResourceNotFound and the given message.
func NewResourceNotFoundError(message string, details Details) error {
	return Error{
		Code:    ErrNotFound,
		Kind:    KindResourceNotFound,
		Message: message,
		Details: details,
	}
}

// NewInternalError returns an ErrInternal error with the given message.
func NewInternalError(message string, details Details) error {
	return Error{
		Code:    ErrInternal,
		Message: message,
		Details: details,
	}
}

// NewInternalErrorFromErr returns an ErrInternal error wrapping the given one.
func NewInternalErrorFromErr(err error, message string, details Details) error {
	return Error{
		Code:    ErrInternal,
		Err:     err,
		Message: message,
		Details: details,
	}
}

// NewBadRequestErr returns an ErrBadRequest error with the given Kind.
func NewBadRequestErr(kind Kind, message string, details Details) error {
	return Error{
		Code:    ErrBadRequest,
		Kind:    kind,
		Message: message,
		Details: details,
	}
}

// NewContextAbortedError returns an ErrAborted error with kind
// KindContextAborted for the given operation.
func NewContextAbortedError(currentOperation string) error {
	return Error{
		Code:    ErrAborted,
		Kind:    KindContextAborted,
		Message: fmt.Sprintf("context aborted while %s", currentOperation),
	}
}

// NewQueryToSQLError is used when building a query failed.
func NewQueryToSQLError(err error, details Details) error {
	return Error{
		Code:    ErrInternal,
		Kind:    KindDBQuery,
		Err:     err,
		Message: "query to sql",
		Details: details,
	}
}

// NewExecQueryError is used when executing the given query failed.
func NewExecQueryError(err error, message string, query string) error {
	return Error{
		Code:    ErrInternal,
		Kind:    KindDBQuery,
		Err:     err,
		Message: message,
		Details: Details{"query": query},
	}
}

// NewScanDBRowError is used when scanning a result row failed.
func NewScanDBRowError(err error, message string, query string) error {
	return Error{
		Code:    ErrInternal,
		Kind:    KindDBQuery,
		Err:     err,
		Message: message,
		Details: Details{"query": query},
	}
}

// NewDBTxBeginError is used when a transaction could not be started.
func NewDBTxBeginError(err error) error {
	return Error{
		Code:    ErrInternal,
		Kind:    KindDB,
		Err:     err,
		Message: "begin tx",
	}
}

// NewDBTxCommitError is used when a transaction could not be committed.
func NewDBTxCommitError(err error) error {
	return Error{
		Code:    ErrInternal,
		Kind:    KindDB,
		Err:     err,
		Message: "commit tx",
	}
}

// NewJSONError is used for failed JSON encoding or decoding. If blameUser is
// set, the error is ErrBadRequest with KindDecodeJSON as the input was
// malformed. Otherwise, it is ErrInternal with KindEncodeJSON.
func NewJSONError(err error, message string, blameUser bool) error {
	if blameUser {
		return Error{
			Code:    ErrBadRequest,
			Kind:    KindDecodeJSON,
			Err:     err,
			Message: message,
		}
	}
	return Error{
		Code:    ErrInternal,
		Kind:    KindEncodeJSON,
		Err:     err,
		Message: message,
	}
}
