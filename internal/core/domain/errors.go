package domain

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrMalformedEnvelope   = errors.New("malformed envelope")
	ErrUnknownMessageType  = errors.New("unknown message type")
	ErrInvalidPayload      = errors.New("invalid payload")
	ErrInvalidToken        = errors.New("invalid token")
	ErrNotParticipant      = errors.New("not a participant of this conversation")
	ErrNotContactable      = errors.New("not allowed to contact this user")
	ErrCallNotFound        = errors.New("call not found")
	ErrNotCallParty        = errors.New("not a party of this call")
	ErrUserNotFound        = errors.New("user not found")
	ErrConversationInvalid = errors.New("invalid conversation id")
	ErrSlowConsumer        = errors.New("connection send buffer full")
	ErrConnectionClosed    = errors.New("connection closed")
)

type ErrorKind int

const (
	KindProtocol ErrorKind = iota
	KindAuth
	KindAuthorization
	KindNotFound
	KindInternal
)

func (k ErrorKind) Code() int {
	switch k {
	case KindProtocol:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusUnauthorized
	case KindAuthorization:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Error is a failure that is reported back over the socket. Message is the
// client-safe text; Err keeps the cause for logs.
type Error struct {
	Kind    ErrorKind
	Message string
	TempID  string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// WithTempID returns a copy correlated to a client-side optimistic message.
func (e *Error) WithTempID(tempID string) *Error {
	cp := *e
	cp.TempID = tempID
	return &cp
}

// Payload converts the error into its wire form.
func (e *Error) Payload() ErrorPayload {
	return ErrorPayload{Message: e.Message, Code: e.Kind.Code(), TempID: e.TempID}
}

func ProtocolError(msg string, err error) *Error {
	return &Error{Kind: KindProtocol, Message: msg, Err: err}
}

func AuthError(err error) *Error {
	return &Error{Kind: KindAuth, Message: "invalid token or user id", Err: err}
}

func AuthorizationError(msg string, err error) *Error {
	return &Error{Kind: KindAuthorization, Message: msg, Err: err}
}

func NotFoundError(msg string, err error) *Error {
	return &Error{Kind: KindNotFound, Message: msg, Err: err}
}

func InternalError(msg string, err error) *Error {
	return &Error{Kind: KindInternal, Message: msg, Err: err}
}

// AsError maps any error onto the wire taxonomy; unknown errors are internal.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return InternalError("internal server error", err)
}
