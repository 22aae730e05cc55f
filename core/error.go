package core

import (
	"errors"

	"github.com/putto11262002/studyroom/pkg/proto"
)

// Error is an error with a classification from the proto taxonomy.
type Error struct {
	kind error
	msg  string
	// Sensitive marks errors whose message must not be returned to a client.
	Sensitive bool
}

func NewError(kind error, msg string, sensitive bool) *Error {
	return &Error{kind: kind, msg: msg, Sensitive: sensitive}
}

func NewSensitiveError(kind error, msg string) *Error {
	return &Error{kind: kind, msg: msg, Sensitive: true}
}

func NewInsensitiveError(kind error, msg string) *Error {
	return &Error{kind: kind, msg: msg, Sensitive: false}
}

func (e *Error) Error() string {
	return e.kind.Error() + ": " + e.msg
}

func (e *Error) Unwrap() error {
	return e.kind
}

// ClientMessage returns the text that may be shown to the peer for err.
func ClientMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Sensitive {
		return e.kind.Error()
	}
	switch proto.CodeOf(err) {
	case proto.CodeInternal:
		return "internal error"
	case proto.CodeStoreUnavailable:
		return proto.ErrStoreUnavailable.Error()
	}
	return err.Error()
}

// ErrorEvent builds the error envelope sent to a peer for err.
func ErrorEvent(roomID, messageID string, err error) proto.ErrorEvent {
	return proto.ErrorEvent{
		RoomID:    roomID,
		Code:      proto.CodeOf(err),
		Message:   ClientMessage(err),
		MessageID: messageID,
		Timestamp: now(),
	}
}
