package lmqttcore

import (
	"fmt"

	"github.com/pkg/errors"
)

// Sentinel errors returned by the public command API's own validation,
// before anything touches a store.
var (
	ErrClientIDTooLong                      = errors.New("lmqttcore: client id exceeds 65535 bytes")
	ErrClientIDRequiredForContinuedSession  = errors.New("lmqttcore: client id must be non-empty when clean_session is false")
	ErrPasswordWithoutUserName              = errors.New("lmqttcore: password requires a user name")
	ErrTopicRequired                        = errors.New("lmqttcore: topic must be non-empty")
	ErrTopicTooLong                         = errors.New("lmqttcore: topic exceeds 65535 bytes")
	ErrPayloadTooLong                       = errors.New("lmqttcore: payload exceeds the wire's addressable length")
	ErrInvalidQoS                           = errors.New("lmqttcore: QoS must be 0, 1 or 2")
	ErrNoSubscriptions                      = errors.New("lmqttcore: subscribe requires at least one topic filter")
	ErrNoTopics                             = errors.New("lmqttcore: unsubscribe requires at least one topic filter")
	ErrStoreFull                            = errors.New("lmqttcore: store is at capacity")
	ErrCommandNotAllowed                    = errors.New("lmqttcore: command not allowed in the current state")
	ErrFinalized                            = errors.New("lmqttcore: client has been finalized; call Reset first")
	ErrResetWhileNotFailed                  = errors.New("lmqttcore: Reset is only valid from a closed FAILED client")
)

// Error wraps a protocol (wire codec) failure with the client state it
// triggered. Client.LastError returns this after RunOnce reports
// StatusError.
type Error struct {
	State State
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("lmqttcore: %s: %v", e.State, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newProtocolError(state State, err error) *Error {
	return &Error{State: state, Err: err}
}
