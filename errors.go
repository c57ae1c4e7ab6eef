package eventhubscope

import (
	"fmt"

	"github.com/pkg/errors"
)

// Sentinel errors identifying the taxonomy from the component design: callers
// can errors.Is against these regardless of which operation produced them.
var (
	// ErrDisposed is returned by any operation attempted after Dispose.
	ErrDisposed = errors.New("eventhubscope: scope is disposed")

	// ErrCancelled is returned when a caller-supplied context is done at a
	// step boundary inside an opener.
	ErrCancelled = errors.New("eventhubscope: operation cancelled")

	// ErrTimeout is returned when the remaining budget for an opener reaches
	// zero at a step boundary.
	ErrTimeout = errors.New("eventhubscope: operation timed out")

	// ErrTransport is returned when the underlying AMQP connection or
	// transport fails to open.
	ErrTransport = errors.New("eventhubscope: transport error")

	// ErrAuthorization is returned when a CBS token request is rejected or
	// times out.
	ErrAuthorization = errors.New("eventhubscope: authorization error")

	// ErrLinkCreation is returned when a session/link cannot be constructed,
	// or when the registry rejects a duplicate insertion.
	ErrLinkCreation = errors.New("eventhubscope: link creation error")
)

// ArgumentError reports a malformed or missing constructor/opener argument.
type ArgumentError struct {
	msg string
}

func (e *ArgumentError) Error() string { return "eventhubscope: " + e.msg }

// NewArgumentError builds an ArgumentError with the given message.
func NewArgumentError(format string, args ...interface{}) error {
	return &ArgumentError{msg: fmt.Sprintf(format, args...)}
}

// IsArgumentError reports whether err is (or wraps) an ArgumentError.
func IsArgumentError(err error) bool {
	_, ok := errors.Cause(err).(*ArgumentError)
	return ok
}

// wrapTimeout wraps ErrTimeout with the operation name that hit the deadline.
func wrapTimeout(op string) error {
	return errors.Wrapf(ErrTimeout, "%s", op)
}

// wrapCancelled wraps ErrCancelled with the operation name that observed
// cancellation.
func wrapCancelled(op string) error {
	return errors.Wrapf(ErrCancelled, "%s", op)
}

// wrapTransport wraps ErrTransport with additional context.
func wrapTransport(op string, cause error) error {
	return errors.Wrapf(ErrTransport, "%s: %v", op, cause)
}

// wrapAuthorization wraps ErrAuthorization with additional context.
func wrapAuthorization(op string, cause error) error {
	return errors.Wrapf(ErrAuthorization, "%s: %v", op, cause)
}

// wrapLinkCreation wraps ErrLinkCreation with additional context.
func wrapLinkCreation(op string, cause error) error {
	if cause == nil {
		return errors.Wrap(ErrLinkCreation, op)
	}
	return errors.Wrapf(ErrLinkCreation, "%s: %v", op, cause)
}
