package stt

import (
	"context"
	"errors"
	"fmt"
	"io"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrProviderUnavailable is returned by Open when the provider cannot be
// reached or refuses the credentials.
var ErrProviderUnavailable = errors.New("stt provider unavailable")

// ErrStreamEnded is reported when the provider closes a stream without an error
// status, typically at its lifetime cap.
var ErrStreamEnded = errors.New("stt stream ended by provider")

// Kind separates failures a restart can recover from those it cannot.
type Kind int

const (
	KindTransient Kind = iota
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error attaches a Kind to a provider failure.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s stt error: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Fatal marks err as unrecoverable by restarting.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindFatal, Err: err}
}

// Transient marks err as recoverable by restarting.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindTransient, Err: err}
}

// Unavailable wraps an Open failure so that it matches ErrProviderUnavailable
// and keeps the classification of the underlying cause.
func Unavailable(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: Classify(err), Err: fmt.Errorf("%w: %w", ErrProviderUnavailable, err)}
}

// IsFatal reports whether err is classified as fatal.
func IsFatal(err error) bool {
	return err != nil && Classify(err) == KindFatal
}

// Classify maps an error to a Kind. Explicit marks win; gRPC status codes
// come next; anything else is treated as transient.
func Classify(err error) Kind {
	if err == nil {
		return KindTransient
	}

	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.EOF) {
		return KindTransient
	}

	if st, ok := status.FromError(err); ok {
		return classifyCode(st.Code())
	}
	return KindTransient
}

func classifyCode(c codes.Code) Kind {
	switch c {
	case codes.Unauthenticated,
		codes.PermissionDenied,
		codes.InvalidArgument,
		codes.ResourceExhausted,
		codes.FailedPrecondition,
		codes.Unimplemented,
		codes.NotFound:
		return KindFatal
	default:
		// Unavailable, DeadlineExceeded, Internal, Aborted, OutOfRange
		// (stream duration exceeded), Canceled, Unknown.
		return KindTransient
	}
}
