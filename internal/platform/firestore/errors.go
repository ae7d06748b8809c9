package firestore

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type errorKind int

const (
	kindUnknown errorKind = iota
	kindNotFound
	kindConflict
	kindUnavailable
)

// Error implements repositories.RepositoryError for Firestore backed repositories.
type Error struct {
	Op   string
	Err  error
	kind errorKind
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsNotFound reports whether the document was missing.
func (e *Error) IsNotFound() bool { return e.kind == kindNotFound }

// IsConflict reports whether a precondition or uniqueness check failed.
func (e *Error) IsConflict() bool { return e.kind == kindConflict }

// IsUnavailable reports whether Firestore could not be reached.
func (e *Error) IsUnavailable() bool { return e.kind == kindUnavailable }

func classify(err error) errorKind {
	switch status.Code(err) {
	case codes.NotFound:
		return kindNotFound
	case codes.AlreadyExists, codes.FailedPrecondition, codes.Aborted:
		return kindConflict
	case codes.Unavailable, codes.ResourceExhausted, codes.Internal, codes.DeadlineExceeded:
		return kindUnavailable
	default:
		return kindUnknown
	}
}

// WrapError annotates Firestore errors with repository semantics. Context errors pass through untouched.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if status.Code(err) == codes.Canceled {
		return context.Canceled
	}

	var existing *Error
	if errors.As(err, &existing) {
		return existing
	}
	return &Error{Op: op, Err: err, kind: classify(err)}
}

// NotFound builds a not-found error for lookups that resolve nothing.
func NotFound(op, id string) error {
	return &Error{Op: op, Err: fmt.Errorf("document %s not found", id), kind: kindNotFound}
}

// Unavailable marks err as a transient backend failure.
func Unavailable(op string, err error) error {
	return &Error{Op: op, Err: err, kind: kindUnavailable}
}

// Conflict marks err as a refused write, such as a failed state precondition.
func Conflict(op string, err error) error {
	return &Error{Op: op, Err: err, kind: kindConflict}
}
