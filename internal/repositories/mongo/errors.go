package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"
)

// Error implements repositories.RepositoryError for MongoDB backed repositories.
type Error struct {
	Op          string
	Err         error
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e *Error) Error() string       { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *Error) Unwrap() error       { return e.Err }
func (e *Error) IsNotFound() bool    { return e.notFound }
func (e *Error) IsConflict() bool    { return e.conflict }
func (e *Error) IsUnavailable() bool { return e.unavailable }

func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &Error{
		Op:          op,
		Err:         err,
		notFound:    errors.Is(err, mongo.ErrNoDocuments),
		conflict:    mongo.IsDuplicateKeyError(err),
		unavailable: mongo.IsNetworkError(err) || mongo.IsTimeout(err) || errors.Is(err, mongo.ErrClientDisconnected),
	}
}

func notFoundError(op, id string) error {
	return &Error{Op: op, Err: fmt.Errorf("%s not found", id), notFound: true}
}

func conflictError(op, id string) error {
	return &Error{Op: op, Err: fmt.Errorf("%s is no longer awaiting payment", id), conflict: true}
}
