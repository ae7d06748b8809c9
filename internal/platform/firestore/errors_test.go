package firestore

import (
	"context"
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/firestore"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestWrapErrorClassifiesStatusCodes(t *testing.T) {
	cases := []struct {
		code        codes.Code
		notFound    bool
		conflict    bool
		unavailable bool
	}{
		{code: codes.NotFound, notFound: true},
		{code: codes.AlreadyExists, conflict: true},
		{code: codes.FailedPrecondition, conflict: true},
		{code: codes.Unavailable, unavailable: true},
		{code: codes.DeadlineExceeded, unavailable: true},
		{code: codes.PermissionDenied},
	}
	for _, tc := range cases {
		err := WrapError("orders.get", status.Error(tc.code, "boom"))
		var repoErr *Error
		if !errors.As(err, &repoErr) {
			t.Fatalf("%s: expected *Error, got %T", tc.code, err)
		}
		if repoErr.IsNotFound() != tc.notFound || repoErr.IsConflict() != tc.conflict || repoErr.IsUnavailable() != tc.unavailable {
			t.Fatalf("%s: unexpected classification %+v", tc.code, repoErr)
		}
	}
}

func TestWrapErrorPassesContextErrors(t *testing.T) {
	if err := WrapError("orders.get", context.Canceled); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if err := WrapError("orders.get", status.Error(codes.Canceled, "cancelled")); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected grpc cancel to map to context.Canceled, got %v", err)
	}
	if WrapError("orders.get", nil) != nil {
		t.Fatalf("expected nil for nil error")
	}
}

func TestNotFoundHelper(t *testing.T) {
	err := NotFound("menu.get", "food_1")
	var repoErr *Error
	if !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
		t.Fatalf("expected not found error, got %v", err)
	}
	if err.Error() != "menu.get: document food_1 not found" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestConflictHelperSurvivesTransactionWrap(t *testing.T) {
	refused := Conflict("orders.delete", errors.New("order ord_1 is no longer awaiting payment"))
	err := WrapError("transaction", refused)
	var repoErr *Error
	if !errors.As(err, &repoErr) || !repoErr.IsConflict() {
		t.Fatalf("expected conflict to survive wrapping, got %v", err)
	}
	if repoErr.Op != "orders.delete" {
		t.Fatalf("expected original op, got %q", repoErr.Op)
	}
}

func TestRunTransactionRejectsMissingInputs(t *testing.T) {
	if err := RunTransaction(context.Background(), nil, func(context.Context, *firestore.Transaction) error { return nil }); err == nil {
		t.Fatalf("expected error for nil client")
	}
}

func TestBoundedContextKeepsTighterDeadline(t *testing.T) {
	parent, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	want, _ := parent.Deadline()

	ctx, done := boundedContext(parent, time.Minute)
	defer done()
	if got, ok := ctx.Deadline(); !ok || !got.Equal(want) {
		t.Fatalf("expected caller deadline %v, got %v", want, got)
	}

	ctx, done = boundedContext(context.Background(), time.Minute)
	defer done()
	if _, ok := ctx.Deadline(); !ok {
		t.Fatalf("expected default deadline")
	}
}
