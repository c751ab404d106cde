package firestore

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type storeErr struct{ notFound bool }

func (e storeErr) Error() string { return "store" }
func (e storeErr) IsNotFound() bool { return e.notFound }
func (e storeErr) IsConflict() bool { return false }

func TestWrapErrorClassifiesStatusCodes(t *testing.T) {
	cases := []struct {
		code        codes.Code
		notFound    bool
		conflict    bool
		unavailable bool
	}{
		{code: codes.NotFound, notFound: true},
		{code: codes.AlreadyExists, conflict: true},
		{code: codes.Aborted, conflict: true},
		{code: codes.Unavailable, unavailable: true},
		{code: codes.ResourceExhausted, unavailable: true},
		{code: codes.PermissionDenied},
	}
	for _, tc := range cases {
		err := WrapError("orders.get", status.Error(tc.code, "boom"))
		var ferr *Error
		if !errors.As(err, &ferr) {
			t.Fatalf("%s: expected *Error, got %T", tc.code, err)
		}
		if ferr.IsNotFound() != tc.notFound || ferr.IsConflict() != tc.conflict || ferr.IsUnavailable() != tc.unavailable {
			t.Fatalf("%s: unexpected classification %+v", tc.code, ferr)
		}
		if ferr.Op != "orders.get" {
			t.Fatalf("expected op to be recorded, got %q", ferr.Op)
		}
	}
}

func TestWrapErrorPassesThroughContextAndClassifiedErrors(t *testing.T) {
	if err := WrapError("op", nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if err := WrapError("op", status.Error(codes.Canceled, "gone")); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if err := WrapError("op", context.DeadlineExceeded); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	original := storeErr{notFound: true}
	wrapped := WrapError("op", original)
	if _, ok := wrapped.(storeErr); !ok {
		t.Fatalf("expected classified error to pass through, got %T", wrapped)
	}
}
