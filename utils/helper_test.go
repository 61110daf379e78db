package utils

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
)

type sample struct {
	Name string `validate:"required"`
	Rate int    `validate:"oneof=0 13"`
}

func TestProcessValidationErrors(t *testing.T) {
	err := validator.New().Struct(sample{Rate: 5})
	got := ProcessValidationErrors(err)
	if got["Name"] != "required" || got["Rate"] != "oneof" {
		t.Fatalf("unexpected errors: %v", got)
	}

	got = ProcessValidationErrors(errors.New("unexpected EOF"))
	if got["body"] != "unexpected EOF" {
		t.Fatalf("non-validation errors must be reported under body: %v", got)
	}
}

func TestDereferencePtr(t *testing.T) {
	s := "x"
	if DereferencePtr(&s) != "x" || DereferencePtr[string](nil) != "" || DereferencePtr(nil, "d") != "d" {
		t.Fatalf("DereferencePtr")
	}
}

func TestContextHelpers(t *testing.T) {
	ctx := SetWorkspaceIdInContext(context.Background(), "ws-1")
	ctx = SetUserNameInContext(ctx, "reviewer")
	if ws, ok := GetWorkspaceIdFromContext(ctx); !ok || ws != "ws-1" {
		t.Fatalf("workspace id = %q %v", ws, ok)
	}
	if name, ok := GetUserNameFromContext(ctx); !ok || name != "reviewer" {
		t.Fatalf("user name = %q %v", name, ok)
	}
	if _, ok := GetCorrelationIdFromContext(ctx); ok {
		t.Fatalf("correlation id must be unset")
	}
}

func TestTryMergeKeyLockWithoutRedis(t *testing.T) {
	release, ok := TryMergeKeyLock(context.Background(), "ws|a|b|2082/09/07", time.Second, "utils", "test")
	if ok {
		t.Fatalf("lock must not be obtained without redis")
	}
	release()
}
