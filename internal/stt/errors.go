package stt

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Error is a failed recognition. Detail is the provider's human-readable
// message and is what users see.
type Error struct {
	Code   codes.Code
	Detail string
}

func (e *Error) Error() string {
	return fmt.Sprintf("recognition failed: %s: %s", e.Code, e.Detail)
}

// asError maps any failure onto *Error
func asError(err error) *Error {
	var recErr *Error
	if errors.As(err, &recErr) {
		return recErr
	}

	var st *status.Status
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		st = status.FromContextError(err)
	} else {
		st = status.Convert(err)
	}
	return &Error{Code: st.Code(), Detail: st.Message()}
}
