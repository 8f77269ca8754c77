package sync

import (
	"errors"

	"github.com/Codeshare/codeshare/backend/internal/checkpoint"
	"github.com/Codeshare/codeshare/backend/internal/oplog"
)

var (
	ErrNotFound        = errors.New("NOT_FOUND")
	ErrUnauthenticated = errors.New("UNAUTHENTICATED")
	ErrForbidden       = errors.New("FORBIDDEN")
	ErrInternal        = errors.New("INTERNAL")
)

// Code maps the error taxonomy to a wire code for the transport edge.
// Anything unrecognized is INTERNAL.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrUnauthenticated):
		return "UNAUTHENTICATED"
	case errors.Is(err, ErrForbidden):
		return "FORBIDDEN"
	case errors.Is(err, checkpoint.ErrInvalidCursor):
		return "INVALID_CURSOR"
	case errors.Is(err, oplog.ErrConflict):
		return "CONFLICT"
	case errors.Is(err, oplog.ErrPublish):
		return "PUBLISH_FAILED"
	default:
		return "INTERNAL"
	}
}
