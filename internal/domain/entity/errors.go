package entity

import (
	"context"
	"errors"
	"fmt"
)

var (
	// Permanent: the video itself cannot be read. Not retried.
	ErrSourceUnavailable = errors.New("source unavailable")
	ErrUnsupportedFormat = errors.New("unsupported format")

	// Transient: the detection backend failed. Retried at job level.
	ErrModelUnavailable = errors.New("model unavailable")
	ErrServiceError     = errors.New("detection service error")

	ErrScanTimeout   = errors.New("scan timed out")
	ErrScanCancelled = errors.New("scan cancelled")
	ErrVideoNotFound = errors.New("video not found")
	ErrQueueFull     = errors.New("scan queue full")
)

func IsTransient(err error) bool {
	return errors.Is(err, ErrModelUnavailable) || errors.Is(err, ErrServiceError)
}

func IsPermanent(err error) bool {
	return errors.Is(err, ErrSourceUnavailable) || errors.Is(err, ErrUnsupportedFormat)
}

// FailureReason is the short cause label used in logs, metrics and status events.
func FailureReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrSourceUnavailable):
		return "source_unavailable"
	case errors.Is(err, ErrUnsupportedFormat):
		return "unsupported_format"
	case errors.Is(err, ErrModelUnavailable):
		return "model_unavailable"
	case errors.Is(err, ErrServiceError):
		return "service_error"
	case errors.Is(err, ErrScanTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, ErrScanCancelled), errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "internal"
	}
}

// ContextErr maps a finished context onto ErrScanTimeout or ErrScanCancelled.
// It returns nil while ctx is live.
func ContextErr(ctx context.Context) error {
	switch err := ctx.Err(); {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrScanTimeout, err)
	default:
		return fmt.Errorf("%w: %v", ErrScanCancelled, err)
	}
}
