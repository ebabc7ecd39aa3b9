package biz

import (
	"errors"
	"fmt"
	"net/http"

	kerrors "github.com/go-kratos/kratos/v2/errors"
)

var (
	// ErrStorageBusy marks a storage failure caused by lock contention. Only these are retried.
	ErrStorageBusy = errors.New("storage busy")
	// ErrStreamLocked is returned when another process holds the stream's run lock.
	ErrStreamLocked = errors.New("sync stream already running")
)

// Provider error reasons.
const (
	ReasonProviderNotFound    = "PROVIDER_NOT_FOUND"
	ReasonProviderRateLimited = "PROVIDER_RATE_LIMITED"
	ReasonProviderUnavailable = "PROVIDER_UNAVAILABLE"
	ReasonProviderCoolingDown = "PROVIDER_COOLING_DOWN"
)

func ErrorProviderNotFound(format string, args ...interface{}) *kerrors.Error {
	return kerrors.New(http.StatusNotFound, ReasonProviderNotFound, fmt.Sprintf(format, args...))
}

func IsProviderNotFound(err error) bool {
	return hasReason(err, http.StatusNotFound, ReasonProviderNotFound)
}

func ErrorProviderRateLimited(format string, args ...interface{}) *kerrors.Error {
	return kerrors.New(http.StatusTooManyRequests, ReasonProviderRateLimited, fmt.Sprintf(format, args...))
}

func IsProviderRateLimited(err error) bool {
	return hasReason(err, http.StatusTooManyRequests, ReasonProviderRateLimited)
}

func ErrorProviderUnavailable(format string, args ...interface{}) *kerrors.Error {
	return kerrors.New(http.StatusServiceUnavailable, ReasonProviderUnavailable, fmt.Sprintf(format, args...))
}

func IsProviderUnavailable(err error) bool {
	return hasReason(err, http.StatusServiceUnavailable, ReasonProviderUnavailable)
}

func ErrorProviderCoolingDown(format string, args ...interface{}) *kerrors.Error {
	return kerrors.New(http.StatusTooManyRequests, ReasonProviderCoolingDown, fmt.Sprintf(format, args...))
}

func IsProviderCoolingDown(err error) bool {
	return hasReason(err, http.StatusTooManyRequests, ReasonProviderCoolingDown)
}

func hasReason(err error, code int, reason string) bool {
	if err == nil {
		return false
	}
	var se *kerrors.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code == int32(code) && se.Reason == reason
}

// EmptyBatchError rejects a batch that has no valid payload left after extraction.
type EmptyBatchError struct {
	Kind    MediaKind
	Skipped int
}

func (e *EmptyBatchError) Error() string {
	return fmt.Sprintf("empty %s batch (%d records skipped)", e.Kind, e.Skipped)
}

// ExtractionError reports a catalog record that lacks a required field.
type ExtractionError struct {
	Kind      MediaKind
	StableKey string
	Title     string
	Field     string
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("cannot extract %s %q (key %q): missing %s", e.Kind, e.Title, e.StableKey, e.Field)
}
