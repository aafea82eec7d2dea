package api

import (
	"context"
	"errors"
)

// Sentinel errors classifying every per-package failure. All of them are
// scoped to a single package: one package failing never aborts its siblings.
var (
	// ErrSourceUnavailable: the repository cannot be reached (connectivity,
	// auth, or a remote operation timing out).
	ErrSourceUnavailable = errors.New("source unavailable")
	// ErrRefNotFound: the configured ref does not resolve at the source.
	ErrRefNotFound = errors.New("ref not found")
	// ErrSubtreeMissing: the extract path does not exist at the resolved ref.
	ErrSubtreeMissing = errors.New("subtree missing")
	// ErrStagingIO: an I/O fault while building the staged tree.
	ErrStagingIO = errors.New("staging i/o failure")
	// ErrCommitIO: an I/O fault while swapping the staged tree into place.
	ErrCommitIO = errors.New("commit i/o failure")
	// ErrConfigInvalid: the package configuration is unusable as written.
	ErrConfigInvalid = errors.New("invalid package configuration")
)

// Kind names the taxonomy bucket of err for reporting.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrSourceUnavailable):
		return "source-unavailable"
	case errors.Is(err, ErrRefNotFound):
		return "ref-not-found"
	case errors.Is(err, ErrSubtreeMissing):
		return "subtree-missing"
	case errors.Is(err, ErrStagingIO):
		return "staging-io"
	case errors.Is(err, ErrCommitIO):
		return "commit-io"
	case errors.Is(err, ErrConfigInvalid):
		return "config-invalid"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "internal"
	}
}

// Retryable reports whether rerunning the sync later could succeed without
// changing the configuration.
func Retryable(err error) bool {
	return err != nil && !errors.Is(err, ErrConfigInvalid)
}
