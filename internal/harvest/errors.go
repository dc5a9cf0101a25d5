package harvest

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies harvest failures for the request surface.
type ErrorKind string

const (
	// KindClientInput means the request was malformed; no browser was opened.
	KindClientInput ErrorKind = "client_input"
	// KindNavigationTimeout means the page or its landmark never appeared.
	KindNavigationTimeout ErrorKind = "navigation_timeout"
	// KindExport means the CSV artifact could not be written.
	KindExport ErrorKind = "export"
	// KindDriver covers any other browser or internal failure.
	KindDriver ErrorKind = "driver"
)

// Sentinel errors matched with errors.Is.
var (
	ErrMissingURL        = errors.New("url is required")
	ErrMissingCredential = errors.New("cookie is required")
	ErrInvalidURL        = errors.New("url must be an absolute http(s) url")
	ErrInvalidCookie     = errors.New("cookie could not be parsed")
)

// HarvestError is returned by the orchestrator for every failed harvest.
type HarvestError struct {
	Kind      ErrorKind
	Phase     Status
	SessionID string
	Log       []string
	Err       error
}

func (e *HarvestError) Error() string {
	return fmt.Sprintf("harvest %s failed during %s: %v", e.Kind, e.Phase, e.Err)
}

func (e *HarvestError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the same request may succeed if resubmitted.
func (e *HarvestError) Retryable() bool {
	return e.Kind == KindNavigationTimeout
}

// NavigationTimeoutError reports how long the landmark wait lasted.
type NavigationTimeoutError struct {
	Selector string
	Elapsed  time.Duration
	Err      error
}

func (e *NavigationTimeoutError) Error() string {
	return fmt.Sprintf("landmark %q not visible after %s: %v", e.Selector, e.Elapsed.Round(time.Millisecond), e.Err)
}

func (e *NavigationTimeoutError) Unwrap() error {
	return e.Err
}

// PaginationFetchError describes a page request that stopped API pagination.
// It never fails a harvest; it marks the result partial.
type PaginationFetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *PaginationFetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.StatusCode)
}

func (e *PaginationFetchError) Unwrap() error {
	return e.Err
}

// KindOf extracts the ErrorKind from err, defaulting to KindDriver.
func KindOf(err error) ErrorKind {
	var herr *HarvestError
	if errors.As(err, &herr) {
		return herr.Kind
	}
	return KindDriver
}
