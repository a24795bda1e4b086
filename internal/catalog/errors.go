package catalog

import (
	"errors"
	"fmt"
)

// Sentinel errors for the crawl pipeline. Concrete errors wrap one of these so
// callers can classify failures with errors.Is.
var (
	// ErrValidation marks bad or missing run parameters. Nothing has happened yet.
	ErrValidation = errors.New("validation failed")
	// ErrFetch marks a network or HTTP failure on a catalog or product page.
	ErrFetch = errors.New("fetch failed")
	// ErrParse marks an expected document structure that is absent.
	ErrParse = errors.New("parse failed")
	// ErrImageTooLarge marks an image whose declared size exceeds the ceiling.
	ErrImageTooLarge = errors.New("image too large")
	// ErrImageFetch marks an image download or upload failure.
	ErrImageFetch = errors.New("image fetch failed")
	// ErrStore marks a failed store transaction; nothing from the batch was kept.
	ErrStore = errors.New("store failed")
	// ErrSkipArchived signals that an image is already archived and was not fetched.
	ErrSkipArchived = errors.New("image already archived")
)

// Validationf builds an ErrValidation with a formatted message.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// FetchError describes a failed retrieval.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Is matches ErrFetch.
func (e *FetchError) Is(target error) bool { return target == ErrFetch }

// ParseError describes a document missing a required node.
type ParseError struct {
	URL   string
	Field string
	Err   error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse %s: field %q: %v", e.URL, e.Field, e.Err)
	}
	return fmt.Sprintf("parse %s: missing field %q", e.URL, e.Field)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Is matches ErrParse.
func (e *ParseError) Is(target error) bool { return target == ErrParse }
