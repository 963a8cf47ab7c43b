package receipt

import "errors"

// Failure taxonomy for the pipeline. Callers match with errors.Is to decide
// whether a retry makes sense: ErrStorage and ErrExtraction are retry-safe,
// ErrConflict repeats until the underlying state changes.
var (
	// ErrNotFound is returned when no file or receipt exists for an id.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned on an illegal state transition: processing a
	// file that is not valid, or processing one that is already processed.
	ErrConflict = errors.New("conflict")

	// ErrInvalidUpload is returned when an upload is missing a file, has an
	// empty name, or is not a PDF.
	ErrInvalidUpload = errors.New("invalid upload")

	// ErrStorage is returned on blob or database I/O failure.
	ErrStorage = errors.New("storage error")

	// ErrExtraction is returned when the extractor could not produce a
	// result. The file stays unprocessed and Process may be retried.
	ErrExtraction = errors.New("extraction failed")
)
