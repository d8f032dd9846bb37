package plugin

import "fmt"

// Plugin archive errors. Callers wrap these with context and match with errors.Is.
var (
	ErrMalformedArchiveName = fmt.Errorf("malformed archive name")
	ErrInvalidVersion       = fmt.Errorf("invalid version")
	ErrInvalidRequest       = fmt.Errorf("invalid version request")
	ErrDuplicateEntry       = fmt.Errorf("duplicate entry with different content")
	ErrNotFound             = fmt.Errorf("not found")
	ErrAmbiguous            = fmt.Errorf("ambiguous candidates")
	ErrSkipped              = fmt.Errorf("skipped")
	ErrTooManyVariantTags   = fmt.Errorf("more than one variant tag")
)

// ErrNoCandidate creates an error for a request no source can satisfy
func ErrNoCandidate(req VersionRequest) error {
	return fmt.Errorf("%w: no archive satisfies %s", ErrNotFound, req)
}

// ErrConflictingContent creates an error for an exact request whose key is offered twice with different content
func ErrConflictingContent(id ArchiveID, source string) error {
	return fmt.Errorf("%w: %s offered twice by %s with different content", ErrAmbiguous, id.Filename(), source)
}
