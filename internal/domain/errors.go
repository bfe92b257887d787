// Package domain holds the error taxonomy shared by the storage tree, the
// share registry and the HTTP layer. Handlers map these to status codes;
// callers never see raw I/O errors or on-disk paths.
package domain

import "errors"

var (
	// ErrInvalidInput — empty or malformed names, missing required fields.
	ErrInvalidInput = errors.New("invalid input")

	// ErrAccessDenied — a path resolved outside its storage root, or an
	// actor lacks the privilege for the operation. Deliberately not
	// distinguished further in responses: the split between "escapes
	// root", "insufficient privilege" and "does not exist" would let a
	// caller probe for files outside their tree.
	ErrAccessDenied = errors.New("access denied")

	// ErrNotFound — target path or share id does not exist. Only returned
	// once containment is already confirmed.
	ErrNotFound = errors.New("not found")

	// ErrConflict — name collision where the operation requires failure
	// instead of auto-renaming (folder creation, explicit rename).
	ErrConflict = errors.New("already exists")
)

// IOFailure wraps an underlying filesystem error. The wrapped error is
// logged but never surfaced to clients.
type IOFailure struct {
	Op  string
	Err error
}

func (e *IOFailure) Error() string {
	return "storage operation failed: " + e.Op
}

func (e *IOFailure) Unwrap() error {
	return e.Err
}
