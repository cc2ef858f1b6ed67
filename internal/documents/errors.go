package documents

import "errors"

var (
	// ErrNotFound indicates the requested document does not exist.
	ErrNotFound = errors.New("document not found")
	// ErrInvalidInput indicates the upload request is malformed.
	ErrInvalidInput = errors.New("invalid input")
)
