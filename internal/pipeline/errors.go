package pipeline

import "errors"

var (
	// ErrInvalidInput is returned before any work starts when ids or content are missing or
	// the split bounds are unusable.
	ErrInvalidInput = errors.New("invalid input")
	// ErrDomainTreeFailed is returned when the domain tree cannot be built. The document has
	// already been rolled back when it is returned.
	ErrDomainTreeFailed = errors.New("domain tree build failed")
	// ErrEmptyGeneration is returned when the model produced nothing usable.
	ErrEmptyGeneration = errors.New("model produced no usable output")
	// ErrProjectMismatch is returned when an entity belongs to another project.
	ErrProjectMismatch = errors.New("entity belongs to another project")

	errNoChunks = errors.New("no chunks selected")
)
