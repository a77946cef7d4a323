package types

import (
	"errors"
	"fmt"
)

// Domain errors for type validation
var (
	ErrInvalidChunkID = errors.New("invalid chunk ID")
	ErrEmptyContent   = errors.New("content cannot be empty")
	ErrInvalidSource  = errors.New("invalid result source")
)

// Pipeline errors
var (
	// ErrIndexNotBuilt is returned when a search or persist runs before any build or load.
	ErrIndexNotBuilt = errors.New("index not built")

	// ErrIndexCorrupted is returned when persisted artifacts disagree or fail validation.
	ErrIndexCorrupted = errors.New("index corrupted")

	// ErrCapabilityUnavailable marks an external capability that is missing or failed.
	ErrCapabilityUnavailable = errors.New("capability unavailable")

	// ErrInvalidConfig marks a configuration rejected at startup.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// IngestionError records a file that could not be read or chunked.
// It is recoverable: the file is skipped and ingestion continues.
type IngestionError struct {
	Path string
	Err  error
}

func (e *IngestionError) Error() string {
	return fmt.Sprintf("ingest %s: %v", e.Path, e.Err)
}

func (e *IngestionError) Unwrap() error { return e.Err }

// CapabilityError wraps a failure of an external collaborator (embedding, pairwise
// scoring, query rewrite, version control). Callers degrade rather than abort.
type CapabilityError struct {
	Capability string
	Err        error
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("%s capability: %v", e.Capability, e.Err)
}

func (e *CapabilityError) Unwrap() []error {
	return []error{ErrCapabilityUnavailable, e.Err}
}

// CorruptionError describes persisted index artifacts that cannot be loaded together.
type CorruptionError struct {
	Path   string
	Reason string
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("index at %s corrupted: %s", e.Path, e.Reason)
}

func (e *CorruptionError) Unwrap() error { return ErrIndexCorrupted }

// ConfigurationError reports an invalid configuration value.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Field, e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return ErrInvalidConfig }
