package rag

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the package. Callers match them with
// errors.Is regardless of wrapping depth.
var (
	// ErrInvalidArgument marks bad caller input. Never retried.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrProviderUnavailable marks a transient provider failure (timeout,
	// rate limit, 5xx). The ingestion pipeline retries these with bounded
	// backoff; the query pipeline does not.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrConfigurationConflict marks an index whose dimension or metric
	// disagrees with the configuration. Requires operator intervention.
	ErrConfigurationConflict = errors.New("index configuration conflict")
)

// Query pipeline stages, used to name the failing step in a StageError.
const (
	StageEmbedding  = "embedding"
	StageRetrieval  = "retrieval"
	StageGeneration = "generation"
)

// StageError is the terminal failure of a single query request. It names the
// pipeline stage so the caller gets one clear "unable to process" signal.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func stageErr(stage string, err error) error {
	return &StageError{Stage: stage, Err: err}
}
