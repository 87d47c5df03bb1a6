package graph

import "errors"

var (
	// ErrClassificationFailure: the gate or classifier gave no usable label.
	// Non-fatal; the engine falls back to a safe default.
	ErrClassificationFailure = errors.New("classification failure")
	// ErrRetrievalUnavailable: embedding or vector search failed. Fatal.
	ErrRetrievalUnavailable = errors.New("retrieval unavailable")
	// ErrGenerationUnavailable: the completion service could not answer. Fatal.
	ErrGenerationUnavailable = errors.New("generation unavailable")
	// ErrGradeInconclusive: the grader gave no usable verdict. Treated as pass.
	ErrGradeInconclusive = errors.New("grade inconclusive")

	ErrEmptyQuestion     = errors.New("empty question")
	ErrInvalidTransition = errors.New("invalid state transition")
)
