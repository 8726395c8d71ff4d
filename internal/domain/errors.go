package domain

import "errors"

var (
	// ErrParse marks a malformed raw keystroke string.
	ErrParse = errors.New("malformed keystroke sample")

	// ErrStore marks a failure of the sample store.
	ErrStore = errors.New("sample store failure")

	// ErrProfileInconsistency marks samples of differing keystroke counts.
	ErrProfileInconsistency = errors.New("inconsistent keystroke count")

	// ErrInvalidInput marks missing identifiers or arguments.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound marks a missing record.
	ErrNotFound = errors.New("record not found")
)
