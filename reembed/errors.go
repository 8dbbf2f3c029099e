package reembed

import "errors"

var (
	// ErrSourceRequired is returned when no source store is given.
	ErrSourceRequired = errors.New("source store required")

	// ErrTargetRequired is returned when no target store is given.
	ErrTargetRequired = errors.New("target store required")
)
