package command

import "errors"

var (
	// ErrConflict is returned when another writer created the same
	// version first. The error also matches kv.ErrConditionalCheckFailed.
	ErrConflict = errors.New("command version already exists")

	// ErrNotFound is returned when the referenced command does not exist.
	ErrNotFound = errors.New("command not found")

	// ErrVersionMismatch is returned when the input version is not the
	// stored one.
	ErrVersionMismatch = errors.New("input version does not match the stored version")
)
