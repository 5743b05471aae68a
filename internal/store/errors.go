package store

import "errors"

var (
	// ErrNotFound is returned when a lookup by key finds no row.
	ErrNotFound = errors.New("store: not found")
	// ErrAlreadyExists is returned on a duplicate-key insert.
	ErrAlreadyExists = errors.New("store: already exists")
)
