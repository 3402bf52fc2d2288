package repository

import "errors"

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("repository: not found")
	// ErrDuplicate indicates an insert collided with a unique email, phone or provider account.
	ErrDuplicate = errors.New("repository: duplicate record")
)
