package nodes

import "errors"

var (
	ErrInvalidOptions = errors.New("invalid node options")
	ErrNoOutput       = errors.New("writer has no open output")
)
