package app

import "errors"

var (
	// ErrConfig marks failures caused by flags, configuration or inputs
	// that make a run impossible before any read is processed.
	ErrConfig  = errors.New("configuration error")
	ErrNoInput = errors.New("no input files")
)

// Process exit codes
const (
	ExitOK      = 0
	ExitConfig  = 2
	ExitRuntime = 3
)

// ExitCode maps a run error onto a process exit code
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrConfig), errors.Is(err, ErrNoInput):
		return ExitConfig
	default:
		return ExitRuntime
	}
}
