package pipeline

import "errors"

var (
	ErrInvalidGraph       = errors.New("invalid pipeline graph")
	ErrInvalidNode        = errors.New("invalid node configuration")
	ErrPipelineTerminated = errors.New("pipeline is terminating")
	ErrNotRunning         = errors.New("node is not running")
	ErrNotTerminated      = errors.New("node must be terminated before restart")
)
