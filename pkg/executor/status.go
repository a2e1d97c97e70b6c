package executor

import "github.com/pkg/errors"

// errNotTerminated is returned when the exit code of a still-running task is
// requested.
var errNotTerminated = errors.New("task is not terminated")
