package executor

import "time"

// TaskState is an enum presenting current task state.
type TaskState int

const (
	// RUNNING task state means that task is still running.
	RUNNING TaskState = iota
	// TERMINATED task state means that task completed or stopped.
	TERMINATED
)

// TaskHandle represents a process which can be stopped or monitored.
type TaskHandle interface {
	// Stop terminates the task.
	Stop() error
	// Status returns the state of the task.
	Status() TaskState
	// ExitCode returns the exit code. If the task is not terminated it returns an error.
	ExitCode() (int, error)
	// Stdout returns everything the task has written to its standard output so far.
	Stdout() string
	// Stderr returns everything the task has written to its standard error so far.
	Stderr() string
	// Wait blocks until the task completes or the timeout elapses; a zero
	// timeout waits forever. It returns true if the task is terminated.
	Wait(timeout time.Duration) bool
	// Address returns the address where the task was located.
	Address() string
}
