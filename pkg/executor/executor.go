// Package executor provides one-shot command execution on local and remote
// machines. The benchmark harness uses it for helper commands around the
// worker protocol: sysctl tuning, metrics snapshots and result-file
// retrieval.
package executor

import (
	"strings"

	"github.com/sirupsen/logrus"
)

// Executor is responsible for creating an execution environment for a given
// command. It returns a TaskHandle when the command started gracefully.
// Commands are executed asynchronously.
type Executor interface {
	// Execute executes command on underlying platform.
	Execute(command string) (TaskHandle, error)
	// Name returns user-friendly name of executor.
	Name() string
}

// RunAndLog executes a command, waits for completion and returns its stdout
// with trailing newlines removed. A nonzero exit status or any stderr output
// is logged but does not produce an error; the harness treats helper
// commands as best effort.
func RunAndLog(exec Executor, command string) (string, error) {
	handle, err := exec.Execute(command)
	if err != nil {
		return "", err
	}
	handle.Wait(0)

	exitCode, err := handle.ExitCode()
	if err != nil {
		return "", err
	}
	if exitCode != 0 {
		logrus.Infof("Command %q on %s exited with status %d", command, exec.Name(), exitCode)
	}
	if stderr := handle.Stderr(); stderr != "" {
		logrus.Infof("Error output from %q on %s: %s", command, exec.Name(),
			strings.TrimRight(stderr, "\n"))
	}
	return strings.TrimRight(handle.Stdout(), "\n"), nil
}
