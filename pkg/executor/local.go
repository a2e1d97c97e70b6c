package executor

import (
	"bytes"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

// syncBuffer is a bytes.Buffer safe for concurrent writes from the process
// pump and reads from the caller.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// Local provides the execution environment on the local machine via
// exec.Command. It runs commands as the current user.
type Local struct {
}

// NewLocal returns a Local instance.
func NewLocal() Local {
	return Local{}
}

// Name returns user-friendly name of executor.
func (l Local) Name() string {
	return "Local Executor"
}

// Execute runs the command given as input.
// The returned TaskHandle is able to stop & monitor the provisioned process.
func (l Local) Execute(command string) (TaskHandle, error) {
	logrus.Debug("Starting ", command)

	cmd := exec.Command("sh", "-c", command)
	// An additional process group lets us kill the children along with the
	// parent process.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	task := &localTask{
		command:       command,
		statusChannel: make(chan int, 1),
	}
	cmd.Stdout = &task.stdout
	cmd.Stderr = &task.stderr

	err := cmd.Start()
	if err != nil {
		return nil, err
	}
	task.pid = cmd.Process.Pid

	logrus.Debug("Started with pid ", task.pid)

	go func() {
		cmd.Wait()

		var exitCode int
		waitStatus := cmd.ProcessState.Sys().(syscall.WaitStatus)
		if waitStatus.Exited() {
			exitCode = waitStatus.ExitStatus()
		} else {
			// Expose the signal that caused the termination.
			exitCode = -int(waitStatus.Signal())
		}

		logrus.Debug("Ended ", command, " with status code ", exitCode)
		task.statusChannel <- exitCode
	}()

	return task, nil
}

// localTask implements the TaskHandle interface.
type localTask struct {
	command       string
	pid           int
	statusChannel chan int
	stdout        syncBuffer
	stderr        syncBuffer

	mu         sync.Mutex
	terminated bool
	exitCode   int
}

func (task *localTask) completeTask(exitCode int) {
	task.mu.Lock()
	defer task.mu.Unlock()
	task.terminated = true
	task.exitCode = exitCode
}

// Stop terminates the local task.
func (task *localTask) Stop() error {
	task.mu.Lock()
	terminated := task.terminated
	task.mu.Unlock()
	if terminated {
		return nil
	}

	// Signal the entire process group. The kill syscall interprets a negated
	// PID N as the process group N belongs to.
	logrus.Debug("Sending SIGTERM to PID ", -task.pid)
	err := syscall.Kill(-task.pid, syscall.SIGTERM)
	if err != nil {
		return err
	}

	task.completeTask(<-task.statusChannel)
	return nil
}

// Status returns the state of the task.
func (task *localTask) Status() TaskState {
	task.mu.Lock()
	defer task.mu.Unlock()
	if !task.terminated {
		return RUNNING
	}
	return TERMINATED
}

// ExitCode returns the exit code. If the task is not terminated it returns an error.
func (task *localTask) ExitCode() (int, error) {
	task.mu.Lock()
	defer task.mu.Unlock()
	if !task.terminated {
		return 0, errNotTerminated
	}
	return task.exitCode, nil
}

// Stdout returns the captured standard output of the task.
func (task *localTask) Stdout() string {
	return task.stdout.String()
}

// Stderr returns the captured standard error of the task.
func (task *localTask) Stderr() string {
	return task.stderr.String()
}

// Wait blocks until the process terminates or the timeout elapses.
// Returns true when the process terminated before the timeout, otherwise false.
func (task *localTask) Wait(timeout time.Duration) bool {
	task.mu.Lock()
	terminated := task.terminated
	task.mu.Unlock()
	if terminated {
		return true
	}

	if timeout == 0 {
		task.completeTask(<-task.statusChannel)
		return true
	}

	select {
	case exitCode := <-task.statusChannel:
		task.completeTask(exitCode)
		return true
	case <-time.After(timeout):
		return false
	}
}

// Address returns the address where the task was located.
func (task *localTask) Address() string {
	return "127.0.0.1"
}
