package executor

import (
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
)

// Remote provides the execution environment on a remote machine via ssh.
type Remote struct {
	sshConfig *SSHConfig
}

// NewRemote returns a Remote instance.
func NewRemote(sshConfig *SSHConfig) Remote {
	return Remote{
		sshConfig: sshConfig,
	}
}

// Name returns user-friendly name of executor.
func (remote Remote) Name() string {
	return "Remote Executor"
}

// Execute runs the command given as input on the configured host.
// The returned TaskHandle is able to stop & monitor the provisioned process.
func (remote Remote) Execute(command string) (TaskHandle, error) {
	connection, err := ssh.Dial("tcp",
		fmt.Sprintf("%s:%d", remote.sshConfig.Host, remote.sshConfig.Port),
		remote.sshConfig.ClientConfig)
	if err != nil {
		return nil, errors.Wrapf(err, "ssh connection to %s failed", remote.sshConfig.Host)
	}

	session, err := connection.NewSession()
	if err != nil {
		connection.Close()
		return nil, errors.Wrapf(err, "cannot create ssh session on %s", remote.sshConfig.Host)
	}

	terminal := ssh.TerminalModes{
		ssh.ECHO:          0,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := session.RequestPty("xterm", 80, 40, terminal); err != nil {
		session.Close()
		connection.Close()
		return nil, errors.Wrapf(err, "cannot request pty on %s", remote.sshConfig.Host)
	}

	logrus.Debug("Starting remotely ", command)

	task := &remoteTask{
		host:          remote.sshConfig.Host,
		connection:    connection,
		session:       session,
		statusChannel: make(chan int, 1),
	}
	session.Stdout = &task.stdout
	session.Stderr = &task.stderr

	if err := session.Start(command); err != nil {
		session.Close()
		connection.Close()
		return nil, errors.Wrapf(err, "starting %q on %s failed", command, remote.sshConfig.Host)
	}

	go func() {
		exitCode := 0
		if err := session.Wait(); err != nil {
			if exitError, ok := err.(*ssh.ExitError); ok {
				exitCode = exitError.ExitStatus()
			} else {
				// Connection-level failure; there is no exit status to report.
				exitCode = -1
			}
		}
		session.Close()
		connection.Close()
		task.statusChannel <- exitCode
	}()

	return task, nil
}

// remoteTask implements the TaskHandle interface.
type remoteTask struct {
	host          string
	connection    *ssh.Client
	session       *ssh.Session
	statusChannel chan int
	stdout        syncBuffer
	stderr        syncBuffer

	mu         sync.Mutex
	terminated bool
	exitCode   int
}

func (task *remoteTask) completeTask(exitCode int) {
	task.mu.Lock()
	defer task.mu.Unlock()
	task.terminated = true
	task.exitCode = exitCode
}

// Stop terminates the remote task.
func (task *remoteTask) Stop() error {
	task.mu.Lock()
	terminated := task.terminated
	task.mu.Unlock()
	if terminated {
		return nil
	}

	err := task.session.Signal(ssh.SIGKILL)
	if err != nil {
		return errors.Wrapf(err, "cannot terminate task on %s", task.host)
	}

	task.completeTask(<-task.statusChannel)
	return nil
}

// Status returns the state of the task.
func (task *remoteTask) Status() TaskState {
	task.mu.Lock()
	defer task.mu.Unlock()
	if !task.terminated {
		return RUNNING
	}
	return TERMINATED
}

// ExitCode returns the exit code. If the task is not terminated it returns an error.
func (task *remoteTask) ExitCode() (int, error) {
	task.mu.Lock()
	defer task.mu.Unlock()
	if !task.terminated {
		return 0, errNotTerminated
	}
	return task.exitCode, nil
}

// Stdout returns the captured standard output of the task.
func (task *remoteTask) Stdout() string {
	return task.stdout.String()
}

// Stderr returns the captured standard error of the task.
func (task *remoteTask) Stderr() string {
	return task.stderr.String()
}

// Wait blocks until the process terminates or the timeout elapses.
func (task *remoteTask) Wait(timeout time.Duration) bool {
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
func (task *remoteTask) Address() string {
	return task.host
}
