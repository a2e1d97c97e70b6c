package worker

import (
	"bytes"
	"fmt"
	"io"
	"os/user"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"

	"github.com/himsangseung/cperf/pkg/executor"
)

const (
	// defaultWorkerCommand is the worker binary started on each node; it must
	// be on the default PATH of the SSH user.
	defaultWorkerCommand = "cp_node"

	// closeWait bounds how long Close waits for the worker process to exit
	// after its stdin is closed.
	closeWait = 5 * time.Second
)

// SSHLauncher starts a worker process on a node over SSH and exposes its
// stdin/stdout as a Handle. Nodes are addressed as node0, node1, ... in the
// cluster's name service, matching their integer ids.
type SSHLauncher struct {
	User       *user.User
	Port       int
	Command    string // worker binary; defaults to cp_node
	HostFormat string // defaults to "node%d"
}

// NewSSHLauncher returns an SSHLauncher for the given user with defaults
// applied.
func NewSSHLauncher(user *user.User) *SSHLauncher {
	return &SSHLauncher{
		User:       user,
		Port:       executor.DefaultSSHPort,
		Command:    defaultWorkerCommand,
		HostFormat: "node%d",
	}
}

// Launch opens the channel to one node and starts the worker process on it.
func (l *SSHLauncher) Launch(nodeID int) (Handle, error) {
	host := fmt.Sprintf(l.HostFormat, nodeID)
	config, err := executor.NewSSHConfig(host, l.Port, l.User)
	if err != nil {
		return nil, &ConnectError{NodeID: nodeID, Err: err}
	}

	connection, err := ssh.Dial("tcp", fmt.Sprintf("%s:%d", config.Host, config.Port),
		config.ClientConfig)
	if err != nil {
		return nil, &ConnectError{NodeID: nodeID, Err: err}
	}

	session, err := connection.NewSession()
	if err != nil {
		connection.Close()
		return nil, &ConnectError{NodeID: nodeID, Err: err}
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		connection.Close()
		return nil, &ConnectError{NodeID: nodeID, Err: err}
	}

	handle := &sshHandle{
		address:    host,
		connection: connection,
		session:    session,
		stdin:      stdin,
		exited:     make(chan struct{}),
	}
	// Worker stderr is folded into the output stream, the same way the log
	// chatter is.
	session.Stdout = &handle.output
	session.Stderr = &handle.output

	if err := session.Start(l.Command); err != nil {
		session.Close()
		connection.Close()
		return nil, &ConnectError{NodeID: nodeID, Err: err}
	}

	go func() {
		if err := session.Wait(); err != nil {
			logrus.Debugf("Worker on %s exited: %v", host, err)
		}
		close(handle.exited)
	}()

	logrus.Debugf("Started %s on %s", l.Command, host)
	return handle, nil
}

// pollBuffer collects worker output under a lock so the SSH pump and the
// fleet's poll loop never race.
type pollBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *pollBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

// take drains and returns the accumulated output; nil when empty.
func (b *pollBuffer) take() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.buf.Len() == 0 {
		return nil
	}
	out := make([]byte, b.buf.Len())
	copy(out, b.buf.Bytes())
	b.buf.Reset()
	return out
}

// sshHandle implements Handle over an SSH session running the worker.
type sshHandle struct {
	address    string
	connection *ssh.Client
	session    *ssh.Session
	stdin      io.WriteCloser
	output     pollBuffer
	exited     chan struct{}

	mu     sync.Mutex
	closed bool
}

// Send writes one command line to the worker.
func (h *sshHandle) Send(line string) error {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return &BrokenChannelError{Address: h.address, Err: errors.New("channel closed")}
	}

	if _, err := io.WriteString(h.stdin, line+"\n"); err != nil {
		return &BrokenChannelError{Address: h.address, Err: err}
	}
	return nil
}

// Poll returns output that arrived since the previous Poll.
func (h *sshHandle) Poll() []byte {
	return h.output.take()
}

// Close shuts the channel down, waiting briefly for the worker to exit.
func (h *sshHandle) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()

	// Closing stdin is the nudge for workers still reading commands.
	h.stdin.Close()
	select {
	case <-h.exited:
	case <-time.After(closeWait):
		logrus.Infof("Timeout waiting for worker on %s to exit", h.address)
	}
	h.session.Close()
	return h.connection.Close()
}

// Address identifies the remote end.
func (h *sshHandle) Address() string {
	return h.address
}
