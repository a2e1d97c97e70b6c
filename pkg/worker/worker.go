// Package worker maintains interactive channels to cp_node worker processes
// running on cluster nodes. A Handle wraps one bidirectional line-oriented
// text channel: commands go down the channel, log chatter and command
// completion markers come back.
package worker

import "fmt"

// Handle is one open command channel to a worker process.
type Handle interface {
	// Send appends one command line to the channel. It returns a
	// *BrokenChannelError when the remote end has closed.
	Send(line string) error
	// Poll returns output that arrived since the previous Poll, without
	// blocking. It returns nil when no new output is available.
	Poll() []byte
	// Close requests a clean shutdown of the channel. It tolerates the
	// channel already being closed.
	Close() error
	// Address identifies the remote end, for diagnostics.
	Address() string
}

// Launcher opens worker handles on cluster nodes.
type Launcher interface {
	Launch(nodeID int) (Handle, error)
}

// ConnectError means the worker channel for a node could not be established.
type ConnectError struct {
	NodeID int
	Err    error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("cannot connect to node%d: %v", e.NodeID, e.Err)
}

// Unwrap supports errors.Cause / errors.Is chains.
func (e *ConnectError) Unwrap() error { return e.Err }

// BrokenChannelError means a write to an established channel failed because
// the remote end closed. Callers log it and continue with other nodes.
type BrokenChannelError struct {
	Address string
	Err     error
}

func (e *BrokenChannelError) Error() string {
	return fmt.Sprintf("broken pipe to %s: %v", e.Address, e.Err)
}

// Unwrap supports errors.Cause / errors.Is chains.
func (e *BrokenChannelError) Unwrap() error { return e.Err }
