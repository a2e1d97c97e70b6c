// Package experiment drives benchmark experiments across a fleet of worker
// nodes: it starts server and client roles, opens and closes the measurement
// window, and collects the resulting RTT dumps and metrics snapshots into
// the run's log directory.
package experiment

import (
	"time"

	"github.com/himsangseung/cperf/pkg/command"
)

// Protocols understood by the workers. DCTCP runs over the TCP transport
// with different kernel tuning, so it shares the tcp code paths.
const (
	ProtocolHoma = "homa"
	ProtocolTCP  = "tcp"
)

// Experiment describes one benchmark experiment: a named traffic pattern
// between a set of client nodes and a set of server nodes.
type Experiment struct {
	Name     string
	Protocol string
	Clients  []int
	Servers  []int

	// Gbps is the target offered load per client node; zero means as fast
	// as possible.
	Gbps     float64
	Seconds  time.Duration
	Workload string

	ClientMax     int
	ClientPorts   int
	PortReceivers int
	ServerPorts   int
	PortThreads   int

	TCPClientMax     int
	TCPClientPorts   int
	TCPPortReceivers int
	TCPServerPorts   int
	TCPPortThreads   int

	// Unloaded, when nonzero, selects the unloaded baseline mode: each
	// client issues one RPC at a time of the given length, and the run skips
	// the measurement window entirely.
	Unloaded int

	NoTrunc  bool
	IPv6     bool
	TTFreeze bool
}

// ServerCommand builds the worker command starting this experiment's server
// role. Port and thread counts come from the protocol-specific settings.
func (e *Experiment) ServerCommand() command.Server {
	cmd := command.Server{
		Protocol:   e.Protocol,
		Experiment: e.Name,
		IPv6:       e.IPv6,
	}
	if e.Protocol == ProtocolHoma {
		cmd.Ports = e.ServerPorts
		cmd.PortThreads = e.PortThreads
	} else {
		cmd.Ports = e.TCPServerPorts
		cmd.PortThreads = e.TCPPortThreads
	}
	return cmd
}

// ClientCommand builds the worker command starting this experiment's client
// role on one node.
func (e *Experiment) ClientCommand(nodeID int) command.Client {
	cmd := command.Client{
		Workload:   e.Workload,
		Servers:    e.Servers,
		Gbps:       e.Gbps,
		Protocol:   e.Protocol,
		NodeID:     nodeID,
		Experiment: e.Name,
		IPv6:       e.IPv6,
	}
	if e.Protocol == ProtocolHoma {
		cmd.Ports = e.ClientPorts
		cmd.PortReceivers = e.PortReceivers
		cmd.ServerPorts = e.ServerPorts
		cmd.ClientMax = e.ClientMax
		cmd.Unloaded = e.Unloaded
	} else {
		cmd.Ports = e.TCPClientPorts
		cmd.PortReceivers = e.TCPPortReceivers
		cmd.ServerPorts = e.TCPServerPorts
		cmd.ClientMax = e.TCPClientMax
		if cmd.ClientMax == 0 {
			cmd.ClientMax = e.ClientMax
		}
		cmd.NoTrunc = e.NoTrunc
	}
	return cmd
}
