// Package command models the line-oriented text protocol spoken to cp_node
// worker processes. Commands are plain structs with a serialization step to
// the wire form, so construction can be tested independently of transport.
//
// Every command's completion is signaled by the worker printing the prompt
// marker on its output stream.
package command

import (
	"fmt"
	"strconv"
	"strings"
)

// Marker is the sentinel token a worker prints on its output stream once a
// command has completed.
const Marker = "% "

// Command is one line of the worker protocol.
type Command interface {
	// Line returns the wire form of the command, without the trailing newline.
	Line() string
}

// LogConfig directs the worker's own log to a file at a given verbosity.
type LogConfig struct {
	File  string
	Level string // "normal" or "verbose"
}

// Line implements Command.
func (c LogConfig) Line() string {
	return fmt.Sprintf("log --file %s --level %s", c.File, c.Level)
}

// LogMessage asks every worker to append a message to its log. Used to
// demarcate measurement windows, which is what the log scanner keys on.
type LogMessage struct {
	Message string
}

// Line implements Command.
func (c LogMessage) Line() string {
	return "log " + c.Message
}

// StartMeasurements returns the marker message opening an experiment's
// measurement window. An empty experiment name produces the shared marker
// used by batched runs.
func StartMeasurements(experiment string) LogMessage {
	if experiment == "" {
		return LogMessage{Message: "Starting measurements"}
	}
	return LogMessage{Message: fmt.Sprintf("Starting measurements for %s experiment", experiment)}
}

// EndMeasurements returns the marker message closing an experiment's
// measurement window.
func EndMeasurements(experiment string) LogMessage {
	if experiment == "" {
		return LogMessage{Message: "Ending measurements"}
	}
	return LogMessage{Message: fmt.Sprintf("Ending measurements for %s experiment", experiment)}
}

// Server starts the server role on a worker.
type Server struct {
	Ports       int
	PortThreads int
	Protocol    string
	Experiment  string
	IPv6        bool
}

// Line implements Command.
func (c Server) Line() string {
	line := fmt.Sprintf("server --ports %d --port-threads %d --protocol %s --exp %s",
		c.Ports, c.PortThreads, c.Protocol, c.Experiment)
	if c.IPv6 {
		line += " --ipv6"
	}
	return line
}

// Client starts the client role on a worker. The experiment name is embedded
// as a correlation token so log lines can be attributed to the experiment.
type Client struct {
	Ports         int
	PortReceivers int
	ServerPorts   int
	Workload      string
	Servers       []int
	Gbps          float64
	ClientMax     int
	Protocol      string
	NodeID        int
	Experiment    string
	Unloaded      int  // nonzero only on unloaded baseline runs (Homa)
	NoTrunc       bool // TCP only: disable response truncation
	IPv6          bool
}

// Line implements Command.
func (c Client) Line() string {
	servers := make([]string, len(c.Servers))
	for i, id := range c.Servers {
		servers[i] = strconv.Itoa(id)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "client --ports %d --port-receivers %d --server-ports %d",
		c.Ports, c.PortReceivers, c.ServerPorts)
	fmt.Fprintf(&b, " --workload %s --servers %s --gbps %.3f",
		c.Workload, strings.Join(servers, ","), c.Gbps)
	if c.NoTrunc {
		b.WriteString(" --no-trunc")
	}
	fmt.Fprintf(&b, " --client-max %d --protocol %s --id %d --exp %s",
		c.ClientMax, c.Protocol, c.NodeID, c.Experiment)
	if c.Unloaded > 0 {
		fmt.Fprintf(&b, " --unloaded %d", c.Unloaded)
	}
	if c.IPv6 {
		b.WriteString(" --ipv6")
	}
	return b.String()
}

// DumpTimes flushes the RTT samples collected so far to a file on the
// worker's machine. Dumping to /dev/null discards samples accumulated
// before the measurement window opens.
type DumpTimes struct {
	File       string
	Experiment string
}

// Line implements Command.
func (c DumpTimes) Line() string {
	if c.Experiment == "" {
		return fmt.Sprintf("dump_times %s", c.File)
	}
	return fmt.Sprintf("dump_times %s %s", c.File, c.Experiment)
}

// StopTarget enumerates the worker subsystems that can be stopped.
type StopTarget string

// Stop targets. Senders are stopped before clients so new traffic ceases
// before the listening threads go away.
const (
	Senders StopTarget = "senders"
	Clients StopTarget = "clients"
	Servers StopTarget = "servers"
)

// Stop halts one subsystem of the worker.
type Stop struct {
	Target StopTarget
}

// Line implements Command.
func (c Stop) Line() string {
	return "stop " + string(c.Target)
}

// Exit asks the worker process to shut down cleanly.
type Exit struct{}

// Line implements Command.
func (c Exit) Line() string {
	return "exit"
}
