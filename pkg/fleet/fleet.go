// Package fleet tracks the set of worker processes running across cluster
// nodes and synchronizes commands against them. Commands fan out to every
// target node, then a single polling loop fans in the completion markers;
// the call returns only when every target has acknowledged or the deadline
// passes.
package fleet

import (
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/himsangseung/cperf/pkg/command"
	"github.com/himsangseung/cperf/pkg/utils/errcollection"
	"github.com/himsangseung/cperf/pkg/worker"
)

const (
	// DefaultAwaitTimeout bounds a fan-in wait unless the caller overrides it.
	DefaultAwaitTimeout = 10 * time.Second

	// defaultPollInterval is the sleep between output polls during fan-in.
	defaultPollInterval = 100 * time.Millisecond
)

// State describes the lifecycle of one tracked node.
type State int

// Node lifecycle states.
const (
	NotStarted State = iota
	Running
	Stopped
)

// StartConfig controls worker startup on newly started nodes.
type StartConfig struct {
	// LogFile is where the worker writes its own log on the node.
	LogFile string
	// Verbose selects the worker's log level.
	Verbose bool
	// Setup, when non-nil, runs once for every newly started node before the
	// startup handshake completes. Used for per-node auxiliary processes and
	// kernel parameter tuning.
	Setup func(nodeID int) error
}

type node struct {
	id     int
	handle worker.Handle
	state  State
}

// Fleet owns the worker handles for all currently running nodes.
// A single control goroutine is expected to drive it; the internal lock only
// protects against auxiliary readers.
type Fleet struct {
	launcher worker.Launcher
	nodes    map[int]*node

	pollInterval time.Duration

	// Injectable time sources keep the fan-in loop testable without real
	// sleeps.
	sleep func(time.Duration)
	now   func() time.Time
}

// New returns an empty fleet using the given launcher to open worker
// channels.
func New(launcher worker.Launcher) *Fleet {
	return &Fleet{
		launcher:     launcher,
		nodes:        map[int]*node{},
		pollInterval: defaultPollInterval,
		sleep:        time.Sleep,
		now:          time.Now,
	}
}

// Running returns the sorted ids of all nodes currently in the Running state.
func (f *Fleet) Running() []int {
	ids := []int{}
	for id, n := range f.nodes {
		if n.state == Running {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	return ids
}

// IsRunning reports whether a worker is up on the given node.
func (f *Fleet) IsRunning(id int) bool {
	n, ok := f.nodes[id]
	return ok && n.state == Running
}

// EnsureStarted brings workers up on every node in ids that is not already
// running. Nodes already running are untouched. It returns the ids that were
// newly started, after their startup prompt has been observed and their log
// configuration command acknowledged.
func (f *Fleet) EnsureStarted(ids []int, config StartConfig) ([]int, error) {
	started := []int{}
	for _, id := range ids {
		if f.IsRunning(id) {
			continue
		}
		logrus.Debugf("Starting worker on node%d", id)
		handle, err := f.launcher.Launch(id)
		if err != nil {
			return started, err
		}
		f.nodes[id] = &node{id: id, handle: handle, state: Running}
		started = append(started, id)

		if config.Setup != nil {
			if err := config.Setup(id); err != nil {
				return started, errors.Wrapf(err, "node setup failed on node%d", id)
			}
		}
	}
	if len(started) == 0 {
		return started, nil
	}

	// The worker prints its prompt once it is ready for commands.
	if err := f.await(started, "ssh", DefaultAwaitTimeout); err != nil {
		return started, err
	}

	level := "normal"
	if config.Verbose {
		level = "verbose"
	}
	logFile := config.LogFile
	if logFile == "" {
		logFile = "node.log"
	}
	cmd := command.LogConfig{File: logFile, Level: level}
	if err := f.SendAndAwait(cmd, started, 0); err != nil {
		return started, err
	}
	return started, nil
}

// SendAndAwait writes the command to every target node, then waits until all
// of them have produced the completion marker or the timeout elapses. A
// timeout of zero selects DefaultAwaitTimeout. A broken channel on one node
// is logged and does not stop the batch; a missing acknowledgement does.
func (f *Fleet) SendAndAwait(cmd command.Command, ids []int, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultAwaitTimeout
	}
	line := cmd.Line()
	for _, id := range ids {
		n, ok := f.nodes[id]
		if !ok || n.state != Running {
			return errors.Errorf("no worker running on node%d for command '%s'", id, line)
		}
		logrus.Debugf("Command for node%d: %s", id, line)
		if err := n.handle.Send(line); err != nil {
			// The node misses this one command; fan-in will name it if the
			// marker never shows up.
			logrus.Info(err.Error())
		}
	}
	return f.await(ids, line, timeout)
}

// SendEachAndAwait is the per-node variant of SendAndAwait: every target gets
// its own command (client startup lines differ per node), then a single
// fan-in waits for all acknowledgements. ids without an entry in cmds are an
// error.
func (f *Fleet) SendEachAndAwait(cmds map[int]command.Command, ids []int, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultAwaitTimeout
	}
	line := ""
	for _, id := range ids {
		cmd, ok := cmds[id]
		if !ok {
			return errors.Errorf("no command given for node%d", id)
		}
		n, running := f.nodes[id]
		if !running || n.state != Running {
			return errors.Errorf("no worker running on node%d for command '%s'", id, cmd.Line())
		}
		line = cmd.Line()
		logrus.Debugf("Command for node%d: %s", id, line)
		if err := n.handle.Send(line); err != nil {
			logrus.Info(err.Error())
		}
	}
	return f.await(ids, line, timeout)
}

// MergeIDs returns the union of two id lists, preserving the order of a and
// appending ids of b not already present. Commands sent to the union run
// once per node even when a node plays both roles.
func MergeIDs(a, b []int) []int {
	merged := append([]int{}, a...)
	for _, id := range b {
		present := false
		for _, existing := range a {
			if existing == id {
				present = true
				break
			}
		}
		if !present {
			merged = append(merged, id)
		}
	}
	return merged
}

// await polls every pending node each iteration until all of them have shown
// the completion marker since their command was issued.
func (f *Fleet) await(ids []int, cmd string, timeout time.Duration) error {
	outputs := map[int]string{}
	deadline := f.now().Add(timeout)
	reported := false

	for {
		for _, id := range ids {
			n, ok := f.nodes[id]
			if !ok {
				continue
			}
			data := n.handle.Poll()
			if len(data) == 0 {
				continue
			}
			// Anything beyond the marker itself is incidental chatter; it is
			// surfaced, not discarded.
			printData := string(data)
			printData = strings.TrimSuffix(printData, command.Marker)
			if printData != "" {
				logrus.Infof("extra output from node%d: '%s'", id, printData)
			}
			outputs[id] += string(data)
		}

		badNode := -1
		for _, id := range ids {
			if !strings.Contains(outputs[id], command.Marker) {
				badNode = id
				break
			}
		}
		if badNode < 0 {
			return nil
		}
		if f.now().After(deadline) {
			if !reported {
				logrus.Infof("expected output from node%d not yet received after "+
					"command '%s': expecting '%s', got '%s'",
					badNode, cmd, command.Marker, outputs[badNode])
				reported = true
			}
			return &TimeoutError{
				NodeID:  badNode,
				Command: cmd,
				Timeout: timeout,
				Output:  outputs[badNode],
			}
		}
		f.sleep(f.pollInterval)
	}
}

// StopAll sends an exit command to every running node, closes the handles
// and clears the fleet state. It is safe to call with no nodes running and
// best-effort throughout: per-node failures are collected, not fatal.
func (f *Fleet) StopAll() error {
	var errs errcollection.ErrorCollection

	ids := f.Running()
	for _, id := range ids {
		n := f.nodes[id]
		if err := n.handle.Send(command.Exit{}.Line()); err != nil {
			logrus.Infof("Broken pipe to node%d", id)
		}
	}
	for _, id := range ids {
		n := f.nodes[id]
		if err := n.handle.Close(); err != nil {
			errs.Add(errors.Wrapf(err, "closing worker channel to node%d failed", id))
		}
		n.state = Stopped
	}
	f.nodes = map[int]*node{}
	return errs.GetErrIfAny()
}
