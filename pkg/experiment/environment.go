package experiment

import (
	"fmt"
	"os"
	"regexp"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/himsangseung/cperf/pkg/executor"
)

// Tuner reads and writes kernel parameters on cluster nodes. The transport
// under test is configured entirely through sysctl.
type Tuner interface {
	// Get returns the value of a parameter on one node.
	Get(nodeID int, name string) (string, error)
	// Set changes a parameter on a group of nodes.
	Set(name, value string, nodes []int) error
}

// Collector copies result files from worker machines into the local log
// directory.
type Collector interface {
	Retrieve(nodeID int, remotePath, localPath string) error
}

// MetricsRecorder snapshots a node's protocol counters. An empty output path
// discards the snapshot; the side effect of resetting the counter baseline
// is what matters then.
type MetricsRecorder interface {
	Record(nodeID int, outPath string) error
}

// ExecutorFactory opens a one-shot executor for a node. Each helper command
// gets its own connection, matching how operators run ad-hoc ssh commands.
type ExecutorFactory func(nodeID int) (executor.Executor, error)

var sysctlValueRegexp = regexp.MustCompile(`.*= (.*)`)

// SysctlTuner implements Tuner over per-node executors. When Stripped is set
// (the transport was built without its tuning surface), writes are skipped
// with a debug note instead of failing.
type SysctlTuner struct {
	Executors ExecutorFactory
	Stripped  bool
}

// Get implements Tuner.
func (t *SysctlTuner) Get(nodeID int, name string) (string, error) {
	exec, err := t.Executors(nodeID)
	if err != nil {
		return "", err
	}
	output, err := executor.RunAndLog(exec, "sysctl "+name)
	if err != nil {
		return "", err
	}
	match := sysctlValueRegexp.FindStringSubmatch(output)
	if match == nil {
		return "", errors.Errorf("couldn't parse sysctl output: %s", output)
	}
	return match[1], nil
}

// Set implements Tuner.
func (t *SysctlTuner) Set(name, value string, nodes []int) error {
	if t.Stripped {
		logrus.Debugf("Skipping set of %s parameter to %s on nodes %v (transport is stripped)",
			name, value, nodes)
		return nil
	}
	logrus.Debugf("Setting parameter %s to %s on nodes %v", name, value, nodes)
	for _, id := range nodes {
		exec, err := t.Executors(id)
		if err != nil {
			return err
		}
		if _, err := executor.RunAndLog(exec,
			fmt.Sprintf("sudo sysctl %s=%s", name, value)); err != nil {
			return err
		}
	}
	return nil
}

// RsyncCollector retrieves result files with rsync over ssh, run from the
// harness machine.
type RsyncCollector struct {
	Local      executor.Executor
	HostFormat string
}

// Retrieve implements Collector.
func (c *RsyncCollector) Retrieve(nodeID int, remotePath, localPath string) error {
	host := fmt.Sprintf(c.HostFormat, nodeID)
	_, err := executor.RunAndLog(c.Local,
		fmt.Sprintf("rsync -rtvq %s:%s %s", host, remotePath, localPath))
	return err
}

// SnapshotRecorder implements MetricsRecorder by running a metrics dump
// command on the node and capturing its stdout.
type SnapshotRecorder struct {
	Executors ExecutorFactory

	// Command is the remote metrics dump invocation; defaults to
	// "metrics.py".
	Command string
}

// Record implements MetricsRecorder.
func (r *SnapshotRecorder) Record(nodeID int, outPath string) error {
	exec, err := r.Executors(nodeID)
	if err != nil {
		return err
	}
	cmd := r.Command
	if cmd == "" {
		cmd = "metrics.py"
	}
	output, err := executor.RunAndLog(exec, cmd)
	if err != nil {
		return err
	}
	if outPath == "" {
		return nil
	}
	return errors.Wrapf(os.WriteFile(outPath, []byte(output+"\n"), 0644),
		"cannot write metrics snapshot for node%d", nodeID)
}
