// Package logscan extracts statistics and failure markers from the per-node
// logs written during a benchmark run. Periodic throughput and latency
// samples are only collected inside the measurement window demarcated by
// the "Starting measurements" and "Ending measurements" log markers.
package logscan

import (
	"bufio"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Metric identifies one time series collected for a node.
type Metric string

// Metrics extracted from node logs.
const (
	ClientKops      Metric = "client_kops"
	ClientGbps      Metric = "client_gbps"
	ClientLatency   Metric = "client_latency"
	ServerKops      Metric = "server_kops"
	ServerGbps      Metric = "server_gbps"
	OutstandingRPCs Metric = "outstanding_rpcs"
	Backups         Metric = "backups"
)

// Series holds the ordered samples for each metric of one node.
type Series map[Metric][]float64

// NodeData maps node names (such as "node1") to their series.
type NodeData map[string]Series

// Experiments collects everything scanned from a run's logs:
// experiment name -> node name -> metric -> ordered samples.
type Experiments map[string]NodeData

// series returns the Series for one experiment/node pair, creating the
// nested maps on first touch.
func (e Experiments) series(experiment, node string) Series {
	nodes, ok := e[experiment]
	if !ok {
		nodes = NodeData{}
		e[experiment] = nodes
	}
	s, ok := nodes[node]
	if !ok {
		s = Series{}
		nodes[node] = s
	}
	return s
}

// The noisy error class suppressed after its first occurrence.
const rpcTimeoutMarker = "Homa RPC timed out"

// ScanLog reads one node's log file and adds the extracted information to
// experiments. Fatal and error markers are surfaced immediately; periodic
// samples are routed to per-experiment per-node series, but only inside the
// measurement window. A log that never reports process exit is flagged as a
// suspected crash.
func ScanLog(path string, node string, experiments Experiments) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "cannot open node log %s", path)
	}
	defer f.Close()

	exited := false
	active := false
	timeouts := 0

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()

		if strings.Contains(line, "FATAL:") {
			logrus.Infof("%s: %s", path, line)
			exited = true
		}
		if strings.Contains(line, "ERROR:") {
			if strings.Contains(line, rpcTimeoutMarker) {
				timeouts++
				if timeouts > 1 {
					continue
				}
			}
			logrus.Infof("%s: %s", path, line)
			continue
		}
		if strings.Contains(line, "cp_node exiting") {
			exited = true
		}

		ev := parseLine(line)
		switch ev.kind {
		case evWindowStart:
			active = true
			continue
		case evWindowEnd:
			active = false
			continue
		}

		if !active {
			continue
		}

		switch ev.kind {
		case evClientSample:
			// A negative rate means the worker had nothing to report yet.
			if ev.gbps >= 0.0 {
				s := experiments.series(ev.experiment, node)
				s[ClientKops] = append(s[ClientKops], ev.kops)
				s[ClientGbps] = append(s[ClientGbps], ev.gbps)
				s[ClientLatency] = append(s[ClientLatency], ev.latency)
			}
		case evServerSample:
			if ev.gbps >= 0.0 {
				s := experiments.series(ev.experiment, node)
				s[ServerKops] = append(s[ServerKops], ev.kops)
				s[ServerGbps] = append(s[ServerGbps], ev.gbps)
			}
		case evOutstanding:
			s := experiments.series(ev.experiment, node)
			s[OutstandingRPCs] = append(s[OutstandingRPCs], ev.count)
		case evBackups:
			// A zero denominator means no sends this interval; skip rather
			// than divide.
			if ev.total > 0 {
				s := experiments.series(ev.experiment, node)
				s[Backups] = append(s[Backups], ev.backedUp/ev.total)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "reading node log %s failed", path)
	}

	if !exited {
		logrus.Infof("%s appears to have crashed (didn't exit)", node)
	}
	if timeouts > 1 {
		logrus.Infof("%s: %d additional Homa RPC timeouts", path, timeouts-1)
	}
	return nil
}

var nodeLogRegexp = regexp.MustCompile(`(node[0-9]+)\.log$`)

// ScanAll reads every node log produced by a run from logDir and returns
// the extracted per-experiment data.
func ScanAll(logDir string) (Experiments, error) {
	files, err := filepath.Glob(filepath.Join(logDir, "node*.log"))
	if err != nil {
		return nil, errors.Wrap(err, "globbing node logs failed")
	}
	sort.Strings(files)

	experiments := Experiments{}
	for _, file := range files {
		match := nodeLogRegexp.FindStringSubmatch(file)
		if match == nil {
			continue
		}
		if err := ScanLog(file, match[1], experiments); err != nil {
			return nil, err
		}
	}
	return experiments, nil
}
