package experiment

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/himsangseung/cperf/pkg/command"
	"github.com/himsangseung/cperf/pkg/fleet"
)

const (
	// clientStartTimeout bounds client startup acknowledgement; clients
	// resolve and connect to every server before printing their prompt.
	clientStartTimeout = 40 * time.Second

	// settleDelay gives the priority daemon time to adjust cutoffs after
	// clients start, before the baseline metrics snapshot.
	settleDelay = 2 * time.Second

	// freezeParam and freezeValue freeze kernel timetraces on demand.
	freezeParam = ".net.homa.action"
	freezeValue = "7"
)

// Config carries the run-wide settings of a Runner.
type Config struct {
	// LogDir is the run's log directory; result files land here.
	LogDir string

	// Verbose selects verbose worker-side logging.
	Verbose bool

	// Stripped means the transport was built without its metrics and tuning
	// surface; the corresponding steps are skipped.
	Stripped bool

	// Setup, when non-nil, runs once per newly started worker node.
	Setup func(nodeID int) error

	// PreStop, when non-nil, runs before workers are shut down, with the ids
	// of the nodes about to stop. Used to stop per-node auxiliary daemons.
	PreStop func(ids []int)
}

// Runner executes experiments over a fleet.
type Runner struct {
	fleet     *fleet.Fleet
	tuner     Tuner
	collector Collector
	metrics   MetricsRecorder
	cfg       Config

	// serverNodes are the nodes running servers from the latest StartServers
	// call; the measurement-window markers go to them as well as the clients.
	serverNodes []int

	sleep func(time.Duration)
}

// NewRunner returns a Runner driving the given fleet.
func NewRunner(f *fleet.Fleet, tuner Tuner, collector Collector,
	metrics MetricsRecorder, cfg Config) *Runner {
	return &Runner{
		fleet:     f,
		tuner:     tuner,
		collector: collector,
		metrics:   metrics,
		cfg:       cfg,
		sleep:     time.Sleep,
	}
}

func (r *Runner) startConfig() fleet.StartConfig {
	return fleet.StartConfig{
		LogFile: "node.log",
		Verbose: r.cfg.Verbose,
		Setup:   r.cfg.Setup,
	}
}

// StartServers starts the server role of an experiment on its server nodes.
// Servers from a previous StartServers call are stopped first; the last
// caller's configuration wins on shared nodes.
func (r *Runner) StartServers(exp *Experiment) error {
	logrus.Infof("Starting servers for %s experiment on nodes %v", exp.Name, exp.Servers)
	if len(r.serverNodes) > 0 {
		if err := r.fleet.SendAndAwait(command.Stop{Target: command.Servers},
			r.serverNodes, 0); err != nil {
			return err
		}
		r.serverNodes = nil
	}
	if _, err := r.fleet.EnsureStarted(exp.Servers, r.startConfig()); err != nil {
		return err
	}
	if err := r.fleet.SendAndAwait(exp.ServerCommand(), exp.Servers, 0); err != nil {
		return err
	}
	r.serverNodes = append([]int{}, exp.Servers...)
	return nil
}

// Run executes one experiment: clients start, a measurement window opens and
// closes around the configured duration, and RTT dumps plus metrics
// snapshots are collected. Unloaded baseline runs skip the window; their
// clients measure sequential RPCs and the data is complete as soon as the
// clients acknowledge startup.
//
// StartServers must have been called for the experiment's servers.
func (r *Runner) Run(exp *Experiment) error {
	expNodes := sortedUnion(exp.Servers, exp.Clients)
	if _, err := r.fleet.EnsureStarted(exp.Clients, r.startConfig()); err != nil {
		return err
	}
	logrus.Infof("Starting clients for %s experiment on nodes %v", exp.Name, exp.Clients)
	cmds := map[int]command.Command{}
	for _, id := range exp.Clients {
		cmds[id] = exp.ClientCommand(id)
	}
	if err := r.fleet.SendEachAndAwait(cmds, exp.Clients, clientStartTimeout); err != nil {
		return err
	}

	if exp.Unloaded == 0 {
		if exp.Protocol == ProtocolHoma {
			r.sleep(settleDelay)
			if r.cfg.Stripped {
				logrus.Debug("Skipping initial read of metrics (transport is stripped)")
			} else {
				logrus.Debug("Recording initial metrics")
				for _, id := range expNodes {
					if err := r.metrics.Record(id, ""); err != nil {
						logrus.Info(err.Error())
					}
				}
			}
		}
		if err := r.fleet.SendAndAwait(command.DumpTimes{File: os.DevNull,
			Experiment: exp.Name}, exp.Clients, 0); err != nil {
			return err
		}
		window := fleet.MergeIDs(r.serverNodes, exp.Clients)
		if err := r.fleet.SendAndAwait(command.StartMeasurements(exp.Name),
			window, 0); err != nil {
			return err
		}
		logrus.Info("Starting measurements")
		r.sleep(exp.Seconds)
		if exp.Protocol == ProtocolHoma && exp.TTFreeze {
			logrus.Infof("Freezing timetraces via node%d", exp.Clients[0])
			if err := r.tuner.Set(freezeParam, freezeValue, exp.Clients[:1]); err != nil {
				return err
			}
		}
		if err := r.fleet.SendAndAwait(command.EndMeasurements(exp.Name),
			window, 0); err != nil {
			return err
		}
	}

	logrus.Infof("Retrieving data for %s experiment", exp.Name)
	if err := r.fleet.SendAndAwait(command.DumpTimes{File: "rtts",
		Experiment: exp.Name}, exp.Clients, 0); err != nil {
		return err
	}

	if exp.Protocol == ProtocolHoma && exp.Unloaded == 0 {
		if r.cfg.Stripped {
			logrus.Debug("Skipping final read of metrics (transport is stripped)")
		} else {
			logrus.Debugf("Recording final metrics from nodes %v", expNodes)
			for _, id := range expNodes {
				path := filepath.Join(r.cfg.LogDir,
					fmt.Sprintf("%s-%d.metrics", exp.Name, id))
				if err := r.metrics.Record(id, path); err != nil {
					logrus.Info(err.Error())
				}
			}
			r.keepReportCopy(fmt.Sprintf("%s-%d.metrics", exp.Name, exp.Servers[0]))
			r.keepReportCopy(fmt.Sprintf("%s-%d.metrics", exp.Name, exp.Clients[0]))
		}
	}

	if err := r.fleet.SendAndAwait(command.Stop{Target: command.Senders},
		exp.Clients, 0); err != nil {
		return err
	}
	if err := r.fleet.SendAndAwait(command.Stop{Target: command.Clients},
		exp.Clients, 0); err != nil {
		return err
	}
	for _, id := range exp.Clients {
		local := filepath.Join(r.cfg.LogDir, fmt.Sprintf("%s-%d.rtts", exp.Name, id))
		if err := r.collector.Retrieve(id, "rtts", local); err != nil {
			logrus.Info(err.Error())
		}
	}
	return nil
}

// RunAll executes several experiments concurrently over a shared fleet:
// every experiment's servers start first (shared server nodes keep the first
// configuration they were given), then every experiment's clients, then one
// shared measurement window sized by the longest experiment, then one shared
// collection phase. Per-experiment timing precision is traded for efficient
// node reuse.
func (r *Runner) RunAll(exps []*Experiment) error {
	homaNodes := []int{}
	homaClients := []int{}
	homaServers := []int{}
	tcpNodes := []int{}
	for _, exp := range exps {
		if exp.Protocol == ProtocolHoma {
			homaClients = append(homaClients, exp.Clients...)
			homaServers = append(homaServers, exp.Servers...)
			homaNodes = append(homaNodes, exp.Clients...)
			homaNodes = append(homaNodes, exp.Servers...)
		} else {
			tcpNodes = append(tcpNodes, exp.Clients...)
			tcpNodes = append(tcpNodes, exp.Servers...)
		}
	}
	homaClients = sortedUnion(homaClients, nil)
	homaServers = sortedUnion(homaServers, nil)
	homaNodes = sortedUnion(homaNodes, nil)
	allNodes := sortedUnion(homaNodes, tcpNodes)

	// Start from a clean fleet so stale roles from earlier runs cannot leak
	// into the shared window.
	if err := r.StopAll(); err != nil {
		logrus.Info(err.Error())
	}

	for _, exp := range exps {
		if len(exp.Servers) == 0 {
			continue
		}
		logrus.Infof("Starting servers for %s experiment on nodes %v",
			exp.Name, exp.Servers)
		if _, err := r.fleet.EnsureStarted(exp.Servers, r.startConfig()); err != nil {
			return err
		}
		if err := r.fleet.SendAndAwait(exp.ServerCommand(), exp.Servers, 0); err != nil {
			return err
		}
	}

	for _, exp := range exps {
		logrus.Infof("Starting clients for %s experiment on nodes %v",
			exp.Name, exp.Clients)
		if _, err := r.fleet.EnsureStarted(exp.Clients, r.startConfig()); err != nil {
			return err
		}
		cmds := map[int]command.Command{}
		for _, id := range exp.Clients {
			cmd := exp.ClientCommand(id)
			// The shared window has no per-experiment baseline or truncation
			// variants.
			cmd.Unloaded = 0
			cmd.NoTrunc = false
			cmds[id] = cmd
		}
		if err := r.fleet.SendEachAndAwait(cmds, exp.Clients, clientStartTimeout); err != nil {
			return err
		}
	}

	if len(homaClients) > 0 {
		r.sleep(settleDelay)
	}
	if len(homaNodes) > 0 {
		if r.cfg.Stripped {
			logrus.Debug("Skipping metrics initialization (transport is stripped)")
		} else {
			logrus.Debug("Initializing metrics")
			for _, id := range homaNodes {
				if err := r.metrics.Record(id, ""); err != nil {
					logrus.Info(err.Error())
				}
			}
		}
	}
	if err := r.fleet.SendAndAwait(command.DumpTimes{File: os.DevNull},
		allNodes, 0); err != nil {
		return err
	}
	if err := r.fleet.SendAndAwait(command.StartMeasurements(""), allNodes, 0); err != nil {
		return err
	}
	logrus.Info("Starting measurements")

	var window time.Duration
	freeze := false
	for _, exp := range exps {
		if exp.Seconds > window {
			window = exp.Seconds
		}
		if exp.Protocol == ProtocolHoma && exp.TTFreeze {
			freeze = true
		}
	}
	r.sleep(window)

	if len(homaNodes) > 0 && freeze {
		logrus.Infof("Freezing timetraces via node%d", allNodes[0])
		if err := r.tuner.Set(freezeParam, freezeValue, allNodes[:1]); err != nil {
			return err
		}
	}
	if err := r.fleet.SendAndAwait(command.EndMeasurements(""), allNodes, 0); err != nil {
		return err
	}

	logrus.Info("Retrieving data")
	for _, exp := range exps {
		if err := r.fleet.SendAndAwait(command.DumpTimes{File: exp.Name + ".rtts",
			Experiment: exp.Name}, exp.Clients, 0); err != nil {
			return err
		}
	}
	if len(homaNodes) > 0 {
		if r.cfg.Stripped {
			logrus.Debug("Skipping final read of metrics (transport is stripped)")
		} else {
			logrus.Debugf("Recording final metrics from nodes %v", homaNodes)
			for _, id := range homaNodes {
				path := filepath.Join(r.cfg.LogDir, fmt.Sprintf("node%d.metrics", id))
				if err := r.metrics.Record(id, path); err != nil {
					logrus.Info(err.Error())
				}
			}
			if len(homaClients) > 0 {
				r.keepReportCopy(fmt.Sprintf("node%d.metrics", homaClients[0]))
			}
			if len(homaServers) > 0 {
				r.keepReportCopy(fmt.Sprintf("node%d.metrics", homaServers[0]))
			}
		}
	}
	if err := r.fleet.SendAndAwait(command.Stop{Target: command.Senders},
		allNodes, 0); err != nil {
		return err
	}
	if err := r.fleet.SendAndAwait(command.Stop{Target: command.Clients},
		allNodes, 0); err != nil {
		return err
	}
	for _, exp := range exps {
		for _, id := range exp.Clients {
			local := filepath.Join(r.cfg.LogDir,
				fmt.Sprintf("%s-%d.rtts", exp.Name, id))
			if err := r.collector.Retrieve(id, exp.Name+".rtts", local); err != nil {
				logrus.Info(err.Error())
			}
		}
	}
	return nil
}

// StopAll shuts every worker down and retrieves each node's worker log into
// the log directory. Best effort throughout.
func (r *Runner) StopAll() error {
	ids := r.fleet.Running()
	if r.cfg.PreStop != nil {
		r.cfg.PreStop(ids)
	}
	err := r.fleet.StopAll()
	for _, id := range ids {
		local := filepath.Join(r.cfg.LogDir, fmt.Sprintf("node%d.log", id))
		if rerr := r.collector.Retrieve(id, "node.log", local); rerr != nil {
			logrus.Info(rerr.Error())
		}
	}
	r.serverNodes = nil
	return err
}

// keepReportCopy copies one result file from the log directory into its
// reports subdirectory, where files survive DeleteRtts-style cleanup.
func (r *Runner) keepReportCopy(name string) {
	src := filepath.Join(r.cfg.LogDir, name)
	dst := filepath.Join(r.cfg.LogDir, "reports", name)
	if err := copyFile(src, dst); err != nil {
		logrus.Info(err.Error())
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return errors.Wrapf(err, "cannot open %s", src)
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return errors.Wrapf(err, "cannot create %s", dst)
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return errors.Wrapf(err, "copying %s to %s failed", src, dst)
}

// sortedUnion returns the sorted union of two id lists.
func sortedUnion(a, b []int) []int {
	seen := map[int]bool{}
	union := []int{}
	for _, id := range append(append([]int{}, a...), b...) {
		if !seen[id] {
			seen[id] = true
			union = append(union, id)
		}
	}
	sort.Ints(union)
	return union
}
