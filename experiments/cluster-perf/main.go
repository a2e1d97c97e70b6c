package main

import (
	"fmt"
	"io"
	"os"
	"os/user"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/himsangseung/cperf/pkg/conf"
	"github.com/himsangseung/cperf/pkg/digest"
	"github.com/himsangseung/cperf/pkg/executor"
	"github.com/himsangseung/cperf/pkg/experiment"
	"github.com/himsangseung/cperf/pkg/fleet"
	"github.com/himsangseung/cperf/pkg/logscan"
	"github.com/himsangseung/cperf/pkg/metadata"
	"github.com/himsangseung/cperf/pkg/utils/errutil"
	"github.com/himsangseung/cperf/pkg/visualization"
	"github.com/himsangseung/cperf/pkg/worker"
)

// defaultLoads gives the target bandwidth per workload when --gbps is not
// set. Heavier-tailed workloads can sustain more offered load before the
// short messages suffer.
var defaultLoads = map[string]float64{
	"w1": 1.4,
	"w2": 3.2,
	"w3": 14,
	"w4": 20,
	"w5": 20,
}

// workloadOrder keeps suite runs in a stable order.
var workloadOrder = []string{"w1", "w2", "w3", "w4", "w5"}

// unloadedRPCs is the number of sequential RPCs each unloaded baseline
// client issues per message length.
const unloadedRPCs = 500

var homaParamRegexp = regexp.MustCompile(`.*net\.homa\.([^ ]+) = (.*)`)

func newRemote(nodeID int) (executor.Executor, error) {
	current, err := user.Current()
	if err != nil {
		return nil, errors.Wrap(err, "cannot fetch current user")
	}
	sshConfig, err := executor.NewSSHConfig(fmt.Sprintf("node%d", nodeID),
		executor.DefaultSSHPort, current)
	if err != nil {
		return nil, err
	}
	return executor.NewRemote(sshConfig), nil
}

// parseSkips expands a skip specification such as "3,5-8,12" into a set of
// node ids.
func parseSkips(spec string) (map[int]bool, error) {
	skips := map[int]bool{}
	if spec == "" {
		return skips, nil
	}
	for _, item := range strings.Split(spec, ",") {
		bounds := strings.Split(item, "-")
		switch len(bounds) {
		case 1:
			id, err := strconv.Atoi(item)
			if err != nil {
				return nil, errors.Errorf("bad skip range '%s': must be either id or id1-id2", item)
			}
			skips[id] = true
		case 2:
			low, err1 := strconv.Atoi(bounds[0])
			high, err2 := strconv.Atoi(bounds[1])
			if err1 != nil || err2 != nil {
				return nil, errors.Errorf("bad skip range '%s': must be either id or id1-id2", item)
			}
			for id := low; id <= high; id++ {
				skips[id] = true
			}
		default:
			return nil, errors.Errorf("bad skip range '%s': must be either id or id1-id2", item)
		}
	}
	return skips, nil
}

// chooseNodes picks the first num node ids not present in skips.
func chooseNodes(num int, skips map[int]bool) []int {
	nodes := []int{}
	for id := 0; len(nodes) != num; id++ {
		if !skips[id] {
			nodes = append(nodes, id)
		}
	}
	return nodes
}

// setupLogDir recreates the log directory and routes the run log to both
// stderr and reports/cperf.log.
func setupLogDir(logDir string) *os.File {
	if _, err := os.Stat(logDir); err == nil {
		errutil.Check(os.RemoveAll(logDir))
	}
	errutil.Check(os.MkdirAll(filepath.Join(logDir, "reports"), 0755))

	logFile, err := os.OpenFile(filepath.Join(logDir, "reports", "cperf.log"),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	errutil.Check(err)
	logrus.SetOutput(io.MultiWriter(os.Stderr, logFile))
	return logFile
}

// discoverHomaConfig dumps the transport's kernel parameters from the first
// node, logs them, and returns the link speed. 25 Gbps is assumed when the
// parameter is unavailable (stripped builds).
func discoverHomaConfig(firstNode int) float64 {
	linkMbps := 25000.0
	exec, err := newRemote(firstNode)
	if err != nil {
		logrus.Info(err.Error())
		return linkMbps
	}
	output, err := executor.RunAndLog(exec, "sysctl -a")
	if err != nil {
		logrus.Info(err.Error())
		return linkMbps
	}
	logrus.Debugf("Homa configuration (node%d):", firstNode)
	for _, line := range strings.Split(output, "\n") {
		match := homaParamRegexp.FindStringSubmatch(line)
		if match == nil {
			continue
		}
		name, value := match[1], match[2]
		logrus.Debugf("  %-20s %s", name, value)
		if name == "link_mbps" {
			if mbps, err := strconv.ParseFloat(value, 64); err == nil {
				linkMbps = mbps
			}
		}
	}
	return linkMbps
}

func main() {
	conf.SetAppName("cluster-perf")
	conf.SetHelp("Cluster performance benchmark for the Homa transport: runs " +
		"message workloads between client and server nodes over Homa and TCP, " +
		"measures round-trip times and produces slowdown digests.")
	errutil.Check(conf.ParseFlags())
	logrus.SetLevel(conf.LogLevel())

	logDir := conf.LogDir.Value()
	if logDir == "" {
		logDir = "logs/" + time.Now().Format("20060102150405")
	}
	logFile := setupLogDir(logDir)
	defer logFile.Close()

	runStart := time.Now()
	logrus.Debugf("cperf starting at %s", runStart.Format(time.RFC1123))

	skips, err := parseSkips(conf.Skip.Value())
	errutil.Checkf(err, "parsing --skip")
	numNodes := conf.NumNodes.Value()
	if numNodes < 2 {
		errutil.Check(errors.New("--nodes must be at least 2"))
	}
	nodes := chooseNodes(numNodes, skips)
	logrus.Infof("Using nodes %v", nodes)

	// Record run metadata; metadata failures must not kill a benchmark that
	// may run for hours.
	runID := uuid.New().String()
	meta, err := metadata.NewDefault(runID)
	if err != nil {
		logrus.Warnf("Metadata backend unavailable: %v", err)
		meta = metadata.Discard{}
	}
	if err := metadata.RecordRuntimeEnv(meta, runStart); err != nil {
		logrus.Warnf("Couldn't record run metadata: %v", err)
	}
	logrus.Infof("Run id: %s", runID)

	linkMbps := discoverHomaConfig(nodes[0])

	current, err := user.Current()
	errutil.Check(err)
	launcher := worker.NewSSHLauncher(current)
	nodeFleet := fleet.New(launcher)

	tuner := &experiment.SysctlTuner{
		Executors: newRemote,
		Stripped:  conf.Stripped.Value(),
	}
	collector := &experiment.RsyncCollector{
		Local:      executor.NewLocal(),
		HostFormat: "node%d",
	}
	recorder := &experiment.SnapshotRecorder{Executors: newRemote}
	prio := &experiment.PrioDaemons{
		Executors:    newRemote,
		LogDir:       logDir,
		Unsched:      conf.Unsched.Value(),
		UnschedBoost: conf.UnschedBoost.Value(),
	}

	protocol := conf.Protocol.Value()
	setup := func(nodeID int) error {
		if protocol != experiment.ProtocolHoma {
			return nil
		}
		if conf.SetIDs.Value() {
			// Disjoint RPC id spaces per node avoid collisions in traces.
			if err := tuner.Set(".net.homa.next_id",
				strconv.Itoa(100000000*(nodeID+1)), []int{nodeID}); err != nil {
				return err
			}
		}
		if !conf.NoHomaPrio.Value() {
			return prio.Start(nodeID)
		}
		return nil
	}

	runner := experiment.NewRunner(nodeFleet, tuner, collector, recorder,
		experiment.Config{
			LogDir:   logDir,
			Verbose:  conf.LogLevel() >= logrus.DebugLevel,
			Stripped: conf.Stripped.Value(),
			Setup:    setup,
			PreStop:  func([]int) { prio.StopAll() },
		})

	if mtu := conf.MTU.Value(); mtu != 0 {
		logrus.Infof("Setting MTU to %d", mtu)
		for _, id := range nodes {
			exec, err := newRemote(id)
			if err == nil {
				executor.RunAndLog(exec, fmt.Sprintf("config mtu %d", mtu))
			}
		}
	}

	workloads := workloadOrder
	if wls := conf.Workloads.Value(); len(wls) > 0 {
		workloads = wls
	}

	ran := []string{}
	for _, wl := range workloads {
		gbps := conf.Gbps.Value()
		if gbps == 0.0 {
			gbps = defaultLoads[wl]
		}

		loaded := newExperiment(protocol+"_"+wl, protocol, wl, gbps, nodes)
		unloaded := newExperiment("unloaded_"+wl, experiment.ProtocolHoma, wl, 0, nodes)
		unloaded.Unloaded = unloadedRPCs
		unloaded.Servers = nodes[:1]
		unloaded.Clients = nodes[1:2]

		errutil.Checkf(runner.StartServers(loaded), "starting %s servers", loaded.Name)
		errutil.Checkf(runner.Run(loaded), "running %s experiment", loaded.Name)
		ran = append(ran, loaded.Name)

		errutil.Checkf(runner.StartServers(unloaded), "starting %s servers", unloaded.Name)
		errutil.Checkf(runner.Run(unloaded), "running %s experiment", unloaded.Name)
	}

	errutil.Check(runner.StopAll())

	// Digest phase: everything below works from files in the log directory.
	experiments, err := logscan.ScanAll(logDir)
	errutil.Checkf(err, "scanning node logs")
	summaries := logscan.Aggregate(experiments)

	engine := digest.NewEngine(digest.Options{
		LogDir:      logDir,
		LinkMbps:    linkMbps,
		OldSlowdown: conf.OldSlowdown.Value(),
		DeleteRtts:  conf.DeleteRtts.Value(),
		RunStamp:    runStart.Format(time.RFC1123),
	})

	digests := map[string]*digest.Digest{}
	for _, wl := range workloads {
		errutil.Check(engine.SetUnloaded("unloaded_" + wl))
		name := protocol + "_" + wl
		d, err := engine.Get(name)
		if err != nil {
			logrus.Warnf("Couldn't digest %s experiment: %v", name, err)
			continue
		}
		digests[name] = d
		if err := digest.ScanMetrics(logDir, name); err != nil {
			logrus.Info(err.Error())
		}
	}

	sort.Strings(ran)
	errutil.Check(visualization.DrawTable(
		visualization.SummaryTable(ran, summaries, digests)))
}

// newExperiment builds an experiment over the full node set with the
// configured port and thread counts. Every node plays both roles, the same
// way production traffic mixes inbound and outbound load.
func newExperiment(name, protocol, workload string, gbps float64, nodes []int) *experiment.Experiment {
	return &experiment.Experiment{
		Name:     name,
		Protocol: protocol,
		Clients:  append([]int{}, nodes...),
		Servers:  append([]int{}, nodes...),
		Gbps:     gbps,
		Seconds:  conf.Seconds.Value(),
		Workload: workload,

		ClientMax:     conf.ClientMax.Value(),
		ClientPorts:   conf.ClientPorts.Value(),
		PortReceivers: conf.PortReceivers.Value(),
		ServerPorts:   conf.ServerPorts.Value(),
		PortThreads:   conf.PortThreads.Value(),

		TCPClientMax:     conf.TCPClientMax.Value(),
		TCPClientPorts:   conf.TCPClientPorts.Value(),
		TCPPortReceivers: conf.TCPPortReceivers.Value(),
		TCPServerPorts:   conf.TCPServerPorts.Value(),
		TCPPortThreads:   conf.TCPPortThreads.Value(),

		IPv6:     conf.IPv6.Value(),
		TTFreeze: conf.TtFreeze.Value(),
	}
}
