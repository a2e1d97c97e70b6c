package logscan

import (
	"sort"
	"strings"

	"github.com/montanaflynn/stats"
	"github.com/sirupsen/logrus"
)

// RoleSummary holds the aggregate throughput for one role (clients or
// servers) of an experiment. Averages are per node: each node's own samples
// are averaged first, then the node averages are averaged across nodes.
type RoleSummary struct {
	Nodes   int
	AvgGbps float64
	AvgKops float64
}

// Summary is the post-scan aggregate for one experiment.
type Summary struct {
	Name    string
	Client  RoleSummary
	Server  RoleSummary
	Overall RoleSummary

	// Outstanding holds the outstanding-RPC gauge readings from the first
	// node that reported any.
	Outstanding []float64

	// BackupFraction is the average backed-up send fraction across all nodes
	// and intervals; BackupSamples counts the contributing intervals.
	BackupFraction float64
	BackupSamples  int

	// Missing lists aggregate keys absent from the logs (data-quality
	// warning; the corresponding totals were defaulted to zero).
	Missing []string
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	m, err := stats.Mean(values)
	if err != nil {
		return 0
	}
	return m
}

// Aggregate reduces scanned per-node series into per-experiment summaries.
// Experiments whose name carries the "unloaded" prefix report zero client
// throughput for nodes with no samples instead of omitting them, so baseline
// runs still aggregate cleanly.
func Aggregate(experiments Experiments) map[string]*Summary {
	summaries := map[string]*Summary{}

	for name, exp := range experiments {
		summary := &Summary{Name: name}
		totals := map[Metric]float64{}
		roleNodes := map[string]map[string]bool{
			"client": {},
			"server": {},
			"all":    {},
		}

		nodeNames := make([]string, 0, len(exp))
		for node := range exp {
			nodeNames = append(nodeNames, node)
		}
		sort.Strings(nodeNames)

		for _, role := range []string{"client", "server"} {
			gbpsKey := Metric(role + "_gbps")
			kopsKey := Metric(role + "_kops")

			averages := []float64{}
			logrus.Debugf("%ss for %s experiment:", strings.Title(role), name)
			for _, node := range nodeNames {
				series := exp[node]
				if _, ok := series[gbpsKey]; !ok {
					if strings.HasPrefix(name, "unloaded") {
						series[gbpsKey] = []float64{0.0}
						series[kopsKey] = []float64{0.0}
					} else {
						continue
					}
				}
				avg := mean(series[gbpsKey])
				logrus.Debugf("%s: %.2f Gbps over %d samples", node, avg, len(series[gbpsKey]))
				averages = append(averages, avg)
				roleNodes["all"][node] = true
				roleNodes[role][node] = true
			}
			if len(averages) > 0 {
				for _, avg := range averages {
					totals[gbpsKey] += avg
				}
			}

			averages = averages[:0]
			for _, node := range nodeNames {
				series := exp[node]
				if _, ok := series[kopsKey]; !ok {
					continue
				}
				avg := mean(series[kopsKey])
				logrus.Debugf("%s: %.1f Kops/sec over %d samples", node, avg, len(series[kopsKey]))
				averages = append(averages, avg)
				roleNodes["all"][node] = true
				roleNodes[role][node] = true
			}
			if len(averages) > 0 {
				for _, avg := range averages {
					totals[kopsKey] += avg
				}
			}
		}

		for _, key := range []Metric{ClientGbps, ClientKops, ServerGbps, ServerKops} {
			if _, ok := totals[key]; !ok {
				logrus.Infof("%s missing in node log files", key)
				summary.Missing = append(summary.Missing, string(key))
				totals[key] = 0
			}
		}

		summary.Client = roleSummary(len(roleNodes["client"]), totals[ClientGbps], totals[ClientKops])
		summary.Server = roleSummary(len(roleNodes["server"]), totals[ServerGbps], totals[ServerKops])
		summary.Overall = roleSummary(len(roleNodes["all"]),
			totals[ClientGbps]+totals[ServerGbps], totals[ClientKops]+totals[ServerKops])

		logrus.Infof("Clients for %s experiment: %d nodes, %.2f Gbps, %.1f Kops/sec "+
			"(avg per node)", name, summary.Client.Nodes, summary.Client.AvgGbps,
			summary.Client.AvgKops)
		if summary.Server.Nodes > 0 {
			logrus.Infof("Servers for %s experiment: %d nodes, %.2f Gbps, %.1f Kops/sec "+
				"(avg per node)", name, summary.Server.Nodes, summary.Server.AvgGbps,
				summary.Server.AvgKops)
		}
		logrus.Infof("Overall for %s experiment: %d nodes, %.2f Gbps, %.1f Kops/sec "+
			"(avg per node)", name, summary.Overall.Nodes, summary.Overall.AvgGbps,
			summary.Overall.AvgKops)

		for _, node := range nodeNames {
			if counts, ok := exp[node][OutstandingRPCs]; ok {
				summary.Outstanding = counts
				logrus.Infof("Outstanding RPCs for %s: %d readings", node, len(counts))
				break
			}
		}

		backups := []float64{}
		for _, node := range nodeNames {
			if fracs, ok := exp[node][Backups]; ok {
				backups = append(backups, fracs...)
			}
		}
		if len(backups) > 0 {
			summary.BackupFraction = mean(backups)
			summary.BackupSamples = len(backups)
			logrus.Infof("Average rate of backed-up RPCs: %.1f%%", 100.0*summary.BackupFraction)
		}

		summaries[name] = summary
	}
	return summaries
}

func roleSummary(nodes int, totalGbps, totalKops float64) RoleSummary {
	s := RoleSummary{Nodes: nodes}
	if nodes > 0 {
		s.AvgGbps = totalGbps / float64(nodes)
		s.AvgKops = totalKops / float64(nodes)
	}
	return s
}
