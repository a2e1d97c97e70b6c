package digest

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/himsangseung/cperf/pkg/datafile"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var (
	coreUtilRegexp = regexp.MustCompile(`Total Core Utilization *([0-9.]+)`)
	counterRegexp  = regexp.MustCompile(`([^ ]+) +([0-9]+) +\( *([0-9.]+ *[MKG]?)/s`)
)

// metricSpec describes one statistic extracted from the .metrics files and
// the outlier rule applied to it.
type metricSpec struct {
	doc       string
	units     string
	threshold float64
}

var metricSpecs = map[string]metricSpec{
	"cores":               {"core utilization", "", 2},
	"packets_sent_RESEND": {"outgoing resend requests", "/s", 5},
	"packets_rcvd_RESEND": {"incoming resend requests", "/s", 5},
}

// ScanMetrics reads the .metrics files generated by an experiment, extracts
// core utilization and resend counters, and logs a message when a node's
// value is well above the median across nodes. Flakey nodes usually show up
// here first.
func ScanMetrics(logDir, experiment string) error {
	files, err := filepath.Glob(filepath.Join(logDir,
		fmt.Sprintf("%s-*.metrics", experiment)))
	if err != nil {
		return errors.Wrap(err, "globbing metrics files failed")
	}
	sort.Strings(files)
	if len(files) == 0 {
		return nil
	}

	// metric name -> file -> value
	metrics := map[string]map[string]float64{}
	for name := range metricSpecs {
		metrics[name] = map[string]float64{}
	}

	for _, file := range files {
		if err := scanMetricsFile(file, metrics); err != nil {
			return err
		}
	}

	for name, values := range metrics {
		sorted := make([]float64, 0, len(values))
		for _, value := range values {
			sorted = append(sorted, value)
		}
		sort.Float64s(sorted)
		median := sorted[len(sorted)/2]
		if median == 0 && name == "cores" {
			logrus.Info("Couldn't find core utilization in metrics files")
			continue
		}
		spec := metricSpecs[name]
		for file, value := range values {
			if value >= spec.threshold && value > 1.5*median {
				logrus.Infof("Outlier %s in %s: %s vs. %s median",
					spec.doc, file, datafile.Scale(value, spec.units),
					datafile.Scale(median, spec.units))
			}
		}
	}
	return nil
}

func scanMetricsFile(path string, metrics map[string]map[string]float64) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "cannot open metrics file %s", path)
	}
	defer f.Close()

	for name := range metrics {
		metrics[name][path] = 0
	}

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if match := coreUtilRegexp.FindStringSubmatch(line); match != nil {
			value, err := strconv.ParseFloat(match[1], 64)
			if err == nil {
				metrics["cores"][path] = value
			}
			continue
		}
		match := counterRegexp.FindStringSubmatch(line)
		if match == nil {
			continue
		}
		name := match[1]
		if _, tracked := metricSpecs[name]; !tracked || name == "cores" {
			continue
		}
		value, err := datafile.Unscale(strings.TrimSpace(match[3]))
		if err != nil {
			logrus.Infof("Bad counter rate in %s: %v", path, err)
			continue
		}
		metrics[name][path] = value
	}
	return errors.Wrapf(scanner.Err(), "reading metrics file %s failed", path)
}
