// Package digest turns the raw RTT dumps collected from worker nodes into
// per-experiment latency digests: message lengths are histogrammed into
// equal-population buckets and each bucket gets rank-based P50/P99/P999
// round-trip times and slowdowns.
package digest

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Digest holds the processed latency data for one experiment. The per-bucket
// slices are parallel: index i describes the bucket whose largest message
// size is Lengths[i].
type Digest struct {
	TotalMessages int

	Lengths []int
	CumFrac []float64
	Counts  []int

	P50  []float64
	P99  []float64
	P999 []float64

	Slow50  []float64
	Slow99  []float64
	Slow999 []float64

	AvgSlowdown float64

	// rtts keeps the raw samples keyed by message length, for callers that
	// need the underlying distribution.
	rtts map[int][]float64
}

// RTTs returns the raw round-trip samples keyed by message length.
func (d *Digest) RTTs() map[int][]float64 {
	return d.rtts
}

// Options configures an Engine.
type Options struct {
	// LogDir is the run's log directory, holding the <experiment>-<node>.rtts
	// files and the reports subdirectory.
	LogDir string

	// LinkMbps is the uplink speed used in the slowdown reference time.
	LinkMbps float64

	// OldSlowdown switches the slowdown reference from the analytic best case
	// to the measured unloaded P50 for the same message length. Requires a
	// prior SetUnloaded call.
	OldSlowdown bool

	// DeleteRtts removes each .rtts file after it has been read, except for
	// unloaded baselines. Saves disk on large runs.
	DeleteRtts bool

	// RunStamp labels the generated report files, normally the run's start
	// time.
	RunStamp string
}

// Engine computes and caches digests for a run. A digest is computed at most
// once per experiment name; later requests return the cached result, which
// keeps DeleteRtts safe.
type Engine struct {
	opts Options

	mutex   sync.Mutex
	digests map[string]*Digest

	// Unloaded baseline, set by SetUnloaded.
	unloadedP50 map[int]float64
	minRTT      float64
}

// NewEngine returns an Engine for one run's log directory.
func NewEngine(opts Options) *Engine {
	return &Engine{
		opts:        opts,
		digests:     map[string]*Digest{},
		unloadedP50: map[int]float64{},
	}
}

// ReadRttFile reads one file produced by a worker's dump_times command and
// merges its samples into rtts. Each data line carries a message length in
// bytes and a round-trip time in microseconds. Returns the number of samples
// read and, when minRTT is nonzero, the file's average slowdown against the
// analytic reference time minRTT + length*8/linkMbps.
func ReadRttFile(path string, rtts map[int][]float64, minRTT, linkMbps float64) (int, float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, errors.Wrapf(err, "cannot open RTT file %s", path)
	}
	defer f.Close()

	numRtts := 0
	slowdownSum := 0.0

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		stripped := strings.TrimSpace(scanner.Text())
		if stripped == "" || stripped[0] == '#' {
			continue
		}
		words := strings.Fields(stripped)
		if len(words) < 2 {
			logrus.Infof("Line in %s too short (need at least 2 columns): '%s'",
				path, stripped)
			continue
		}
		length, err := strconv.Atoi(words[0])
		if err != nil {
			logrus.Infof("Bad message length in %s: '%s'", path, stripped)
			continue
		}
		usec, err := strconv.ParseFloat(words[1], 64)
		if err != nil {
			logrus.Infof("Bad RTT in %s: '%s'", path, stripped)
			continue
		}
		rtts[length] = append(rtts[length], usec)
		if minRTT > 0 {
			slowdownSum += usec / (minRTT + float64(length)*8.0/linkMbps)
		}
		numRtts++
	}
	if err := scanner.Err(); err != nil {
		return 0, 0, errors.Wrapf(err, "reading RTT file %s failed", path)
	}

	if numRtts == 0 {
		return 0, 0, nil
	}
	return numRtts, slowdownSum / float64(numRtts), nil
}

// SetUnloaded reads the RTT files of an unloaded baseline experiment and
// records, per message length, the median round-trip time, plus the global
// minimum RTT. These feed the legacy slowdown mode.
func (e *Engine) SetUnloaded(experiment string) error {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	files, err := filepath.Glob(filepath.Join(e.opts.LogDir,
		fmt.Sprintf("%s-*.rtts", experiment)))
	if err != nil {
		return errors.Wrap(err, "globbing RTT files failed")
	}
	sort.Strings(files)
	if len(files) == 0 {
		return errors.Errorf("couldn't find %s RTT data", experiment)
	}

	rtts := map[int][]float64{}
	for _, file := range files {
		if _, _, err := ReadRttFile(file, rtts, 0, 0); err != nil {
			return err
		}
	}

	e.unloadedP50 = map[int]float64{}
	e.minRTT = 1e20
	for length, samples := range rtts {
		sorted := append([]float64(nil), samples...)
		sort.Float64s(sorted)
		e.unloadedP50[length] = sorted[len(sorted)/2]
		if sorted[0] < e.minRTT {
			e.minRTT = sorted[0]
		}
	}
	logrus.Debugf("Computed unloaded P50s: %d entries", len(e.unloadedP50))
	return nil
}

// bucket describes one histogram bucket: the largest message length it
// covers, and the fraction of all messages with that length or smaller.
type bucket struct {
	length  int
	cumFrac float64
}

func makeBuckets(rtts map[int][]float64, total int) []bucket {
	lengths := make([]int, 0, len(rtts))
	for length := range rtts {
		lengths = append(lengths, length)
	}
	sort.Ints(lengths)

	buckets := make([]bucket, 0, len(lengths))
	cumulative := 0
	for _, length := range lengths {
		cumulative += len(rtts[length])
		buckets = append(buckets, bucket{length, float64(cumulative) / float64(total)})
	}
	return buckets
}

// Get returns the digest for an experiment, computing it on first request.
// Computing a digest reads every <experiment>-*.rtts file in the log
// directory and writes a .data report under reports/. Subsequent calls
// return the cached digest.
func (e *Engine) Get(experiment string) (*Digest, error) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if digest, ok := e.digests[experiment]; ok {
		return digest, nil
	}

	digest := &Digest{rtts: map[int][]float64{}}

	files, err := filepath.Glob(filepath.Join(e.opts.LogDir,
		fmt.Sprintf("%s-*.rtts", experiment)))
	if err != nil {
		return nil, errors.Wrap(err, "globbing RTT files failed")
	}
	sort.Strings(files)
	if len(files) == 0 {
		return nil, errors.Errorf("couldn't find RTT data for %s experiment", experiment)
	}

	logrus.Infof("Reading RTT data for %s experiment (%d files)", experiment, len(files))
	type fileSlowdown struct {
		file     string
		slowdown float64
	}
	avgSlowdowns := make([]fileSlowdown, 0, len(files))
	for _, file := range files {
		count, slowdown, err := ReadRttFile(file, digest.rtts, e.minRTT, e.opts.LinkMbps)
		if err != nil {
			return nil, err
		}
		digest.TotalMessages += count
		avgSlowdowns = append(avgSlowdowns, fileSlowdown{file, slowdown})

		if e.opts.DeleteRtts && !strings.Contains(file, "unloaded") {
			if err := os.Remove(file); err != nil {
				logrus.Infof("Couldn't remove %s: %v", file, err)
			}
		}
	}
	if digest.TotalMessages == 0 {
		return nil, errors.Errorf("no RTT samples for %s experiment", experiment)
	}

	// Flag nodes whose average slowdown is far from the rest; a single slow
	// node distorts the whole digest.
	perFile := make([]float64, len(avgSlowdowns))
	for i, info := range avgSlowdowns {
		perFile[i] = info.slowdown
	}
	overallAvg, err := stats.Mean(perFile)
	if err == nil {
		for _, info := range avgSlowdowns {
			if info.slowdown < 0.8*overallAvg || info.slowdown > 1.2*overallAvg {
				logrus.Infof("Outlier node slowdown in %s: %.1f vs. %.1f overall average",
					info.file, info.slowdown, overallAvg)
			}
		}
	}

	if e.opts.OldSlowdown && len(e.unloadedP50) == 0 {
		return nil, errors.New("no unloaded data: must invoke SetUnloaded first")
	}

	if err := e.fillBuckets(digest); err != nil {
		return nil, errors.Wrapf(err, "digesting %s experiment failed", experiment)
	}

	smallCount, smallLimit, smallRtts := shortestTenth(digest)
	logrus.Infof("%s has %d RPCs, avg slowdown %.2f, %d messages < %d bytes "+
		"(min %.1f us P50 %.1f us P99 %.1f us)", experiment,
		digest.TotalMessages, digest.AvgSlowdown, smallCount, smallLimit,
		smallRtts[0], smallRtts[len(smallRtts)/2], smallRtts[99*len(smallRtts)/100])

	if err := e.writeReport(experiment, digest); err != nil {
		return nil, err
	}

	e.digests[experiment] = digest
	return digest, nil
}

// fillBuckets histograms the raw samples into the digest's parallel slices
// and computes the overall average slowdown. In legacy slowdown mode every
// observed length must have an unloaded baseline; dividing by a missing
// entry would poison the digest with infinities.
func (e *Engine) fillBuckets(digest *Digest) error {
	rtts := digest.rtts
	buckets := makeBuckets(rtts, digest.TotalMessages)

	lengths := make([]int, 0, len(rtts)+1)
	for length := range rtts {
		lengths = append(lengths, length)
	}
	sort.Ints(lengths)
	// Sentinel larger than any real message, so the last bucket flushes.
	lengths = append(lengths, 999999999)

	current := buckets[0]
	nextBucket := 1
	bucketRtts := []float64{}
	bucketSlowdowns := []float64{}
	bucketCount := 0
	slowdownSum := 0.0

	for _, length := range lengths {
		if length > current.length {
			digest.Lengths = append(digest.Lengths, current.length)
			digest.CumFrac = append(digest.CumFrac, current.cumFrac)
			digest.Counts = append(digest.Counts, bucketCount)
			if len(bucketRtts) == 0 {
				bucketRtts = append(bucketRtts, 0)
				bucketSlowdowns = append(bucketSlowdowns, 0)
			}
			sort.Float64s(bucketRtts)
			digest.P50 = append(digest.P50, bucketRtts[bucketCount/2])
			digest.P99 = append(digest.P99, bucketRtts[bucketCount*99/100])
			digest.P999 = append(digest.P999, bucketRtts[bucketCount*999/1000])
			sort.Float64s(bucketSlowdowns)
			digest.Slow50 = append(digest.Slow50, bucketSlowdowns[bucketCount/2])
			digest.Slow99 = append(digest.Slow99, bucketSlowdowns[bucketCount*99/100])
			digest.Slow999 = append(digest.Slow999, bucketSlowdowns[bucketCount*999/1000])
			if nextBucket >= len(buckets) {
				break
			}
			bucketRtts = []float64{}
			bucketSlowdowns = []float64{}
			bucketCount = 0
			current = buckets[nextBucket]
			nextBucket++
		}
		var optimal float64
		if e.opts.OldSlowdown {
			var ok bool
			optimal, ok = e.unloadedP50[length]
			if !ok {
				return errors.Errorf("no unloaded RTT data for %d-byte messages", length)
			}
		} else {
			optimal = 15.0 + float64(length)*8.0/e.opts.LinkMbps
		}
		bucketCount += len(rtts[length])
		for _, rtt := range rtts[length] {
			bucketRtts = append(bucketRtts, rtt)
			slowdown := rtt / optimal
			bucketSlowdowns = append(bucketSlowdowns, slowdown)
			slowdownSum += slowdown
		}
	}

	digest.AvgSlowdown = slowdownSum / float64(digest.TotalMessages)
	return nil
}

// shortestTenth collects the RTTs for (roughly) the shortest 10% of
// messages. Returns the sample count, the largest length included, and the
// sorted samples.
func shortestTenth(digest *Digest) (int, int, []float64) {
	lengths := make([]int, 0, len(digest.rtts))
	for length := range digest.rtts {
		lengths = append(lengths, length)
	}
	sort.Ints(lengths)

	smallRtts := []float64{}
	limit := 0
	for _, length := range lengths {
		smallRtts = append(smallRtts, digest.rtts[length]...)
		limit = length
		if float64(len(smallRtts))/float64(digest.TotalMessages) > 0.1 {
			break
		}
	}
	sort.Float64s(smallRtts)
	return len(smallRtts), limit, smallRtts
}

func (e *Engine) writeReport(experiment string, digest *Digest) error {
	dir := filepath.Join(e.opts.LogDir, "reports")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrap(err, "cannot create reports directory")
	}
	f, err := os.Create(filepath.Join(dir, experiment+".data"))
	if err != nil {
		return errors.Wrapf(err, "cannot create report for %s experiment", experiment)
	}
	defer f.Close()

	fmt.Fprintf(f, "# Digested data for %s experiment, run at %s\n",
		experiment, e.opts.RunStamp)
	fmt.Fprintf(f, "# length  cum_frac  samples     p50      p99     p999   "+
		"s50    s99    s999\n")
	for i := range digest.Lengths {
		fmt.Fprintf(f, " %7d %9.6f %8d %7.1f %8.1f %8.1f %5.1f %6.1f %7.1f\n",
			digest.Lengths[i], digest.CumFrac[i], digest.Counts[i],
			digest.P50[i], digest.P99[i], digest.P999[i],
			digest.Slow50[i], digest.Slow99[i], digest.Slow999[i])
	}
	return nil
}
