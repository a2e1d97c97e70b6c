package logscan

import (
	"regexp"
	"strconv"
)

// eventKind tags the line shapes the scanner recognizes.
type eventKind int

const (
	evNone eventKind = iota
	evFatal
	evError
	evExiting
	evWindowStart
	evWindowEnd
	evClientSample
	evServerSample
	evOutstanding
	evBackups
)

// event is one parsed log line. Only the fields relevant to the kind are
// set.
type event struct {
	kind       eventKind
	experiment string

	// Client/server sample payloads.
	kops    float64
	gbps    float64
	latency float64

	// Outstanding-RPC gauge.
	count float64

	// Backed-up send counters.
	backedUp float64
	total    float64
}

// The periodic sample lines are timestamp-prefixed and carry the experiment
// name as a correlation token.
var (
	clientSampleRegexp = regexp.MustCompile(`^[0-9.]+ (.*) clients: ([0-9.]+) Kops/sec, ` +
		`([0-9.]+) Gbps.*P50 ([0-9.]+)`)
	serverSampleRegexp = regexp.MustCompile(`^[0-9.]+ (.*) servers: ([0-9.]+) Kops/sec, ` +
		`([0-9.]+) Gbps`)
	outstandingRegexp = regexp.MustCompile(`Outstanding client RPCs for (.*) experiment: ([0-9.]+)`)
	backupsRegexp     = regexp.MustCompile(`Backed-up (.*) sends: ([0-9.]+)/([0-9.]+)`)
	windowStartRegexp = regexp.MustCompile(`Starting measurements`)
	windowEndRegexp   = regexp.MustCompile(`Ending measurements`)
)

// matchers are tried in order; the first hit wins. Parsing is kept separate
// from the scanner's state machine so each line shape can be tested on its
// own.
var matchers = []func(line string) (event, bool){
	matchWindowStart,
	matchWindowEnd,
	matchClientSample,
	matchServerSample,
	matchOutstanding,
	matchBackups,
}

func parseLine(line string) event {
	for _, match := range matchers {
		if ev, ok := match(line); ok {
			return ev
		}
	}
	return event{kind: evNone}
}

func matchWindowStart(line string) (event, bool) {
	if windowStartRegexp.MatchString(line) {
		return event{kind: evWindowStart}, true
	}
	return event{}, false
}

func matchWindowEnd(line string) (event, bool) {
	if windowEndRegexp.MatchString(line) {
		return event{kind: evWindowEnd}, true
	}
	return event{}, false
}

func matchClientSample(line string) (event, bool) {
	match := clientSampleRegexp.FindStringSubmatch(line)
	if match == nil {
		return event{}, false
	}
	return event{
		kind:       evClientSample,
		experiment: match[1],
		kops:       parseNumber(match[2]),
		gbps:       parseNumber(match[3]),
		latency:    parseNumber(match[4]),
	}, true
}

func matchServerSample(line string) (event, bool) {
	match := serverSampleRegexp.FindStringSubmatch(line)
	if match == nil {
		return event{}, false
	}
	return event{
		kind:       evServerSample,
		experiment: match[1],
		kops:       parseNumber(match[2]),
		gbps:       parseNumber(match[3]),
	}, true
}

func matchOutstanding(line string) (event, bool) {
	match := outstandingRegexp.FindStringSubmatch(line)
	if match == nil {
		return event{}, false
	}
	return event{
		kind:       evOutstanding,
		experiment: match[1],
		count:      parseNumber(match[2]),
	}, true
}

func matchBackups(line string) (event, bool) {
	match := backupsRegexp.FindStringSubmatch(line)
	if match == nil {
		return event{}, false
	}
	return event{
		kind:       evBackups,
		experiment: match[1],
		backedUp:   parseNumber(match[2]),
		total:      parseNumber(match[3]),
	}, true
}

// parseNumber is safe on anything the [0-9.]+ groups matched.
func parseNumber(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
