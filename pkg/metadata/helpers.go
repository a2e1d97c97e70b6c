package metadata

import (
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/himsangseung/cperf/pkg/conf"
)

// RecordRuntimeEnv stores the run's environment information: flag values,
// CPERF_ environment variables, host identity and platform facts.
func RecordRuntimeEnv(metadata Metadata, runStart time.Time) error {
	if err := recordFlags(metadata); err != nil {
		return err
	}
	if err := recordEnv(metadata, conf.EnvironmentPrefix); err != nil {
		return err
	}

	hostname, err := os.Hostname()
	if err != nil {
		return errors.Wrap(err, "cannot retrieve hostname")
	}
	err = metadata.RecordMap(map[string]string{
		"time": runStart.Format(time.RFC822Z),
		"host": hostname,
	}, TypeEmpty)
	if err != nil {
		return err
	}

	return metadata.RecordMap(platformFacts(), TypePlatform)
}

// recordFlags saves the whole flag-based configuration in the metadata.
func recordFlags(metadata Metadata) error {
	return metadata.RecordMap(conf.GetFlags(), TypeFlags)
}

// recordEnv saves all environment variables carrying the given prefix.
func recordEnv(metadata Metadata, prefix string) error {
	envMetadata := map[string]string{}
	for _, env := range os.Environ() {
		if strings.HasPrefix(env, prefix) {
			fields := strings.SplitN(env, "=", 2)
			envMetadata[fields[0]] = fields[1]
		}
	}
	return metadata.RecordMap(envMetadata, TypeEnviron)
}

// platformFacts describes the harness machine. The worker nodes' own
// configuration is captured separately, from their sysctl dump.
func platformFacts() map[string]string {
	facts := map[string]string{
		"os":   runtime.GOOS,
		"arch": runtime.GOARCH,
		"cpus": strconv.Itoa(runtime.NumCPU()),
	}
	if version, err := os.ReadFile("/proc/version"); err == nil {
		facts["kernel"] = strings.TrimSpace(string(version))
	}
	return facts
}
