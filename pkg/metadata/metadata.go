// Package metadata records benchmark run metadata (flags, environment,
// platform facts) in an external database, so results archived from the log
// directory can later be traced back to the exact configuration that
// produced them.
package metadata

import (
	"github.com/pkg/errors"

	"github.com/himsangseung/cperf/pkg/conf"
)

// Predefined kinds of metadata. A kind groups entries by their common
// characteristics; each run may also define its own kinds.
const (
	TypeEmpty    = ""
	TypeFlags    = "flags"
	TypeEnviron  = "environ"
	TypePlatform = "platform"
)

// Metadata is the interface a metadata storage backend must support.
type Metadata interface {
	// Record stores a key and value and associates them with the run id.
	Record(key string, value string, kind string) error
	// RecordMap stores a map of keys and values and associates them with the
	// run id.
	RecordMap(metadata map[string]string, kind string) error
	// GetByKind retrieves a single metadata kind from the database.
	GetByKind(kind string) (map[string]string, error)
	// Clear deletes all metadata entries associated with the run id.
	Clear() error
}

// NewDefault initializes the metadata backend selected by configuration.
// The "none" backend discards everything.
func NewDefault(runID string) (Metadata, error) {
	switch conf.MetadataBackend.Value() {
	case "cassandra":
		return NewCassandra(runID, DefaultCassandraConfig())
	case "influxdb":
		return NewInfluxDB(runID, DefaultInfluxDBConfig())
	case "none":
		return Discard{}, nil
	}
	return nil, errors.Errorf("unsupported database for metadata: %s",
		conf.MetadataBackend.Value())
}

// Discard is a Metadata backend that stores nothing. Used when no database
// is available; the run still produces its full log directory.
type Discard struct{}

// Record implements Metadata.
func (Discard) Record(key, value, kind string) error { return nil }

// RecordMap implements Metadata.
func (Discard) RecordMap(metadata map[string]string, kind string) error { return nil }

// GetByKind implements Metadata.
func (Discard) GetByKind(kind string) (map[string]string, error) {
	return nil, errors.New("no metadata backend configured")
}

// Clear implements Metadata.
func (Discard) Clear() error { return nil }
