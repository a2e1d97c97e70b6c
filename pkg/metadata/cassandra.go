package metadata

import (
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/pkg/errors"

	"github.com/himsangseung/cperf/pkg/conf"
)

const cassandraKeyspace = "cperf"

// CassandraConfig encodes the settings for connecting to the database.
type CassandraConfig struct {
	Address           string
	ConnectionTimeout time.Duration
	CreateKeyspace    bool
	KeyspaceName      string
	Password          string
	Username          string
}

// Cassandra keeps the Cassandra session alive and holds the run id to tag
// the metadata with.
type Cassandra struct {
	runID   string
	config  CassandraConfig
	session *gocql.Session
}

// DefaultCassandraConfig applies the Cassandra settings from the command
// line flags and environment variables.
func DefaultCassandraConfig() CassandraConfig {
	return CassandraConfig{
		Address:           conf.CassandraAddress.Value(),
		ConnectionTimeout: conf.CassandraConnectionTimeout.Value(),
		CreateKeyspace:    true,
		KeyspaceName:      cassandraKeyspace,
		Password:          conf.CassandraPassword.Value(),
		Username:          conf.CassandraUsername.Value(),
	}
}

// NewCassandra returns the Metadata helper from a run id and configuration.
func NewCassandra(runID string, config CassandraConfig) (Metadata, error) {
	metadata := &Cassandra{
		runID:  runID,
		config: config,
	}
	if err := metadata.connect(); err != nil {
		return nil, err
	}
	return metadata, nil
}

func (m *Cassandra) clusterConfig() *gocql.ClusterConfig {
	cluster := gocql.NewCluster(m.config.Address)
	cluster.Consistency = gocql.LocalOne
	cluster.SerialConsistency = gocql.LocalSerial
	cluster.ProtoVersion = 4
	cluster.ConnectTimeout = m.config.ConnectionTimeout
	return cluster
}

func (m *Cassandra) createKeyspace(clusterConfig *gocql.ClusterConfig) error {
	session, err := clusterConfig.CreateSession()
	if err != nil {
		return errors.Wrap(err, "cannot create session for creating keyspace")
	}
	defer session.Close()

	query := fmt.Sprintf("CREATE KEYSPACE IF NOT EXISTS %s WITH REPLICATION = "+
		"{'class': 'SimpleStrategy', 'replication_factor': 1};", m.config.KeyspaceName)
	return errors.Wrap(session.Query(query).Exec(), "cannot create keyspace")
}

// connect creates a session to the Cassandra cluster. Called once, from
// NewCassandra.
func (m *Cassandra) connect() error {
	cluster := m.clusterConfig()

	if m.config.CreateKeyspace {
		if err := m.createKeyspace(cluster); err != nil {
			return err
		}
	}

	cluster.Keyspace = m.config.KeyspaceName
	if m.config.Username != "" && m.config.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: m.config.Username,
			Password: m.config.Password,
		}
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return err
	}
	m.session = session

	return session.Query("CREATE TABLE IF NOT EXISTS metadata (run_id text, " +
		"kind text, time timestamp, timeuuid TIMEUUID, metadata map<text,text>, " +
		"PRIMARY KEY ((run_id), timeuuid),) WITH CLUSTERING ORDER BY (timeuuid DESC);").Exec()
}

func (m *Cassandra) storeMap(metadata map[string]string, kind string) error {
	err := m.session.Query(`INSERT INTO metadata (run_id, kind, time, timeuuid, metadata) VALUES (?, ?, ?, ?, ?)`,
		m.runID, kind, time.Now(), gocql.TimeUUID(), metadata).Exec()
	return errors.Wrapf(err, "cannot publish metadata of kind %q", kind)
}

// Record stores a key and value and associates them with the run id.
func (m *Cassandra) Record(key, value, kind string) error {
	return m.storeMap(map[string]string{key: value}, kind)
}

// RecordMap stores a map of keys and values and associates them with the
// run id.
func (m *Cassandra) RecordMap(metadata map[string]string, kind string) error {
	return m.storeMap(metadata, kind)
}

// GetByKind retrieves a single metadata kind from the database. Returns an
// error unless exactly one entry of the kind exists for the run.
func (m *Cassandra) GetByKind(kind string) (map[string]string, error) {
	var metadata map[string]string
	maps := []map[string]string{}

	iter := m.session.Query(`SELECT metadata FROM metadata WHERE run_id = ? AND kind = ? ALLOW FILTERING`,
		m.runID, kind).Iter()
	for iter.Scan(&metadata) {
		maps = append(maps, metadata)
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}

	if len(maps) != 1 {
		return nil, errors.Errorf("cannot retrieve metadata for run id %q and %q kind",
			m.runID, kind)
	}
	return maps[0], nil
}

// Clear deletes all metadata entries associated with the run id.
func (m *Cassandra) Clear() error {
	return m.session.Query(`DELETE FROM metadata WHERE run_id = ?`, m.runID).Exec()
}
