package metadata

import (
	"fmt"
	"strings"
	"time"

	"github.com/influxdata/influxdb/client/v2"
	"github.com/pkg/errors"

	"github.com/himsangseung/cperf/pkg/conf"
)

const influxMetadata = "metadata"

// InfluxDBConfig holds configuration for InfluxDB.
type InfluxDBConfig struct {
	httpConfig     client.HTTPConfig
	dbName         string
	createDatabase bool
}

// InfluxDB keeps the InfluxDB session alive and holds the run id to tag the
// metadata with.
type InfluxDB struct {
	runID   string
	session client.Client
	config  InfluxDBConfig
}

// DefaultInfluxDBConfig applies the InfluxDB settings from the command line
// flags and environment variables.
func DefaultInfluxDBConfig() InfluxDBConfig {
	return InfluxDBConfig{
		dbName:         conf.InfluxDBName.Value(),
		createDatabase: true,
		httpConfig: client.HTTPConfig{
			Addr: fmt.Sprintf("http://%s:%d", conf.InfluxDBAddress.Value(),
				conf.InfluxDBPort.Value()),
			Password:           conf.InfluxDBPassword.Value(),
			Username:           conf.InfluxDBUsername.Value(),
			InsecureSkipVerify: conf.InfluxDBInsecureSkipVerify.Value(),
		},
	}
}

// NewInfluxDB returns the Metadata helper from a run id and configuration.
func NewInfluxDB(runID string, config InfluxDBConfig) (Metadata, error) {
	metadata := &InfluxDB{
		runID:  runID,
		config: config,
	}

	session, err := client.NewHTTPClient(config.httpConfig)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot create influx client for run %s", runID)
	}
	metadata.session = session

	if config.createDatabase {
		response, err := session.Query(client.Query{
			Command: fmt.Sprintf("CREATE DATABASE %s", config.dbName)})
		if err != nil {
			return nil, errors.Wrapf(err, "cannot create influx database for run %s", runID)
		}
		if response.Error() != nil {
			return nil, errors.Wrapf(response.Error(),
				"response contains error for run %s", runID)
		}
	}
	return metadata, nil
}

// storeMap writes metadata to the database with the run id and kind attached
// as tags.
func (m *InfluxDB) storeMap(metadata map[string]string, kind string) error {
	batchPoints, err := client.NewBatchPoints(client.BatchPointsConfig{
		Database: m.config.dbName})
	if err != nil {
		return errors.Wrapf(err,
			"creation of batch points for InfluxDB failed for metadata kind %q", kind)
	}

	tags := map[string]string{"kind": kind, "run_id": m.runID}
	fields := make(map[string]interface{})
	for key := range metadata {
		fields[key] = metadata[key]
	}
	point, err := client.NewPoint(influxMetadata, tags, fields, time.Now())
	if err != nil {
		return errors.Wrapf(err, "cannot create new point, kind %q", kind)
	}
	batchPoints.AddPoint(point)

	return errors.Wrapf(m.session.Write(batchPoints),
		"cannot publish metadata of kind %q", kind)
}

// Record stores a key and value and associates them with the run id.
func (m *InfluxDB) Record(key, value, kind string) error {
	return m.storeMap(map[string]string{key: value}, kind)
}

// RecordMap stores a map of keys and values and associates them with the
// run id.
func (m *InfluxDB) RecordMap(metadata map[string]string, kind string) error {
	return m.storeMap(metadata, kind)
}

// GetByKind retrieves a single metadata kind from the database. If
// duplicates are found, the last one wins.
func (m *InfluxDB) GetByKind(kind string) (map[string]string, error) {
	metadata := make(map[string]string)
	cmd := fmt.Sprintf("SELECT last(*) FROM %s WHERE run_id='%s' AND kind='%s' "+
		"GROUP BY run_id,kind", influxMetadata, m.runID, kind)

	response, err := m.session.Query(client.Query{
		Command:  cmd,
		Database: m.config.dbName,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "influxdb query failed for run %s", m.runID)
	}
	if response.Error() != nil {
		return nil, errors.Wrapf(response.Error(),
			"influxdb response contained error for run %s", m.runID)
	}

	for _, result := range response.Results {
		for _, row := range result.Series {
			for _, value := range row.Values {
				for idx, cell := range value {
					// Index 0 is the timestamp; results may also be sparse.
					if cell == nil || idx == 0 {
						continue
					}
					column := strings.Replace(row.Columns[idx], "last_", "", 1)
					metadata[column] = cell.(string)
				}
			}
		}
	}
	return metadata, nil
}

// Clear deletes all metadata entries associated with the run id.
func (m *InfluxDB) Clear() error {
	cmd := fmt.Sprintf("DROP SERIES FROM %s WHERE run_id ='%s'",
		influxMetadata, m.runID)

	response, err := m.session.Query(client.Query{
		Command:  cmd,
		Database: m.config.dbName,
	})
	if err != nil {
		return errors.Wrapf(err, "influxdb query failed for run %s", m.runID)
	}
	if response.Error() != nil {
		return errors.Wrapf(response.Error(),
			"influxdb response contained error for run %s", m.runID)
	}
	return nil
}
