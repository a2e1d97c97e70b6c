// Package datafile reads the whitespace-separated tabular files produced by
// benchmark runs (digest reports, metrics summaries) and formats scaled
// human-readable numbers.
package datafile

import (
	"bufio"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Value is one cell of a data file: a float where the text parses as one,
// otherwise the raw text.
type Value struct {
	Number  float64
	Text    string
	Numeric bool
}

// Float wraps a float64 in a Value.
func Float(f float64) Value {
	return Value{Number: f, Numeric: true}
}

// Text wraps a string in a Value.
func Text(s string) Value {
	return Value{Text: s}
}

// ReadColumns reads a data file and returns a map from column name to the
// values in that column.
//
// The file consists of an initial line containing space-separated column
// names, followed by any number of lines of data. Blank lines and lines
// starting with "#" are ignored. Rows whose arity does not match the header
// are logged and skipped.
func ReadColumns(path string) (map[string][]Value, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot open data file %s", path)
	}
	defer f.Close()

	columns := map[string][]Value{}
	var names []string

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		fields := strings.Fields(line)
		if len(fields) == 0 || fields[0] == "#" || strings.HasPrefix(fields[0], "#") {
			continue
		}
		if names == nil {
			names = fields
			for _, n := range names {
				columns[n] = []Value{}
			}
			continue
		}
		if len(fields) != len(names) {
			logrus.Infof("Bad line in %s: %s (expected %d columns, got %d)",
				path, strings.TrimRight(line, "\n"), len(names), len(fields))
			continue
		}
		for i, name := range names {
			if number, err := strconv.ParseFloat(fields[i], 64); err == nil {
				columns[name] = append(columns[name], Float(number))
			} else {
				columns[name] = append(columns[name], Text(fields[i]))
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "reading data file %s failed", path)
	}
	return columns, nil
}

var (
	columnCacheMutex sync.Mutex
	columnCache      = map[string]map[string][]float64{}
)

// ColumnFromFile returns one column of numeric data from a file whose column
// names appear in the last comment line before the data. Files are read once
// per process; subsequent calls are served from a cache.
func ColumnFromFile(path string, column string) ([]float64, error) {
	columnCacheMutex.Lock()
	defer columnCacheMutex.Unlock()

	if data, ok := columnCache[path]; ok {
		return columnData(data, path, column)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot open data file %s", path)
	}
	defer f.Close()

	data := map[string][]float64{}
	lastComment := ""
	var columns []string

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if fields[0] == "#" {
			lastComment = line
			continue
		}
		if len(columns) == 0 {
			// The column names come from the comment line just above the data.
			if lastComment == "" {
				return nil, errors.Errorf("no column headers in data file '%s'", path)
			}
			columns = strings.Fields(lastComment)[1:]
			for _, c := range columns {
				data[c] = []float64{}
			}
		}
		for i := range columns {
			if i >= len(fields) {
				break
			}
			number, err := strconv.ParseFloat(fields[i], 64)
			if err != nil {
				return nil, errors.Wrapf(err, "bad value %q in data file %s", fields[i], path)
			}
			data[columns[i]] = append(data[columns[i]], number)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "reading data file %s failed", path)
	}

	columnCache[path] = data
	return columnData(data, path, column)
}

func columnData(data map[string][]float64, path, column string) ([]float64, error) {
	values, ok := data[column]
	if !ok {
		return nil, errors.Errorf("no column %q in data file %s", column, path)
	}
	return values, nil
}
