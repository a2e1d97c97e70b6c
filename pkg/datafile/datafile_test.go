package datafile

import (
	"os"
	"path/filepath"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestReadColumns(t *testing.T) {
	Convey("While reading a columnar data file", t, func() {
		dir := t.TempDir()

		Convey("Named columns come back with typed values", func() {
			path := writeFile(t, dir, "simple.data",
				"length p50 node\n100 8.2 node1\n200 9.1 node2\n")
			columns, err := ReadColumns(path)
			So(err, ShouldBeNil)
			So(columns, ShouldContainKey, "p50")
			So(columns["length"], ShouldHaveLength, 2)
			So(columns["length"][0].Numeric, ShouldBeTrue)
			So(columns["length"][0].Number, ShouldEqual, 100.0)
			So(columns["node"][1].Numeric, ShouldBeFalse)
			So(columns["node"][1].Text, ShouldEqual, "node2")
		})

		Convey("Comments, blank lines and short rows are skipped", func() {
			path := writeFile(t, dir, "messy.data",
				"# a comment\n\nlength p50\n100 8.2\nonly-one-field\n200 9.1\n")
			columns, err := ReadColumns(path)
			So(err, ShouldBeNil)
			So(columns["length"], ShouldHaveLength, 2)
		})

		Convey("A missing file is an error", func() {
			_, err := ReadColumns(filepath.Join(dir, "nope.data"))
			So(err, ShouldNotBeNil)
		})
	})
}

func TestColumnFromFile(t *testing.T) {
	Convey("While reading digest report columns", t, func() {
		dir := t.TempDir()
		content := "# Digested data\n# length cum_frac p50\n 100 0.5 8.2\n 200 1.0 9.1\n"

		Convey("The header comes from the last comment before the data", func() {
			path := writeFile(t, dir, "report.data", content)
			values, err := ColumnFromFile(path, "p50")
			So(err, ShouldBeNil)
			So(values, ShouldResemble, []float64{8.2, 9.1})
		})

		Convey("Reads are cached per path", func() {
			path := writeFile(t, dir, "cached.data", content)
			first, err := ColumnFromFile(path, "cum_frac")
			So(err, ShouldBeNil)

			// Rewriting the file must not change the answer.
			writeFile(t, dir, "cached.data", "# length\n 1\n")
			second, err := ColumnFromFile(path, "cum_frac")
			So(err, ShouldBeNil)
			So(second, ShouldResemble, first)
		})

		Convey("An unknown column is an error", func() {
			path := writeFile(t, dir, "cols.data", content)
			_, err := ColumnFromFile(path, "p999")
			So(err, ShouldNotBeNil)
		})
	})
}
