package logscan

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	. "github.com/smartystreets/goconvey/convey"
)

func writeLog(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

const sampleLog = `1000.001 Starting measurements for homa_w3 experiment
1000.100 homa_w3 clients: 100.0 Kops/sec, 10.0 Gbps, RTT (us) P50 60.0
1001.100 homa_w3 clients: 200.0 Kops/sec, 20.0 Gbps, RTT (us) P50 80.0
1001.200 homa_w3 servers: 150.0 Kops/sec, 15.0 Gbps
Outstanding client RPCs for homa_w3 experiment: 42
Backed-up homa_w3 sends: 5/100
1002.000 Ending measurements for homa_w3 experiment
1003.000 homa_w3 clients: 999.0 Kops/sec, 99.0 Gbps, RTT (us) P50 1.0
cp_node exiting
`

func TestScanLog(t *testing.T) {
	Convey("While scanning one node log", t, func() {
		dir := t.TempDir()

		Convey("Samples are attributed inside the measurement window only", func() {
			path := writeLog(t, dir, "node1.log", sampleLog)
			experiments := Experiments{}
			So(ScanLog(path, "node1", experiments), ShouldBeNil)

			series := experiments["homa_w3"]["node1"]
			So(series[ClientKops], ShouldResemble, []float64{100.0, 200.0})
			So(series[ClientGbps], ShouldResemble, []float64{10.0, 20.0})
			So(series[ClientLatency], ShouldResemble, []float64{60.0, 80.0})
			So(series[ServerKops], ShouldResemble, []float64{150.0})
			So(series[OutstandingRPCs], ShouldResemble, []float64{42.0})
			So(series[Backups], ShouldResemble, []float64{0.05})
		})

		Convey("Samples before the window opens are discarded", func() {
			path := writeLog(t, dir, "node2.log",
				"999.0 homa_w3 clients: 1.0 Kops/sec, 1.0 Gbps, RTT (us) P50 5.0\n"+
					"cp_node exiting\n")
			experiments := Experiments{}
			So(ScanLog(path, "node2", experiments), ShouldBeNil)
			So(experiments, ShouldBeEmpty)
		})

		Convey("Zero-denominator backup intervals are skipped", func() {
			path := writeLog(t, dir, "node3.log",
				"1.0 Starting measurements for x experiment\n"+
					"Backed-up x sends: 0/0\n"+
					"2.0 Ending measurements for x experiment\ncp_node exiting\n")
			experiments := Experiments{}
			So(ScanLog(path, "node3", experiments), ShouldBeNil)
			So(experiments["x"]["node3"][Backups], ShouldBeEmpty)
		})

		Convey("Repeated RPC timeouts are surfaced once, then counted at the end", func() {
			hook := test.NewGlobal()
			defer hook.Reset()

			path := writeLog(t, dir, "node4.log",
				"ERROR: Homa RPC timed out for node5\n"+
					"ERROR: Homa RPC timed out for node6\n"+
					"ERROR: Homa RPC timed out for node7\n"+
					"cp_node exiting\n")
			So(ScanLog(path, "node4", Experiments{}), ShouldBeNil)

			surfaced := 0
			for _, entry := range hook.AllEntries() {
				if strings.Contains(entry.Message, "Homa RPC timed out") {
					surfaced++
				}
			}
			So(surfaced, ShouldEqual, 1)
			So(hook.LastEntry().Message, ShouldContainSubstring,
				"2 additional Homa RPC timeouts")
		})

		Convey("Other errors are surfaced every time", func() {
			hook := test.NewGlobal()
			defer hook.Reset()

			path := writeLog(t, dir, "node6.log",
				"ERROR: can't read message\nERROR: can't read message\n"+
					"cp_node exiting\n")
			So(ScanLog(path, "node6", Experiments{}), ShouldBeNil)

			surfaced := 0
			for _, entry := range hook.AllEntries() {
				if strings.Contains(entry.Message, "can't read message") {
					surfaced++
				}
			}
			So(surfaced, ShouldEqual, 2)
		})

		Convey("A log without an exit line is flagged as a suspected crash", func() {
			hook := test.NewGlobal()
			defer hook.Reset()

			path := writeLog(t, dir, "node5.log",
				"1.0 Starting measurements for x experiment\n")
			So(ScanLog(path, "node5", Experiments{}), ShouldBeNil)

			So(hook.LastEntry().Message, ShouldContainSubstring,
				"node5 appears to have crashed")
		})

		Convey("A missing file is an error", func() {
			So(ScanLog(filepath.Join(dir, "gone.log"), "node9", Experiments{}),
				ShouldNotBeNil)
		})
	})
}

func TestScanAll(t *testing.T) {
	Convey("While scanning a whole log directory", t, func() {
		dir := t.TempDir()
		writeLog(t, dir, "node1.log", sampleLog)
		writeLog(t, dir, "node2.log",
			"1.0 Starting measurements for homa_w3 experiment\n"+
				"1.5 homa_w3 clients: 50.0 Kops/sec, 5.0 Gbps, RTT (us) P50 70.0\n"+
				"2.0 Ending measurements for homa_w3 experiment\ncp_node exiting\n")
		// Unrelated files are ignored.
		writeLog(t, dir, "homa_prio-1.log", "not a node log")

		experiments, err := ScanAll(dir)
		So(err, ShouldBeNil)
		So(experiments, ShouldContainKey, "homa_w3")
		So(experiments["homa_w3"], ShouldContainKey, "node1")
		So(experiments["homa_w3"], ShouldContainKey, "node2")
	})
}

func TestAggregate(t *testing.T) {
	Convey("While aggregating scanned series", t, func() {
		Convey("Per-role averages are per node, not per sample", func() {
			experiments := Experiments{
				"homa_w3": NodeData{
					// node1 averages 20 Gbps over three samples, node2 reports a
					// single 5 Gbps sample. The node-first mean is 12.5; a flat
					// mean over raw samples would be 16.25.
					"node1": Series{
						ClientGbps: []float64{10.0, 20.0, 30.0},
						ClientKops: []float64{100.0, 200.0, 300.0},
					},
					"node2": Series{
						ClientGbps: []float64{5.0},
						ClientKops: []float64{50.0},
					},
				},
			}
			summary := Aggregate(experiments)["homa_w3"]
			So(summary.Client.Nodes, ShouldEqual, 2)
			So(summary.Client.AvgGbps, ShouldEqual, 12.5)
			So(summary.Client.AvgKops, ShouldEqual, 125.0)
			So(summary.Server.Nodes, ShouldEqual, 0)
			So(summary.Overall.Nodes, ShouldEqual, 2)
		})

		Convey("Unloaded experiments default silent nodes to zero", func() {
			experiments := Experiments{
				"unloaded_w2": NodeData{
					"node1": Series{},
				},
			}
			summary := Aggregate(experiments)["unloaded_w2"]
			So(summary.Client.Nodes, ShouldEqual, 1)
			So(summary.Client.AvgGbps, ShouldEqual, 0.0)
		})

		Convey("Missing aggregate keys are reported", func() {
			experiments := Experiments{
				"tcp_w1": NodeData{"node1": Series{}},
			}
			summary := Aggregate(experiments)["tcp_w1"]
			So(summary.Missing, ShouldContain, "client_gbps")
			So(summary.Missing, ShouldContain, "server_kops")
		})

		Convey("Backup fractions average across all nodes", func() {
			experiments := Experiments{
				"homa_w4": NodeData{
					"node1": Series{
						ClientGbps: []float64{1.0},
						Backups:    []float64{0.1, 0.3},
					},
					"node2": Series{
						ClientGbps: []float64{1.0},
						Backups:    []float64{0.2},
					},
				},
			}
			summary := Aggregate(experiments)["homa_w4"]
			So(summary.BackupSamples, ShouldEqual, 3)
			So(summary.BackupFraction, ShouldAlmostEqual, 0.2, 1e-9)
		})
	})
}
