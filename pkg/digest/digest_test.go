package digest

import (
	"os"
	"path/filepath"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func writeRtts(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestReadRttFile(t *testing.T) {
	Convey("While reading a dump_times file", t, func() {
		dir := t.TempDir()

		Convey("Samples accumulate per message length", func() {
			path := writeRtts(t, dir, "homa_w3-1.rtts",
				"# length usec\n100 50.0\n100 60.0\n200 70.0\n")
			rtts := map[int][]float64{}
			count, slowdown, err := ReadRttFile(path, rtts, 0, 0)
			So(err, ShouldBeNil)
			So(count, ShouldEqual, 3)
			So(slowdown, ShouldEqual, 0.0)
			So(rtts[100], ShouldResemble, []float64{50.0, 60.0})
			So(rtts[200], ShouldResemble, []float64{70.0})
		})

		Convey("With a reference RTT the per-file slowdown comes back", func() {
			path := writeRtts(t, dir, "slow.rtts", "1000 30.0\n")
			rtts := map[int][]float64{}
			_, slowdown, err := ReadRttFile(path, rtts, 15, 1000)
			So(err, ShouldBeNil)
			// reference = 15 + 1000*8/1000 = 23 usec
			So(slowdown, ShouldAlmostEqual, 30.0/23.0, 1e-9)
		})

		Convey("Malformed lines are skipped, the rest are kept", func() {
			path := writeRtts(t, dir, "bad.rtts", "abc\n100 50.0\nxyz 1.0\n")
			rtts := map[int][]float64{}
			count, _, err := ReadRttFile(path, rtts, 0, 0)
			So(err, ShouldBeNil)
			So(count, ShouldEqual, 1)
		})

		Convey("An empty file yields zero samples", func() {
			path := writeRtts(t, dir, "empty.rtts", "# nothing\n")
			count, slowdown, err := ReadRttFile(path, map[int][]float64{}, 15, 1000)
			So(err, ShouldBeNil)
			So(count, ShouldEqual, 0)
			So(slowdown, ShouldEqual, 0.0)
		})
	})
}

func TestEngineGet(t *testing.T) {
	Convey("With RTT data for one experiment", t, func() {
		dir := t.TempDir()
		writeRtts(t, dir, "homa_w3-1.rtts", "100 50.0\n100 60.0\n200 70.0\n")
		engine := NewEngine(Options{LogDir: dir, LinkMbps: 1000})

		Convey("The digest buckets by observed length with rank-based percentiles", func() {
			d, err := engine.Get("homa_w3")
			So(err, ShouldBeNil)
			So(d.TotalMessages, ShouldEqual, 3)
			So(d.Lengths, ShouldResemble, []int{100, 200})
			So(d.Counts, ShouldResemble, []int{2, 1})

			// Bucket for length 100 holds [50, 60]: rank count/2 = 1 picks 60.
			So(d.P50[0], ShouldEqual, 60.0)
			So(d.P99[0], ShouldEqual, 60.0)
			So(d.P50[1], ShouldEqual, 70.0)

			Convey("cum_frac is monotone and ends at 1.0", func() {
				last := 0.0
				for _, frac := range d.CumFrac {
					So(frac, ShouldBeGreaterThanOrEqualTo, last)
					last = frac
				}
				So(last, ShouldEqual, 1.0)
			})

			Convey("percentiles are ordered within each bucket", func() {
				for i := range d.Lengths {
					So(d.P50[i], ShouldBeLessThanOrEqualTo, d.P99[i])
					So(d.P99[i], ShouldBeLessThanOrEqualTo, d.P999[i])
				}
			})

			Convey("the average slowdown uses the analytic reference", func() {
				// references: 15 + 100*8/1000 = 15.8, 15 + 200*8/1000 = 16.6
				expected := (50.0/15.8 + 60.0/15.8 + 70.0/16.6) / 3.0
				So(d.AvgSlowdown, ShouldAlmostEqual, expected, 1e-9)
			})

			Convey("a report file appears under reports/", func() {
				_, err := os.Stat(filepath.Join(dir, "reports", "homa_w3.data"))
				So(err, ShouldBeNil)
			})
		})

		Convey("Digests are computed once and served from cache", func() {
			first, err := engine.Get("homa_w3")
			So(err, ShouldBeNil)

			// Remove the input; a second Get must not re-read it.
			So(os.Remove(filepath.Join(dir, "homa_w3-1.rtts")), ShouldBeNil)
			second, err := engine.Get("homa_w3")
			So(err, ShouldBeNil)
			So(second, ShouldEqual, first)
		})

		Convey("Missing experiments are an error", func() {
			_, err := engine.Get("no_such_experiment")
			So(err, ShouldNotBeNil)
		})
	})
}

func TestEngineUnloaded(t *testing.T) {
	Convey("With an unloaded baseline", t, func() {
		dir := t.TempDir()
		writeRtts(t, dir, "unloaded_w3-1.rtts", "100 10.0\n100 12.0\n100 14.0\n200 20.0\n")

		Convey("SetUnloaded records per-length medians and the global minimum", func() {
			engine := NewEngine(Options{LogDir: dir, LinkMbps: 1000})
			So(engine.SetUnloaded("unloaded_w3"), ShouldBeNil)
			So(engine.unloadedP50[100], ShouldEqual, 12.0)
			So(engine.unloadedP50[200], ShouldEqual, 20.0)
			So(engine.minRTT, ShouldEqual, 10.0)
		})

		Convey("Legacy slowdowns divide by the unloaded P50 of the same length", func() {
			writeRtts(t, dir, "homa_w3-1.rtts", "100 24.0\n200 40.0\n")
			engine := NewEngine(Options{LogDir: dir, LinkMbps: 1000, OldSlowdown: true})
			So(engine.SetUnloaded("unloaded_w3"), ShouldBeNil)

			d, err := engine.Get("homa_w3")
			So(err, ShouldBeNil)
			So(d.Slow50[0], ShouldAlmostEqual, 2.0, 1e-9)
			So(d.Slow50[1], ShouldAlmostEqual, 2.0, 1e-9)
		})

		Convey("A loaded length absent from the baseline is an error", func() {
			writeRtts(t, dir, "homa_w3-1.rtts", "100 24.0\n300 40.0\n")
			engine := NewEngine(Options{LogDir: dir, LinkMbps: 1000, OldSlowdown: true})
			So(engine.SetUnloaded("unloaded_w3"), ShouldBeNil)

			d, err := engine.Get("homa_w3")
			So(d, ShouldBeNil)
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "homa_w3")
			So(err.Error(), ShouldContainSubstring, "300")

			// No report is written and the failure is not cached.
			_, statErr := os.Stat(filepath.Join(dir, "reports", "homa_w3.data"))
			So(os.IsNotExist(statErr), ShouldBeTrue)
			_, ok := engine.digests["homa_w3"]
			So(ok, ShouldBeFalse)
		})

		Convey("Legacy mode without a baseline is refused", func() {
			writeRtts(t, dir, "homa_w3-1.rtts", "100 24.0\n")
			engine := NewEngine(Options{LogDir: dir, LinkMbps: 1000, OldSlowdown: true})
			_, err := engine.Get("homa_w3")
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "SetUnloaded")
		})

		Convey("SetUnloaded fails when the baseline files are absent", func() {
			engine := NewEngine(Options{LogDir: dir, LinkMbps: 1000})
			So(engine.SetUnloaded("unloaded_w9"), ShouldNotBeNil)
		})
	})
}

func TestDeleteRtts(t *testing.T) {
	Convey("With the delete option set", t, func() {
		dir := t.TempDir()
		writeRtts(t, dir, "homa_w1-1.rtts", "100 20.0\n")
		writeRtts(t, dir, "unloaded_w1-1.rtts", "100 10.0\n")
		engine := NewEngine(Options{LogDir: dir, LinkMbps: 1000, DeleteRtts: true})

		Convey("Loaded RTT files are removed after digesting, baselines survive", func() {
			_, err := engine.Get("homa_w1")
			So(err, ShouldBeNil)
			_, err = os.Stat(filepath.Join(dir, "homa_w1-1.rtts"))
			So(os.IsNotExist(err), ShouldBeTrue)

			_, err = engine.Get("unloaded_w1")
			So(err, ShouldBeNil)
			_, err = os.Stat(filepath.Join(dir, "unloaded_w1-1.rtts"))
			So(err, ShouldBeNil)
		})
	})
}
