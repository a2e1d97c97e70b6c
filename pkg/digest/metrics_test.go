package digest

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestScanMetrics(t *testing.T) {
	Convey("While scanning metrics files", t, func() {
		dir := t.TempDir()

		Convey("No files means nothing to do", func() {
			So(ScanMetrics(dir, "homa_w1"), ShouldBeNil)
		})

		Convey("Counter rates and core utilization are parsed", func() {
			content := "Total Core Utilization    3.5\n" +
				"packets_sent_RESEND        1234  ( 1.2 K/s)\n" +
				"packets_rcvd_RESEND           0  ( 0.0 /s)\n"
			writeRtts(t, dir, "homa_w1-1.metrics", content)
			writeRtts(t, dir, "homa_w1-2.metrics", content)

			metrics := map[string]map[string]float64{
				"cores":               {},
				"packets_sent_RESEND": {},
				"packets_rcvd_RESEND": {},
			}
			path := dir + "/homa_w1-1.metrics"
			So(scanMetricsFile(path, metrics), ShouldBeNil)
			So(metrics["cores"][path], ShouldEqual, 3.5)
			So(metrics["packets_sent_RESEND"][path], ShouldEqual, 1200.0)
			So(metrics["packets_rcvd_RESEND"][path], ShouldEqual, 0.0)

			Convey("and the full scan completes", func() {
				So(ScanMetrics(dir, "homa_w1"), ShouldBeNil)
			})
		})
	})
}
