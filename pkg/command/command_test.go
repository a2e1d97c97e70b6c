package command

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestCommandLines(t *testing.T) {
	Convey("While serializing worker commands", t, func() {
		Convey("A Homa client line carries its options in wire order", func() {
			cmd := Client{
				Ports:         3,
				PortReceivers: 3,
				ServerPorts:   3,
				Workload:      "w4",
				Servers:       []int{0, 1, 2},
				Gbps:          14,
				ClientMax:     200,
				Protocol:      "homa",
				NodeID:        1,
				Experiment:    "homa_w4",
			}
			So(cmd.Line(), ShouldEqual, "client --ports 3 --port-receivers 3 "+
				"--server-ports 3 --workload w4 --servers 0,1,2 --gbps 14.000 "+
				"--client-max 200 --protocol homa --id 1 --exp homa_w4")
		})

		Convey("An unloaded client appends the unloaded option", func() {
			cmd := Client{
				Ports:         1,
				PortReceivers: 1,
				ServerPorts:   1,
				Workload:      "w2",
				Servers:       []int{0},
				ClientMax:     1,
				Protocol:      "homa",
				NodeID:        1,
				Experiment:    "unloaded_w2",
				Unloaded:      500,
			}
			So(cmd.Line(), ShouldEndWith, " --unloaded 500")
		})

		Convey("A TCP client puts no-trunc between gbps and client-max", func() {
			cmd := Client{
				Ports:         4,
				PortReceivers: 1,
				ServerPorts:   8,
				Workload:      "w3",
				Servers:       []int{0},
				Gbps:          3.5,
				ClientMax:     200,
				Protocol:      "tcp",
				NodeID:        2,
				Experiment:    "tcp_w3",
				NoTrunc:       true,
			}
			So(cmd.Line(), ShouldContainSubstring, "--gbps 3.500 --no-trunc --client-max 200")
		})

		Convey("IPv6 goes last", func() {
			cmd := Client{Servers: []int{0}, Protocol: "homa", Experiment: "x", IPv6: true}
			So(cmd.Line(), ShouldEndWith, " --ipv6")

			srv := Server{Ports: 3, PortThreads: 3, Protocol: "homa", Experiment: "x", IPv6: true}
			So(srv.Line(), ShouldEqual,
				"server --ports 3 --port-threads 3 --protocol homa --exp x --ipv6")
		})

		Convey("Measurement markers name the experiment when given one", func() {
			So(StartMeasurements("homa_w5").Line(), ShouldEqual,
				"log Starting measurements for homa_w5 experiment")
			So(EndMeasurements("").Line(), ShouldEqual, "log Ending measurements")
		})

		Convey("Dump and stop commands", func() {
			So(DumpTimes{File: "/dev/null", Experiment: "homa_w1"}.Line(),
				ShouldEqual, "dump_times /dev/null homa_w1")
			So(DumpTimes{File: "rtts"}.Line(), ShouldEqual, "dump_times rtts")
			So(Stop{Target: Senders}.Line(), ShouldEqual, "stop senders")
			So(Exit{}.Line(), ShouldEqual, "exit")
		})

		Convey("Log configuration selects file and level", func() {
			So(LogConfig{File: "node.log", Level: "verbose"}.Line(), ShouldEqual,
				"log --file node.log --level verbose")
		})
	})
}
