package experiment

import (
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func testExperiment() *Experiment {
	return &Experiment{
		Name:     "homa_w4",
		Protocol: ProtocolHoma,
		Clients:  []int{0, 1, 2},
		Servers:  []int{0, 1, 2},
		Gbps:     20,
		Seconds:  30 * time.Second,
		Workload: "w4",

		ClientMax:     200,
		ClientPorts:   3,
		PortReceivers: 3,
		ServerPorts:   3,
		PortThreads:   3,

		TCPClientPorts:   4,
		TCPPortReceivers: 1,
		TCPServerPorts:   8,
		TCPPortThreads:   1,
	}
}

func TestCommandBuilding(t *testing.T) {
	Convey("While building worker commands for an experiment", t, func() {
		exp := testExperiment()

		Convey("Homa roles use the Homa port counts", func() {
			So(exp.ServerCommand().Line(), ShouldEqual,
				"server --ports 3 --port-threads 3 --protocol homa --exp homa_w4")
			So(exp.ClientCommand(1).Line(), ShouldContainSubstring,
				"--ports 3 --port-receivers 3 --server-ports 3")
			So(exp.ClientCommand(1).Line(), ShouldContainSubstring, "--id 1")
		})

		Convey("TCP roles switch to the TCP port counts", func() {
			exp.Protocol = ProtocolTCP
			exp.Name = "tcp_w4"
			So(exp.ServerCommand().Line(), ShouldEqual,
				"server --ports 8 --port-threads 1 --protocol tcp --exp tcp_w4")
			So(exp.ClientCommand(0).Line(), ShouldContainSubstring,
				"--ports 4 --port-receivers 1 --server-ports 8")
		})

		Convey("TCP clients fall back to the shared client-max when unset", func() {
			exp.Protocol = ProtocolTCP
			So(exp.ClientCommand(0).ClientMax, ShouldEqual, 200)

			exp.TCPClientMax = 50
			So(exp.ClientCommand(0).ClientMax, ShouldEqual, 50)
		})

		Convey("The unloaded option only reaches Homa clients", func() {
			exp.Unloaded = 500
			So(exp.ClientCommand(0).Unloaded, ShouldEqual, 500)

			exp.Protocol = ProtocolTCP
			So(exp.ClientCommand(0).Unloaded, ShouldEqual, 0)
		})
	})
}

func TestSortedUnion(t *testing.T) {
	Convey("While merging node sets", t, func() {
		So(sortedUnion([]int{3, 1}, []int{2, 1}), ShouldResemble, []int{1, 2, 3})
		So(sortedUnion(nil, nil), ShouldBeEmpty)
		So(sortedUnion([]int{5, 5}, nil), ShouldResemble, []int{5})
	})
}
