package fleet

import (
	"fmt"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/himsangseung/cperf/pkg/command"
	"github.com/himsangseung/cperf/pkg/worker"
)

// fakeHandle is an in-memory worker channel. Unless acking is disabled it
// responds to every Send by queueing the completion marker for the next
// Poll, like a healthy cp_node.
type fakeHandle struct {
	id      int
	sent    []string
	pending []byte
	ack     bool
	closed  bool
	sendErr error
}

func (h *fakeHandle) Send(line string) error {
	if h.sendErr != nil {
		return h.sendErr
	}
	h.sent = append(h.sent, line)
	if h.ack {
		h.pending = append(h.pending, []byte(command.Marker)...)
	}
	return nil
}

func (h *fakeHandle) Poll() []byte {
	data := h.pending
	h.pending = nil
	return data
}

func (h *fakeHandle) Close() error {
	h.closed = true
	return nil
}

func (h *fakeHandle) Address() string {
	return fmt.Sprintf("node%d", h.id)
}

type fakeLauncher struct {
	handles  map[int]*fakeHandle
	launched []int
}

func newFakeLauncher() *fakeLauncher {
	return &fakeLauncher{handles: map[int]*fakeHandle{}}
}

func (l *fakeLauncher) Launch(nodeID int) (worker.Handle, error) {
	h := &fakeHandle{id: nodeID, ack: true}
	// Startup prompt.
	h.pending = []byte(command.Marker)
	l.handles[nodeID] = h
	l.launched = append(l.launched, nodeID)
	return h, nil
}

// withFakeClock replaces the fleet's time sources so awaits run instantly;
// every sleep advances the fake clock by the poll interval.
func withFakeClock(f *Fleet) {
	now := time.Unix(0, 0)
	f.now = func() time.Time { return now }
	f.sleep = func(d time.Duration) { now = now.Add(d) }
}

func TestFleet(t *testing.T) {
	Convey("With a fleet over fake worker channels", t, func() {
		launcher := newFakeLauncher()
		f := New(launcher)
		withFakeClock(f)

		Convey("EnsureStarted launches missing nodes and configures their logs", func() {
			started, err := f.EnsureStarted([]int{1, 2}, StartConfig{})
			So(err, ShouldBeNil)
			So(started, ShouldResemble, []int{1, 2})
			So(f.Running(), ShouldResemble, []int{1, 2})
			So(launcher.handles[1].sent, ShouldResemble,
				[]string{"log --file node.log --level normal"})

			Convey("and is a no-op for nodes already running", func() {
				started, err := f.EnsureStarted([]int{1, 2}, StartConfig{})
				So(err, ShouldBeNil)
				So(started, ShouldBeEmpty)
				So(launcher.launched, ShouldResemble, []int{1, 2})
			})
		})

		Convey("The setup hook runs once per newly started node", func() {
			setups := []int{}
			_, err := f.EnsureStarted([]int{3}, StartConfig{
				Setup: func(id int) error { setups = append(setups, id); return nil },
			})
			So(err, ShouldBeNil)

			_, err = f.EnsureStarted([]int{3}, StartConfig{
				Setup: func(id int) error { setups = append(setups, id); return nil },
			})
			So(err, ShouldBeNil)
			So(setups, ShouldResemble, []int{3})
		})

		Convey("SendAndAwait delivers a command to every target", func() {
			_, err := f.EnsureStarted([]int{1, 2}, StartConfig{})
			So(err, ShouldBeNil)

			err = f.SendAndAwait(command.Stop{Target: command.Senders}, []int{1, 2}, 0)
			So(err, ShouldBeNil)
			So(launcher.handles[1].sent, ShouldContain, "stop senders")
			So(launcher.handles[2].sent, ShouldContain, "stop senders")
		})

		Convey("SendAndAwait fails for a node with no worker", func() {
			err := f.SendAndAwait(command.Exit{}, []int{9}, 0)
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "node9")
		})

		Convey("A silent node produces a timeout naming that node", func() {
			_, err := f.EnsureStarted([]int{1, 2}, StartConfig{})
			So(err, ShouldBeNil)
			launcher.handles[2].ack = false

			err = f.SendAndAwait(command.Stop{Target: command.Clients}, []int{1, 2},
				100*time.Millisecond)
			So(err, ShouldNotBeNil)
			timeout, ok := err.(*TimeoutError)
			So(ok, ShouldBeTrue)
			So(timeout.NodeID, ShouldEqual, 2)
			So(timeout.Command, ShouldEqual, "stop clients")
		})

		Convey("Extra output ahead of the marker does not break the wait", func() {
			_, err := f.EnsureStarted([]int{1}, StartConfig{})
			So(err, ShouldBeNil)
			launcher.handles[1].pending = []byte("some leftover chatter\n")

			err = f.SendAndAwait(command.Stop{Target: command.Senders}, []int{1}, 0)
			So(err, ShouldBeNil)
		})

		Convey("StopAll exits and closes every worker", func() {
			_, err := f.EnsureStarted([]int{1, 2}, StartConfig{})
			So(err, ShouldBeNil)

			So(f.StopAll(), ShouldBeNil)
			So(f.Running(), ShouldBeEmpty)
			So(launcher.handles[1].sent, ShouldContain, "exit")
			So(launcher.handles[1].closed, ShouldBeTrue)
			So(launcher.handles[2].closed, ShouldBeTrue)

			Convey("and is safe to call again", func() {
				So(f.StopAll(), ShouldBeNil)
			})
		})

		Convey("A broken channel during SendAndAwait still times out with the node name", func() {
			_, err := f.EnsureStarted([]int{4}, StartConfig{})
			So(err, ShouldBeNil)
			launcher.handles[4].sendErr = &worker.BrokenChannelError{Address: "node4"}

			err = f.SendAndAwait(command.Stop{Target: command.Senders}, []int{4}, time.Second)
			timeout, ok := err.(*TimeoutError)
			So(ok, ShouldBeTrue)
			So(timeout.NodeID, ShouldEqual, 4)
		})
	})
}

func TestMergeIDs(t *testing.T) {
	Convey("While merging id lists", t, func() {
		So(MergeIDs([]int{1, 2}, []int{2, 3}), ShouldResemble, []int{1, 2, 3})
		So(MergeIDs(nil, []int{5}), ShouldResemble, []int{5})
		So(MergeIDs([]int{7}, nil), ShouldResemble, []int{7})
		So(MergeIDs(nil, nil), ShouldBeEmpty)
	})
}
