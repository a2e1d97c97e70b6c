package worker

import (
	"os/user"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestSSHLauncherDefaults(t *testing.T) {
	Convey("A fresh launcher carries the worker defaults", t, func() {
		launcher := NewSSHLauncher(&user.User{Username: "perf"})
		So(launcher.Command, ShouldEqual, "cp_node")
		So(launcher.HostFormat, ShouldEqual, "node%d")
		So(launcher.Port, ShouldEqual, 22)
	})
}

func TestPollBuffer(t *testing.T) {
	Convey("While pumping worker output through a poll buffer", t, func() {
		buffer := &pollBuffer{}

		Convey("An empty buffer yields nil", func() {
			So(buffer.take(), ShouldBeNil)
		})

		Convey("Writes accumulate until taken", func() {
			buffer.Write([]byte("client 1\n"))
			buffer.Write([]byte("% "))

			So(string(buffer.take()), ShouldEqual, "client 1\n% ")

			Convey("and taking drains the buffer", func() {
				So(buffer.take(), ShouldBeNil)
			})
		})
	})
}
