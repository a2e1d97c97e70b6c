package errcollection

import (
	"testing"

	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"
)

func TestErrorCollection(t *testing.T) {
	Convey("While using error collection", t, func() {
		var collection ErrorCollection

		Convey("With no errors added, there is no combined error", func() {
			So(collection.GetErrIfAny(), ShouldBeNil)
		})

		Convey("Nil errors are ignored", func() {
			collection.Add(nil)
			So(collection.GetErrIfAny(), ShouldBeNil)
		})

		Convey("A single error comes back with its own message", func() {
			collection.Add(errors.New("node3 timed out"))
			So(collection.GetErrIfAny().Error(), ShouldEqual, "node3 timed out")
		})

		Convey("Multiple errors are combined with a delimiter", func() {
			collection.Add(errors.New("node3 timed out"))
			collection.Add(nil)
			collection.Add(errors.New("node5 channel broken"))
			So(collection.GetErrIfAny().Error(), ShouldEqual,
				"node3 timed out; node5 channel broken")
		})
	})
}
