// Package errutil terminates a benchmark driver on unrecoverable errors.
// A failed fleet or digest operation leaves no useful way to continue, so
// drivers check and die rather than propagate.
package errutil

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Check logs err and exits the process when it is non-nil. The full error
// chain, including stack traces from wrapped errors, goes to the debug log
// before the fatal line.
func Check(err error) {
	if err == nil {
		return
	}
	logrus.Debugf("%+v", err)
	logrus.Fatalf("%v", err)
}

// Checkf is Check with a printf-style prefix naming the step that failed.
func Checkf(err error, format string, args ...interface{}) {
	if err == nil {
		return
	}
	step := fmt.Sprintf(format, args...)
	logrus.Debugf("%s: %+v", step, err)
	logrus.Fatalf("%s: %v", step, err)
}
