package fleet

import (
	"fmt"
	"time"
)

// TimeoutError reports the first node that failed to acknowledge a command
// within the fan-in deadline. The accumulated output helps diagnose whether
// the node was silent or produced something unexpected.
type TimeoutError struct {
	NodeID  int
	Command string
	Timeout time.Duration
	Output  string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout (%.1fs) exceeded for command '%s' on node%d",
		e.Timeout.Seconds(), e.Command, e.NodeID)
}
