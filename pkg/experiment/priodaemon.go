package experiment

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/himsangseung/cperf/pkg/executor"
)

// prioStopTimeout bounds the wait for a daemon to exit after pkill.
const prioStopTimeout = 5 * time.Second

// PrioDaemons manages one homa_prio daemon per node. The daemon watches
// traffic and adjusts Homa's unscheduled priority cutoffs; its output is
// saved to the log directory when the daemon is stopped.
type PrioDaemons struct {
	Executors ExecutorFactory
	LogDir    string

	// Unsched, when nonzero, pins the number of unscheduled priorities
	// instead of letting the daemon compute it from the workload.
	Unsched int

	// UnschedBoost raises the computed number of unscheduled priorities.
	UnschedBoost float64

	mutex   sync.Mutex
	handles map[int]executor.TaskHandle
}

// Start launches homa_prio on one node. Starting a node that already has a
// running daemon is a no-op.
func (p *PrioDaemons) Start(nodeID int) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.handles == nil {
		p.handles = map[int]executor.TaskHandle{}
	}
	if _, ok := p.handles[nodeID]; ok {
		return nil
	}

	exec, err := p.Executors(nodeID)
	if err != nil {
		return err
	}
	cmd := fmt.Sprintf("sudo bin/homa_prio --interval 500 --unsched %d --unsched-boost %g",
		p.Unsched, p.UnschedBoost)
	handle, err := exec.Execute(cmd)
	if err != nil {
		return err
	}
	p.handles[nodeID] = handle
	return nil
}

// StopAll kills every managed daemon and writes its accumulated output to
// homa_prio-<id>.log in the log directory. Best effort; failures are logged.
func (p *PrioDaemons) StopAll() {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	for id, handle := range p.handles {
		exec, err := p.Executors(id)
		if err == nil {
			executor.RunAndLog(exec, "sudo pkill homa_prio")
		} else {
			logrus.Info(err.Error())
		}
		if !handle.Wait(prioStopTimeout) {
			logrus.Infof("Timeout killing homa_prio on node%d", id)
		}
		logPath := filepath.Join(p.LogDir, fmt.Sprintf("homa_prio-%d.log", id))
		output := handle.Stdout() + handle.Stderr()
		if err := os.WriteFile(logPath, []byte(output), 0644); err != nil {
			logrus.Infof("Couldn't save homa_prio log for node%d: %v", id, err)
		}
	}
	p.handles = map[int]executor.TaskHandle{}
}
