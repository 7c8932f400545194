package runmonitor

import (
	"sync"

	"github.com/openshift/test-queue-runner/pkg/testqueue/testqueueapi"
)

// JobPhase is the progress of a job through a wait.
type JobPhase int

const (
	Submitted JobPhase = iota
	Polling
	Finished
	Downloading
	Downloaded
	Failed
)

func (p JobPhase) String() string {
	switch p {
	case Submitted:
		return "Submitted"
	case Polling:
		return "Polling"
	case Finished:
		return "Finished"
	case Downloading:
		return "Downloading"
	case Downloaded:
		return "Downloaded"
	case Failed:
		return "Failed"
	}
	return "Unknown"
}

// polling is true while the job may still change on the queue.
func (p JobPhase) polling() bool {
	return p == Submitted || p == Polling
}

// JobStatus is the last known state of a job.
type JobStatus struct {
	Job    testqueueapi.JobRecord
	Phase  JobPhase
	Counts testqueueapi.WorkItemCounts
	Err    error
}

// tracker holds the status of every job of a wait. The job goroutines write
// to it, the render loop reads snapshots.
type tracker struct {
	lock     sync.Mutex
	statuses []JobStatus
	// onAllLeftPolling is called once no job polls any longer
	onAllLeftPolling func()
}

func newTracker(jobs []testqueueapi.JobRecord, onAllLeftPolling func()) *tracker {
	t := &tracker{onAllLeftPolling: onAllLeftPolling}
	for _, job := range jobs {
		t.statuses = append(t.statuses, JobStatus{Job: job, Phase: Submitted})
	}
	return t
}

func (t *tracker) setPhase(index int, phase JobPhase) {
	t.lock.Lock()
	wasPolling := t.statuses[index].Phase.polling()
	t.statuses[index].Phase = phase
	notify := wasPolling && !phase.polling() && !t.anyPollingLocked()
	t.lock.Unlock()
	if notify && t.onAllLeftPolling != nil {
		t.onAllLeftPolling()
	}
}

func (t *tracker) fail(index int, err error) {
	t.lock.Lock()
	t.statuses[index].Err = err
	t.lock.Unlock()
	t.setPhase(index, Failed)
}

func (t *tracker) update(index int, counts testqueueapi.WorkItemCounts) {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.statuses[index].Counts = counts
}

func (t *tracker) anyPollingLocked() bool {
	for _, status := range t.statuses {
		if status.Phase.polling() {
			return true
		}
	}
	return false
}

func (t *tracker) snapshot() []JobStatus {
	t.lock.Lock()
	defer t.lock.Unlock()
	ret := make([]JobStatus, len(t.statuses))
	copy(ret, t.statuses)
	return ret
}
