package testqueueapi

import "path/filepath"

// TestResultsDirectoryName holds the downloaded report trees of a run, one
// subdirectory per job display name.
const TestResultsDirectoryName = "TestResults"

// JobRecord is one job submitted to the queue.
type JobRecord struct {
	DisplayName   string `json:"displayName"`
	CorrelationID string `json:"correlationId"`
	// ContainerURI locates the results container and carries the read
	// credential in its query.
	ContainerURI  string   `json:"containerUri"`
	IsPartitioned bool     `json:"isPartitioned"`
	WorkItemNames []string `json:"workItemNames"`
}

// RunRecord is the payload of one submission. It is written once and never
// changed; a resubmission creates a new run.
type RunRecord struct {
	QueueID string      `json:"queueId"`
	Jobs    []JobRecord `json:"jobs"`
}

// RunHandle identifies a run in the ledger independent of its payload.
type RunHandle struct {
	ID            string `json:"id"`
	DataDirectory string `json:"-"`
	HasResults    bool   `json:"hasTestResults"`
}

func (h RunHandle) TestResultsDirectory() string {
	return filepath.Join(h.DataDirectory, TestResultsDirectoryName)
}

// JobResultsDirectory is where the reports of the job are downloaded to.
func (h RunHandle) JobResultsDirectory(job JobRecord) string {
	return filepath.Join(h.TestResultsDirectory(), job.DisplayName)
}

// WorkItemCounts is the number of work items of a job in each state.
type WorkItemCounts struct {
	Unscheduled int
	Waiting     int
	Running     int
	Finished    int
}

func (c WorkItemCounts) Add(other WorkItemCounts) WorkItemCounts {
	return WorkItemCounts{
		Unscheduled: c.Unscheduled + other.Unscheduled,
		Waiting:     c.Waiting + other.Waiting,
		Running:     c.Running + other.Running,
		Finished:    c.Finished + other.Finished,
	}
}

func (c WorkItemCounts) Total() int {
	return c.Unscheduled + c.Waiting + c.Running + c.Finished
}
