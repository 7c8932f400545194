package helix

import (
	"time"

	"github.com/openshift/test-queue-runner/pkg/testqueue/testqueueapi"
)

// JobDefinition is a job as the builder assembles it. Payload paths are
// local; Submit uploads them before sending the job.
type JobDefinition struct {
	Type        string
	TargetQueue string
	Source      string
	Creator     string
	// CorrelationPayloads are directories shared by every work item.
	CorrelationPayloads []string
	WorkItems           []WorkItem
}

// WorkItem is one command executed on a queue machine.
type WorkItem struct {
	Name    string
	Command string
	// PayloadPath is a directory or a zip archive extracted into the work
	// item directory before Command runs.
	PayloadPath string
	Timeout     time.Duration
}

// SentJob is the acknowledgement of a submitted job.
type SentJob struct {
	CorrelationID       string `json:"Name"`
	ResultsContainerURI string `json:"ResultsUri"`
	// ResultsContainerReadSAS is appended to ResultsContainerURI to read the
	// results.
	ResultsContainerReadSAS string `json:"ResultsUriRSAS"`
}

// ResultsLocation is the container URI including its read credential.
func (j SentJob) ResultsLocation() string {
	return j.ResultsContainerURI + j.ResultsContainerReadSAS
}

// JobDetails is the progress of a job.
type JobDetails struct {
	Name      string                      `json:"Name"`
	QueueID   string                      `json:"QueueId"`
	WorkItems testqueueapi.WorkItemCounts `json:"WorkItems"`
}

// Finished is true once every work item of the job finished.
func (d JobDetails) Finished() bool {
	return d.WorkItems.Total() > 0 && d.WorkItems.Finished == d.WorkItems.Total()
}

// QueueInfo describes a queue of machines. The service omits the optional
// fields for queues it has no data on.
type QueueInfo struct {
	QueueID              string `json:"QueueId"`
	OperatingSystemGroup string `json:"OperatingSystemGroup"`
	Architecture         string `json:"Architecture"`
	Purpose              string `json:"Purpose"`
	IsInternalOnly       *bool  `json:"IsInternalOnly,omitempty"`
	QueueDepth           *int   `json:"QueueDepth,omitempty"`
	ScaleMax             *int   `json:"ScaleMax,omitempty"`
}

// Depth is the backlog of the queue, zero when unknown.
func (q QueueInfo) Depth() int {
	if q.QueueDepth == nil {
		return 0
	}
	return *q.QueueDepth
}

type jobRequest struct {
	Type                   string            `json:"Type"`
	QueueID                string            `json:"QueueId"`
	Source                 string            `json:"Source"`
	Creator                string            `json:"Creator,omitempty"`
	CorrelationPayloadURIs []string          `json:"CorrelationPayloadUris"`
	WorkItems              []workItemRequest `json:"WorkItems"`
}

type workItemRequest struct {
	WorkItemID     string `json:"WorkItemId"`
	Command        string `json:"Command"`
	PayloadURI     string `json:"PayloadUri"`
	TimeoutSeconds int    `json:"Timeout"`
}
