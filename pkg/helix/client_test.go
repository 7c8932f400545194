package helix

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openshift/test-queue-runner/pkg/blobstore"
	"github.com/openshift/test-queue-runner/pkg/results"
	"github.com/openshift/test-queue-runner/pkg/testqueue/testqueueapi"
)

func payloadDir(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "xunit.cmd"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestSubmit(t *testing.T) {
	var lock sync.Mutex
	var received jobRequest
	var authorization, path string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lock.Lock()
		defer lock.Unlock()
		authorization = r.Header.Get("Authorization")
		path = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"Name":"c1","ResultsUri":"gs://results/c1","ResultsUriRSAS":"?token=read"}`))
	}))
	defer server.Close()

	bucket := blobstore.NewMemoryBucket("payloads", nil)
	client := NewClient(ClientOptions{
		BaseURL:     server.URL,
		AccessToken: "secret",
		Uploader:    &blobstore.PayloadUploader{Bucket: bucket, Prefix: "payloads"},
	})

	shared := payloadDir(t, "shared")
	item := payloadDir(t, "item")
	sent, err := client.Submit(context.Background(), &JobDefinition{
		Type:                "test/unit",
		TargetQueue:         "Windows.10.Amd64.Open",
		Source:              "UnitTests",
		CorrelationPayloads: []string{shared},
		WorkItems: []WorkItem{
			{Name: "Foo.UnitTests", Command: "cmd /c xunit.cmd", PayloadPath: item, Timeout: 15 * time.Minute},
			{Name: "Bar.UnitTests", Command: "cmd /c xunit.cmd", PayloadPath: item, Timeout: 15 * time.Minute},
		},
	})
	require.NoError(t, err)

	lock.Lock()
	defer lock.Unlock()
	assert.Equal(t, "token secret", authorization)
	assert.Equal(t, "/api/jobs", path)
	assert.Equal(t, "c1", sent.CorrelationID)
	assert.Equal(t, "gs://results/c1?token=read", sent.ResultsLocation())

	assert.Equal(t, "Windows.10.Amd64.Open", received.QueueID)
	require.Len(t, received.CorrelationPayloadURIs, 1)
	require.Len(t, received.WorkItems, 2)
	for _, workItem := range received.WorkItems {
		assert.Equal(t, 900, workItem.TimeoutSeconds)
		assert.True(t, strings.HasPrefix(workItem.PayloadURI, "gs://payloads/payloads/"), workItem.PayloadURI)
	}
	assert.Equal(t, received.WorkItems[0].PayloadURI, received.WorkItems[1].PayloadURI)
	// the identical work item payload is uploaded once
	assert.Equal(t, 2, bucket.Uploads())
}

func TestSubmitRejectsEmptyJobs(t *testing.T) {
	client := NewClient(ClientOptions{BaseURL: "http://127.0.0.1:0"})
	_, err := client.Submit(context.Background(), &JobDefinition{TargetQueue: "q"})
	if !results.HasReason(err, results.ReasonPermanentRemote) {
		t.Errorf("expected a permanent error, got %v", err)
	}
}

func TestSubmitRetriesUnavailableService(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"Name":"c2","ResultsUri":"gs://results/c2"}`))
	}))
	defer server.Close()

	client := NewClient(ClientOptions{
		BaseURL:       server.URL,
		Uploader:      &blobstore.PayloadUploader{Bucket: blobstore.NewMemoryBucket("payloads", nil)},
		SubmitRetries: 3,
		RetryWaitMin:  time.Millisecond,
		RetryWaitMax:  time.Millisecond,
	})
	sent, err := client.Submit(context.Background(), &JobDefinition{
		TargetQueue: "q",
		WorkItems:   []WorkItem{{Name: "a", PayloadPath: payloadDir(t, "a")}},
	})
	require.NoError(t, err)
	assert.Equal(t, "c2", sent.CorrelationID)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestJobDetails(t *testing.T) {
	testCases := []struct {
		name           string
		status         int
		body           string
		expected       *JobDetails
		expectedReason results.Reason
	}{
		{
			name:     "finished",
			status:   http.StatusOK,
			body:     `{"Name":"c1","QueueId":"q","WorkItems":{"Unscheduled":0,"Waiting":0,"Running":0,"Finished":3}}`,
			expected: &JobDetails{Name: "c1", QueueID: "q", WorkItems: testqueueapi.WorkItemCounts{Finished: 3}},
		},
		{
			name:           "unavailable is transient",
			status:         http.StatusServiceUnavailable,
			expectedReason: results.ReasonTransientRemote,
		},
		{
			name:           "throttled is transient",
			status:         http.StatusTooManyRequests,
			expectedReason: results.ReasonTransientRemote,
		},
		{
			name:           "unknown job is permanent",
			status:         http.StatusNotFound,
			body:           "no such job",
			expectedReason: results.ReasonPermanentRemote,
		},
		{
			name:           "unauthorized is permanent",
			status:         http.StatusUnauthorized,
			expectedReason: results.ReasonPermanentRemote,
		},
		{
			name:           "garbage is permanent",
			status:         http.StatusOK,
			body:           "{",
			expectedReason: results.ReasonPermanentRemote,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var calls int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				if r.URL.Path != "/api/jobs/c1/details" {
					w.WriteHeader(http.StatusNotFound)
					return
				}
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer server.Close()

			details, err := NewClient(ClientOptions{BaseURL: server.URL}).JobDetails(context.Background(), "c1")
			if tc.expectedReason != "" {
				if actual := results.ReasonFor(err); actual != tc.expectedReason {
					t.Errorf("expected reason %s, got %s (%v)", tc.expectedReason, actual, err)
				}
			} else if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tc.expected, details); diff != "" {
				t.Errorf("unexpected details: %s", diff)
			}
			if actual := atomic.LoadInt32(&calls); actual != 1 {
				t.Errorf("expected polls not to be retried by the client, got %d calls", actual)
			}
		})
	}
}

func TestJobDetailsConnectionFailureIsTransient(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	server.Close()
	_, err := NewClient(ClientOptions{BaseURL: server.URL}).JobDetails(context.Background(), "c1")
	if !results.HasReason(err, results.ReasonTransientRemote) {
		t.Errorf("expected a transient error, got %v", err)
	}
}

func TestJobDetailsFinished(t *testing.T) {
	testCases := []struct {
		counts   testqueueapi.WorkItemCounts
		expected bool
	}{
		{counts: testqueueapi.WorkItemCounts{}, expected: false},
		{counts: testqueueapi.WorkItemCounts{Unscheduled: 2}, expected: false},
		{counts: testqueueapi.WorkItemCounts{Running: 1, Finished: 1}, expected: false},
		{counts: testqueueapi.WorkItemCounts{Finished: 2}, expected: true},
	}
	for _, tc := range testCases {
		if actual := (JobDetails{WorkItems: tc.counts}).Finished(); actual != tc.expected {
			t.Errorf("%+v: expected %t, got %t", tc.counts, tc.expected, actual)
		}
	}
}
