package runmonitor

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"
	logrustest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"

	"github.com/openshift/test-queue-runner/pkg/testqueue/testqueueapi"
)

func TestTerminalRenderer(t *testing.T) {
	out := &bytes.Buffer{}
	renderer := &TerminalRenderer{Out: out}
	if err := renderer.Render([]string{"one", "two", "three"}); err != nil {
		t.Fatal(err)
	}
	if err := renderer.Render([]string{"four"}); err != nil {
		t.Fatal(err)
	}
	if err := renderer.Render([]string{"five", "six"}); err != nil {
		t.Fatal(err)
	}
	expected := "one\ntwo\nthree\n" +
		"\x1b[3A\r\x1b[Jfour\n" +
		"\x1b[1A\r\x1b[Jfive\nsix\n"
	if diff := cmp.Diff(expected, out.String()); diff != "" {
		t.Errorf("unexpected output: %s", diff)
	}
}

func TestLogRendererLogsChanges(t *testing.T) {
	hook := logrustest.NewGlobal()
	defer logrus.StandardLogger().ReplaceHooks(make(logrus.LevelHooks))

	renderer := &LogRenderer{}
	for _, lines := range [][]string{
		{"08:00:00", "Queue q", "a Polling"},
		{"08:00:01", "Queue q", "a Polling"},
		{"08:00:02", "Queue q", "a Finished"},
		nil,
	} {
		if err := renderer.Render(lines); err != nil {
			t.Fatal(err)
		}
	}

	var messages []string
	for _, entry := range hook.AllEntries() {
		messages = append(messages, entry.Message)
	}
	expected := []string{
		"Job status:\n08:00:00\nQueue q\na Polling",
		"Job status:\n08:00:02\nQueue q\na Finished",
	}
	if diff := cmp.Diff(expected, messages); diff != "" {
		t.Errorf("unexpected log entries: %s", diff)
	}
}

func TestStatusLines(t *testing.T) {
	now := time.Date(2026, 10, 19, 10, 4, 5, 0, time.FixedZone("CEST", 2*60*60))
	lines := statusLines(now, "Queue q depth 2", []JobStatus{
		{
			Job:    testqueueapi.JobRecord{DisplayName: "Multiple"},
			Phase:  Polling,
			Counts: testqueueapi.WorkItemCounts{Unscheduled: 1, Waiting: 2, Running: 3},
		},
		{
			Job:    testqueueapi.JobRecord{DisplayName: "Big.UnitTests.dll"},
			Phase:  Downloaded,
			Counts: testqueueapi.WorkItemCounts{Finished: 4},
		},
	})

	assert.Equal(t, "2026-10-19T08:04:05Z", lines[0])
	assert.Equal(t, "Queue q depth 2", lines[1])
	table := strings.Join(lines[2:], "\n")
	for _, expected := range []string{"Multiple", "Polling", "Big.UnitTests.dll", "Downloaded", "TOTAL"} {
		assert.Contains(t, table, expected)
	}
	var footer string
	for _, line := range lines {
		if strings.Contains(line, "TOTAL") {
			footer = line
		}
	}
	assert.Equal(t, []string{"TOTAL", "1", "2", "3", "4"}, strings.Fields(strings.NewReplacer("│", " ").Replace(footer)))
}

func TestTrackerNotifiesOnceEveryJobLeftPolling(t *testing.T) {
	var calls int
	status := newTracker([]testqueueapi.JobRecord{{DisplayName: "a"}, {DisplayName: "b"}}, func() { calls++ })
	status.setPhase(0, Polling)
	status.setPhase(1, Polling)
	status.setPhase(0, Finished)
	assert.Zero(t, calls)
	status.fail(1, assert.AnError)
	assert.Equal(t, 1, calls)
	status.setPhase(0, Downloaded)
	assert.Equal(t, 1, calls)

	snapshot := status.snapshot()
	assert.Equal(t, Downloaded, snapshot[0].Phase)
	assert.Equal(t, Failed, snapshot[1].Phase)
	assert.Equal(t, assert.AnError, snapshot[1].Err)
}
