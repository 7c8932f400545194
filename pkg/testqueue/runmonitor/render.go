package runmonitor

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/sirupsen/logrus"
	"golang.org/x/term"

	"github.com/openshift/test-queue-runner/pkg/testqueue/testqueueapi"
)

// StatusRenderer shows the status of a wait while it runs.
type StatusRenderer interface {
	Render(lines []string) error
}

// NewStatusRenderer redraws in place on a terminal and logs otherwise.
func NewStatusRenderer(out *os.File) StatusRenderer {
	if term.IsTerminal(int(out.Fd())) {
		return &TerminalRenderer{Out: out}
	}
	return &LogRenderer{}
}

// TerminalRenderer replaces the previously rendered lines.
type TerminalRenderer struct {
	Out io.Writer

	lock     sync.Mutex
	previous int
}

func (r *TerminalRenderer) Render(lines []string) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	var b strings.Builder
	if r.previous > 0 {
		// cursor up to the first rendered line, then clear to the end of the screen
		fmt.Fprintf(&b, "\x1b[%dA\r\x1b[J", r.previous)
	}
	for _, line := range lines {
		b.WriteString(line)
		b.WriteString("\n")
	}
	if _, err := io.WriteString(r.Out, b.String()); err != nil {
		return err
	}
	r.previous = len(lines)
	return nil
}

// LogRenderer logs the status whenever it changed. The first line, the
// time of the status, is not compared.
type LogRenderer struct {
	lock     sync.Mutex
	previous string
}

func (r *LogRenderer) Render(lines []string) error {
	if len(lines) == 0 {
		return nil
	}
	body := strings.Join(lines[1:], "\n")
	r.lock.Lock()
	defer r.lock.Unlock()
	if body == r.previous {
		return nil
	}
	r.previous = body
	logrus.Info("Job status:\n" + strings.Join(lines, "\n"))
	return nil
}

// statusLines is the time, the queue line and a table of the work items of
// every job.
func statusLines(now time.Time, queueLine string, statuses []JobStatus) []string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Job", "Phase", "Unscheduled", "Waiting", "Running", "Finished"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Job", WidthMax: 70, WidthMaxEnforcer: text.Trim},
		{Name: "Unscheduled", Align: text.AlignRight},
		{Name: "Waiting", Align: text.AlignRight},
		{Name: "Running", Align: text.AlignRight},
		{Name: "Finished", Align: text.AlignRight},
	})
	var totals testqueueapi.WorkItemCounts
	for _, status := range statuses {
		counts := status.Counts
		totals = totals.Add(counts)
		t.AppendRow(table.Row{status.Job.DisplayName, status.Phase, counts.Unscheduled, counts.Waiting, counts.Running, counts.Finished})
	}
	t.AppendFooter(table.Row{"Total", "", totals.Unscheduled, totals.Waiting, totals.Running, totals.Finished})
	t.SetStyle(table.StyleLight)

	lines := []string{now.UTC().Format(time.RFC3339), queueLine}
	return append(lines, strings.Split(t.Render(), "\n")...)
}
