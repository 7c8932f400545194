// Package analyzer reports where the time of a finished run was spent.
package analyzer

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/sirupsen/logrus"

	"github.com/openshift/test-queue-runner/pkg/results"
	"github.com/openshift/test-queue-runner/pkg/testqueue/ledger"
	"github.com/openshift/test-queue-runner/pkg/testqueue/testqueueapi"
	"github.com/openshift/test-queue-runner/pkg/testqueue/xunit"
)

// DefaultSlowestTypes is the number of types listed by a partition analysis.
const DefaultSlowestTypes = 20

// AssemblyTiming is the time one assembly took. The partition columns are
// only set for partitioned assemblies.
type AssemblyTiming struct {
	Name       string
	Partitions int
	MinTime    time.Duration
	MaxTime    time.Duration
	TotalTime  time.Duration
}

func (t AssemblyTiming) partitioned() bool {
	return t.Partitions > 0
}

type Analyzer struct {
	Ledger *ledger.Ledger
}

func (a *Analyzer) load(handle testqueueapi.RunHandle) (*testqueueapi.RunRecord, error) {
	if !handle.HasResults {
		return nil, results.ForReason(results.ReasonLedger).Errorf("run %s has no test results, wait for it first", handle.ID)
	}
	return a.Ledger.Load(handle)
}

// AssemblyTimings returns one timing per partitioned assembly and one per
// work item of the flat jobs, in job order.
func (a *Analyzer) AssemblyTimings(handle testqueueapi.RunHandle) ([]AssemblyTiming, error) {
	record, err := a.load(handle)
	if err != nil {
		return nil, err
	}
	var timings []AssemblyTiming
	for _, job := range record.Jobs {
		dir := handle.JobResultsDirectory(job)
		if job.IsPartitioned {
			summaries, err := xunit.ListSummaries(dir)
			if err != nil {
				logrus.WithError(err).WithField("job", job.DisplayName).Warn("Some reports of the job could not be read.")
			}
			if len(summaries) == 0 {
				continue
			}
			timing := AssemblyTiming{
				Name:       job.DisplayName,
				Partitions: len(job.WorkItemNames),
				MinTime:    summaries[0].ExecutionTime,
				MaxTime:    summaries[0].ExecutionTime,
			}
			for _, summary := range summaries {
				timing.MinTime = min(timing.MinTime, summary.ExecutionTime)
				timing.MaxTime = max(timing.MaxTime, summary.ExecutionTime)
				timing.TotalTime += summary.ExecutionTime
			}
			timings = append(timings, timing)
			continue
		}

		// the work items of a flat job are named after their assembly
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, results.ForReason(results.ReasonLocalIO).WithError(err).Errorf("could not list results of job %s", job.DisplayName)
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			summaries, err := xunit.ListSummaries(filepath.Join(dir, entry.Name()))
			if err != nil {
				logrus.WithError(err).WithField("work-item", entry.Name()).Warn("Some reports of the work item could not be read.")
			}
			if len(summaries) == 0 {
				continue
			}
			timings = append(timings, AssemblyTiming{Name: entry.Name(), TotalTime: xunit.Sum(summaries).ExecutionTime})
		}
	}
	return timings, nil
}

// SlowestTypes returns the limit types of the partitioned assemblies that
// took the longest, slowest first.
func (a *Analyzer) SlowestTypes(handle testqueueapi.RunHandle, limit int) ([]xunit.TypeSummary, error) {
	record, err := a.load(handle)
	if err != nil {
		return nil, err
	}
	var types []xunit.TypeSummary
	for _, job := range record.Jobs {
		if !job.IsPartitioned {
			continue
		}
		summaries, err := xunit.ListTypeSummaries(handle.JobResultsDirectory(job))
		if err != nil {
			logrus.WithError(err).WithField("job", job.DisplayName).Warn("Some reports of the job could not be read.")
		}
		types = append(types, summaries...)
	}
	sort.SliceStable(types, func(i, j int) bool {
		return types[i].ExecutionTime > types[j].ExecutionTime
	})
	if len(types) > limit {
		types = types[:limit]
	}
	return types, nil
}

func WriteAssemblyTable(out io.Writer, timings []AssemblyTiming) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.AppendHeader(table.Row{"Assembly", "Partitions", "Min Time", "Max Time", "Total Time"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Assembly", WidthMax: 70, WidthMaxEnforcer: text.Trim},
		{Name: "Partitions", Align: text.AlignRight},
	})
	for _, timing := range timings {
		if timing.partitioned() {
			t.AppendRow(table.Row{timing.Name, timing.Partitions, formatDuration(timing.MinTime), formatDuration(timing.MaxTime), formatDuration(timing.TotalTime)})
		} else {
			t.AppendRow(table.Row{timing.Name, "", "", "", formatDuration(timing.TotalTime)})
		}
	}
	t.SetStyle(table.StyleLight)
	t.Render()
}

func WriteTypeTable(out io.Writer, types []xunit.TypeSummary, verbose bool) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.AppendHeader(table.Row{"Type", "Execution Time", "Methods"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Methods", Align: text.AlignRight},
	})
	for _, summary := range types {
		name := summary.TypeName()
		if verbose {
			name = summary.FullTypeName
		}
		t.AppendRow(table.Row{name, formatDuration(summary.ExecutionTime), summary.Methods})
	}
	t.SetStyle(table.StyleLight)
	t.Render()
}

// formatDuration is h:mm:ss, truncated to the second.
func formatDuration(d time.Duration) string {
	d = d.Truncate(time.Second)
	hours := d / time.Hour
	d -= hours * time.Hour
	minutes := d / time.Minute
	d -= minutes * time.Minute
	return fmt.Sprintf("%d:%02d:%02d", hours, minutes, d/time.Second)
}
