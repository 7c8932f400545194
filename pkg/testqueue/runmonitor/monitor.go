// Package runmonitor waits for the jobs of a run, downloads their reports and
// summarizes them.
package runmonitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/utils/clock"

	"github.com/openshift/test-queue-runner/pkg/blobstore"
	"github.com/openshift/test-queue-runner/pkg/helix"
	"github.com/openshift/test-queue-runner/pkg/results"
	"github.com/openshift/test-queue-runner/pkg/testqueue/ledger"
	"github.com/openshift/test-queue-runner/pkg/testqueue/testqueueapi"
	"github.com/openshift/test-queue-runner/pkg/testqueue/xunit"
)

const (
	DefaultPollInterval   = 5 * time.Second
	DefaultRetryBackoff   = time.Second
	DefaultRenderInterval = time.Second
)

// reportFilter keeps the reports and logs of the work items.
var reportFilter = blobstore.SuffixFilter(".xml", ".html", ".log")

// Monitor waits for runs. The zero value is not usable, see NewMonitor.
type Monitor struct {
	Client   helix.Client
	Opener   blobstore.Opener
	Ledger   *ledger.Ledger
	Renderer StatusRenderer
	// Out receives the summaries.
	Out     io.Writer
	FS      afero.Fs
	Clock   clock.PassiveClock
	Metrics *Metrics

	PollInterval   time.Duration
	RetryBackoff   time.Duration
	RenderInterval time.Duration
	// Sleep waits for d or until ctx is done.
	Sleep func(ctx context.Context, d time.Duration) error

	outLock sync.Mutex
}

func NewMonitor(client helix.Client, opener blobstore.Opener, runs *ledger.Ledger, renderer StatusRenderer, out io.Writer) *Monitor {
	return &Monitor{
		Client:         client,
		Opener:         opener,
		Ledger:         runs,
		Renderer:       renderer,
		Out:            out,
		FS:             afero.NewOsFs(),
		Clock:          clock.RealClock{},
		Metrics:        NewMetrics(),
		PollInterval:   DefaultPollInterval,
		RetryBackoff:   DefaultRetryBackoff,
		RenderInterval: DefaultRenderInterval,
		Sleep:          sleep,
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Outcome is the result of a wait.
type Outcome struct {
	Handle    testqueueapi.RunHandle
	Summaries []xunit.AssemblySummary
	Totals    xunit.Totals
	// WallTime is the local time spent waiting for the jobs, zero when the
	// results were already downloaded.
	WallTime     time.Duration
	DownloadTime time.Duration
}

// Wait waits for every job of the run to finish and downloads the reports,
// unless that already happened, then summarizes the reports. A job that
// fails does not stop the others; the failures are returned once every job
// left polling.
func (m *Monitor) Wait(ctx context.Context, handle testqueueapi.RunHandle) (*Outcome, error) {
	record, err := m.Ledger.Load(handle)
	if err != nil {
		return nil, err
	}
	outcome := &Outcome{Handle: handle}

	if !handle.HasResults {
		start := m.Clock.Now()
		downloadTime, err := m.complete(ctx, handle, record)
		outcome.WallTime = m.Clock.Since(start)
		outcome.DownloadTime = downloadTime
		m.writeMetrics(handle)
		if err != nil {
			return nil, err
		}
		if outcome.Handle, err = m.Ledger.MarkResults(handle); err != nil {
			return nil, err
		}
	}

	summaries, err := xunit.ListSummaries(handle.TestResultsDirectory())
	if err != nil {
		logrus.WithError(err).Warn("Some reports could not be read, they are not part of the totals.")
	}
	outcome.Summaries = summaries
	outcome.Totals = xunit.Sum(summaries)
	m.printTotals(outcome)
	return outcome, nil
}

// complete polls every job concurrently and downloads each job as soon as it
// finished. It returns the sum of the download times.
func (m *Monitor) complete(ctx context.Context, handle testqueueapi.RunHandle, record *testqueueapi.RunRecord) (time.Duration, error) {
	resultsDir := handle.TestResultsDirectory()
	if err := m.FS.RemoveAll(resultsDir); err != nil {
		return 0, results.ForReason(results.ReasonLocalIO).WithError(err).Errorf("could not reset the results directory")
	}
	if err := m.FS.MkdirAll(resultsDir, 0755); err != nil {
		return 0, results.ForReason(results.ReasonLocalIO).WithError(err).Errorf("could not create the results directory")
	}

	renderCtx, stopRendering := context.WithCancel(ctx)
	defer stopRendering()
	status := newTracker(record.Jobs, stopRendering)
	rendered := make(chan struct{})
	go func() {
		defer close(rendered)
		wait.UntilWithContext(renderCtx, func(ctx context.Context) {
			m.render(ctx, record.QueueID, status)
		}, m.RenderInterval)
	}()

	var lock sync.Mutex
	var errs []error
	var downloadTime time.Duration
	var wg sync.WaitGroup
	for i, job := range record.Jobs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			took, err := m.completeJob(ctx, handle, i, job, status)
			lock.Lock()
			defer lock.Unlock()
			downloadTime += took
			if err != nil {
				errs = append(errs, fmt.Errorf("job %s: %w", job.DisplayName, err))
			}
		}()
	}
	wg.Wait()
	stopRendering()
	<-rendered
	m.render(ctx, record.QueueID, status)

	return downloadTime, utilerrors.NewAggregate(errs)
}

func (m *Monitor) completeJob(ctx context.Context, handle testqueueapi.RunHandle, index int, job testqueueapi.JobRecord, status *tracker) (time.Duration, error) {
	if err := m.poll(ctx, index, job, status); err != nil {
		status.fail(index, err)
		return 0, err
	}
	status.setPhase(index, Finished)

	status.setPhase(index, Downloading)
	start := m.Clock.Now()
	files, err := m.download(ctx, handle, job)
	took := m.Clock.Since(start)
	m.Metrics.DownloadDuration.WithLabelValues(job.DisplayName).Observe(took.Seconds())
	if err != nil {
		status.fail(index, err)
		return took, err
	}
	m.Metrics.DownloadedFiles.WithLabelValues(job.DisplayName).Add(float64(files))
	status.setPhase(index, Downloaded)
	m.printJobSummary(handle, job, took)
	return took, nil
}

// poll returns once the job finished. Transient failures are retried after
// RetryBackoff, any other failure ends the job.
func (m *Monitor) poll(ctx context.Context, index int, job testqueueapi.JobRecord, status *tracker) error {
	logger := logrus.WithField("job", job.DisplayName)
	status.setPhase(index, Polling)
	for {
		details, err := m.Client.JobDetails(ctx, job.CorrelationID)
		if err != nil {
			switch results.ReasonFor(err) {
			case results.ReasonTransientRemote:
				m.Metrics.recordPoll(job.DisplayName, pollTransient)
				logger.WithError(err).Debug("Transient failure polling the job, retrying.")
				if err := m.Sleep(ctx, m.RetryBackoff); err != nil {
					return err
				}
				continue
			default:
				m.Metrics.recordPoll(job.DisplayName, pollFailed)
				return err
			}
		}
		m.Metrics.recordPoll(job.DisplayName, pollSucceeded)
		status.update(index, details.WorkItems)
		if details.Finished() {
			logger.Debug("Job finished.")
			return nil
		}
		if err := m.Sleep(ctx, m.PollInterval); err != nil {
			return err
		}
	}
}

func (m *Monitor) download(ctx context.Context, handle testqueueapi.RunHandle, job testqueueapi.JobRecord) (int, error) {
	location, err := blobstore.ParseLocation(job.ContainerURI)
	if err != nil {
		return 0, results.ForReason(results.ReasonPermanentRemote).ForError(err)
	}
	bucket, err := m.Opener.Open(ctx, location)
	if err != nil {
		return 0, results.ForReason(results.ReasonPermanentRemote).WithError(err).Errorf("could not open the results container")
	}
	files, err := blobstore.Download(ctx, m.FS, bucket, location.Prefix, handle.JobResultsDirectory(job), reportFilter)
	if err != nil {
		return files, fmt.Errorf("could not download results: %w", err)
	}
	return files, nil
}

func (m *Monitor) render(ctx context.Context, queueID string, status *tracker) {
	queueLine := fmt.Sprintf("Queue %s", queueID)
	// the final render happens after the wait was canceled
	if ctx.Err() == nil {
		if info, err := m.Client.QueueInfo(ctx, queueID); err != nil {
			if !errors.Is(err, context.Canceled) {
				logrus.WithError(err).Debug("Could not get the queue depth.")
			}
		} else {
			queueLine = fmt.Sprintf("Queue %s depth %d", queueID, info.Depth())
		}
	}
	if err := m.Renderer.Render(statusLines(m.Clock.Now(), queueLine, status.snapshot())); err != nil {
		logrus.WithError(err).Warn("Could not render the job status.")
	}
}

func (m *Monitor) writeMetrics(handle testqueueapi.RunHandle) {
	if err := m.Metrics.WriteToTextfile(filepath.Join(handle.DataDirectory, ledger.MetricsFileName)); err != nil {
		logrus.WithError(err).Warn("Could not write the metrics of the wait.")
	}
}

func (m *Monitor) printJobSummary(handle testqueueapi.RunHandle, job testqueueapi.JobRecord, downloadTime time.Duration) {
	summaries, err := xunit.ListSummaries(handle.JobResultsDirectory(job))
	if err != nil {
		logrus.WithError(err).WithField("job", job.DisplayName).Warn("Some reports of the job could not be read.")
	}
	var b strings.Builder
	fmt.Fprintln(&b, job.DisplayName)
	fmt.Fprintln(&b, job.CorrelationID)
	if len(summaries) == 0 {
		fmt.Fprintln(&b, "Empty test run")
	} else {
		totals := xunit.Sum(summaries)
		minTime, maxTime := summaries[0].ExecutionTime, summaries[0].ExecutionTime
		for _, summary := range summaries[1:] {
			minTime = min(minTime, summary.ExecutionTime)
			maxTime = max(maxTime, summary.ExecutionTime)
		}
		fmt.Fprintf(&b, "Tests run: %d\n", totals.Total)
		fmt.Fprintf(&b, "Tests passed: %d\n", totals.Passed)
		fmt.Fprintf(&b, "Tests skipped: %d\n", totals.Skipped)
		fmt.Fprintf(&b, "Tests failed: %d\n", totals.Failed)
		fmt.Fprintf(&b, "Max test run time: %s\n", maxTime)
		fmt.Fprintf(&b, "Min test run time: %s\n", minTime)
		fmt.Fprintf(&b, "Download time: %s\n", downloadTime)
	}
	m.print(b.String())
}

func (m *Monitor) print(s string) {
	m.outLock.Lock()
	defer m.outLock.Unlock()
	if _, err := io.WriteString(m.Out, s); err != nil {
		logrus.WithError(err).Warn("Could not write the summary.")
	}
}

func (m *Monitor) printTotals(outcome *Outcome) {
	totals := outcome.Totals
	var b strings.Builder
	fmt.Fprintln(&b, strings.Repeat("=", 80))
	fmt.Fprintf(&b, "Tests passed: %d\n", totals.Passed)
	fmt.Fprintf(&b, "Tests skipped: %d\n", totals.Skipped)
	fmt.Fprintf(&b, "Tests failed: %d\n", totals.Failed)
	fmt.Fprintf(&b, "Total tests: %d\n", totals.Total)
	fmt.Fprintf(&b, "Total test execution time: %s\n", totals.ExecutionTime)
	if outcome.WallTime > 0 {
		fmt.Fprintf(&b, "Local execution time: %s\n", outcome.WallTime)
		fmt.Fprintf(&b, "Total download time: %s\n", outcome.DownloadTime)
	}
	for _, summary := range outcome.Summaries {
		if summary.Failed > 0 {
			fmt.Fprintf(&b, "Failed: %s\n", m.htmlReport(summary.ReportPath))
		}
	}
	m.print(b.String())
}

// htmlReport is the rendered report written next to the xml report.
func (m *Monitor) htmlReport(xmlPath string) string {
	html := xmlPath[:len(xmlPath)-len(filepath.Ext(xmlPath))] + ".html"
	if _, err := m.FS.Stat(html); err != nil {
		return xmlPath
	}
	return html
}
