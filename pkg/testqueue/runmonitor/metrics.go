package runmonitor

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	pollSucceeded = "success"
	pollTransient = "transient"
	pollFailed    = "failed"
)

// Metrics of one wait. They are written next to the run as a textfile.
type Metrics struct {
	registry *prometheus.Registry

	Polls            *prometheus.CounterVec
	DownloadDuration *prometheus.HistogramVec
	DownloadedFiles  *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Polls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "test_queue",
				Name:      "job_polls_total",
				Help:      "number of job status polls, by job and result",
			},
			[]string{"job", "result"},
		),
		DownloadDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "test_queue",
				Name:      "results_download_duration_seconds",
				Help:      "duration of the download of the results of a job in seconds",
				Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"job"},
		),
		DownloadedFiles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "test_queue",
				Name:      "results_downloaded_files_total",
				Help:      "number of downloaded result files, by job",
			},
			[]string{"job"},
		),
	}
	m.registry.MustRegister(m.Polls, m.DownloadDuration, m.DownloadedFiles)
	return m
}

func (m *Metrics) recordPoll(job, result string) {
	m.Polls.With(prometheus.Labels{"job": job, "result": result}).Inc()
}

// WriteToTextfile writes the metrics in the text exposition format.
func (m *Metrics) WriteToTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
