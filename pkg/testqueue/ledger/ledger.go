// Package ledger persists submitted runs on disk, one directory per run, so
// they can be listed, waited on and analyzed after the submitting process
// exited.
package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"k8s.io/utils/clock"

	"github.com/openshift/test-queue-runner/pkg/results"
	"github.com/openshift/test-queue-runner/pkg/testqueue/testqueueapi"
)

const (
	RunInfoFileName = "runinfo.json"
	RunFileName     = "run.json"
	LogFileName     = "log.txt"
	MetricsFileName = "metrics.prom"

	// runIDLayout sorts lexically in time order.
	runIDLayout = "2006-01-02_15-04-05"
)

// Ledger is the set of runs under a data directory.
type Ledger struct {
	fs    afero.Fs
	root  string
	clock clock.PassiveClock
}

func New(fs afero.Fs, root string, clk clock.PassiveClock) *Ledger {
	return &Ledger{fs: fs, root: root, clock: clk}
}

// DefaultDataDirectory is $XDG_DATA_HOME/test-queue-runner, falling back to
// ~/.local/share/test-queue-runner.
func DefaultDataDirectory() (string, error) {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "test-queue-runner"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine the data directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "test-queue-runner"), nil
}

func (l *Ledger) Root() string {
	return l.root
}

// CreateRun allocates a new run named after the current time.
func (l *Ledger) CreateRun() (testqueueapi.RunHandle, error) {
	if err := l.fs.MkdirAll(l.root, 0755); err != nil {
		return testqueueapi.RunHandle{}, results.ForReason(results.ReasonLocalIO).WithError(err).Errorf("could not create data directory")
	}
	base := l.clock.Now().UTC().Format(runIDLayout)
	id := base
	for i := 1; ; i++ {
		// Mkdir fails if the directory exists, so two runs never share one
		err := l.fs.Mkdir(filepath.Join(l.root, id), 0755)
		if err == nil {
			break
		}
		if !errors.Is(err, fs.ErrExist) {
			return testqueueapi.RunHandle{}, results.ForReason(results.ReasonLocalIO).WithError(err).Errorf("could not create run directory")
		}
		id = fmt.Sprintf("%s.%d", base, i)
	}

	handle := testqueueapi.RunHandle{ID: id, DataDirectory: filepath.Join(l.root, id)}
	if err := l.writeJSON(filepath.Join(handle.DataDirectory, RunInfoFileName), handle); err != nil {
		return testqueueapi.RunHandle{}, err
	}
	return handle, nil
}

// Save writes the payload of the run, replacing any previous one.
func (l *Ledger) Save(handle testqueueapi.RunHandle, record testqueueapi.RunRecord) error {
	return l.writeJSON(filepath.Join(handle.DataDirectory, RunFileName), record)
}

// List returns every readable run, oldest first. Runs without readable
// metadata are logged and skipped.
func (l *Ledger) List() ([]testqueueapi.RunHandle, error) {
	entries, err := afero.ReadDir(l.fs, l.root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, results.ForReason(results.ReasonLocalIO).WithError(err).Errorf("could not list runs")
	}
	var handles []testqueueapi.RunHandle
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		handle, err := l.readHandle(entry.Name())
		if err != nil {
			logrus.WithError(err).WithField("run", entry.Name()).Warn("Skipping run with unreadable metadata.")
			continue
		}
		handles = append(handles, handle)
	}
	sort.Slice(handles, func(i, j int) bool {
		return handles[i].ID < handles[j].ID
	})
	return handles, nil
}

func (l *Ledger) Get(id string) (testqueueapi.RunHandle, error) {
	if id == "" || filepath.Base(id) != id {
		return testqueueapi.RunHandle{}, results.ForReason(results.ReasonLedger).Errorf("invalid run id %q", id)
	}
	handle, err := l.readHandle(id)
	if errors.Is(err, fs.ErrNotExist) {
		return testqueueapi.RunHandle{}, results.ForReason(results.ReasonLedger).Errorf("no run with id %s", id)
	}
	return handle, err
}

// Latest is the most recently created run.
func (l *Ledger) Latest() (testqueueapi.RunHandle, error) {
	handles, err := l.List()
	if err != nil {
		return testqueueapi.RunHandle{}, err
	}
	if len(handles) == 0 {
		return testqueueapi.RunHandle{}, results.ForReason(results.ReasonLedger).Errorf("no runs in %s", l.root)
	}
	return handles[len(handles)-1], nil
}

// Load reads the payload of the run. The jobs are reattached to the queue
// by handing the record to a monitor.
func (l *Ledger) Load(handle testqueueapi.RunHandle) (*testqueueapi.RunRecord, error) {
	record := &testqueueapi.RunRecord{}
	if err := l.readJSON(filepath.Join(handle.DataDirectory, RunFileName), record); err != nil {
		return nil, results.ForReason(results.ReasonLedger).WithError(err).Errorf("could not load run %s", handle.ID)
	}
	return record, nil
}

// MarkResults records that every job of the run has been downloaded.
func (l *Ledger) MarkResults(handle testqueueapi.RunHandle) (testqueueapi.RunHandle, error) {
	handle.HasResults = true
	if err := l.writeJSON(filepath.Join(handle.DataDirectory, RunInfoFileName), handle); err != nil {
		return handle, err
	}
	return handle, nil
}

// OpenLog opens the log of the run for appending.
func (l *Ledger) OpenLog(handle testqueueapi.RunHandle) (io.WriteCloser, error) {
	f, err := l.fs.OpenFile(filepath.Join(handle.DataDirectory, LogFileName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, results.ForReason(results.ReasonLocalIO).WithError(err).Errorf("could not open run log")
	}
	return f, nil
}

func (l *Ledger) readHandle(id string) (testqueueapi.RunHandle, error) {
	handle := testqueueapi.RunHandle{}
	directory := filepath.Join(l.root, id)
	if err := l.readJSON(filepath.Join(directory, RunInfoFileName), &handle); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return handle, err
		}
		return handle, results.ForReason(results.ReasonLedger).WithError(err).Errorf("could not read run %s", id)
	}
	if handle.ID != id {
		return handle, results.ForReason(results.ReasonLedger).Errorf("run directory %s holds run %s", id, handle.ID)
	}
	handle.DataDirectory = directory
	return handle, nil
}

func (l *Ledger) readJSON(path string, into interface{}) error {
	raw, err := afero.ReadFile(l.fs, path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return fmt.Errorf("could not parse %s: %w", path, err)
	}
	return nil
}

// writeJSON replaces the file through a rename so readers never see a
// partial record.
func (l *Ledger) writeJSON(path string, value interface{}) error {
	raw, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("could not marshal %s: %w", filepath.Base(path), err)
	}
	tmp := path + ".tmp"
	if err := afero.WriteFile(l.fs, tmp, raw, 0644); err != nil {
		return results.ForReason(results.ReasonLocalIO).WithError(err).Errorf("could not write %s", filepath.Base(path))
	}
	if err := l.fs.Rename(tmp, path); err != nil {
		return results.ForReason(results.ReasonLocalIO).WithError(err).Errorf("could not replace %s", filepath.Base(path))
	}
	return nil
}
