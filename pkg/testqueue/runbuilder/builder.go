// Package runbuilder turns test assemblies into jobs on the queue.
package runbuilder

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/openshift/test-queue-runner/pkg/blobstore"
	"github.com/openshift/test-queue-runner/pkg/helix"
	"github.com/openshift/test-queue-runner/pkg/results"
	"github.com/openshift/test-queue-runner/pkg/testqueue/contentstore"
	"github.com/openshift/test-queue-runner/pkg/testqueue/partition"
	"github.com/openshift/test-queue-runner/pkg/testqueue/testqueueapi"
)

const (
	JobType = "test/unit"
	Source  = "RoslynUnitTests"

	// FlatJobDisplayName names the job holding every assembly that is not
	// partitioned.
	FlatJobDisplayName = "Multiple"
)

// Builder submits the jobs of a run.
type Builder struct {
	Client  helix.Client
	QueueID string

	// PartitionedAssemblies holds the file names of the assemblies that are
	// split across work items.
	PartitionedAssemblies sets.Set[string]
	Scheduler             *partition.Scheduler
	// RunnerDirectory holds the console runner copied into every assembly
	// directory. Nothing is copied when it is empty.
	RunnerDirectory string
	WorkItemTimeout time.Duration
	Creator         string

	// FS holds the generated scripts. The payload directories are archived
	// from the local disk, so it must be backed by it.
	FS       afero.Fs
	NewStore func() *contentstore.Store

	// runnerLock serializes the runner copies into shared directories
	runnerLock sync.Mutex
}

// BuildRun submits one job per partitioned assembly and one job holding all
// other assemblies. The jobs are submitted concurrently; the first failure
// cancels the remaining submissions.
func (b *Builder) BuildRun(ctx context.Context, assemblyPaths []string) (*testqueueapi.RunRecord, error) {
	var partitioned, flat []string
	for _, assemblyPath := range assemblyPaths {
		if b.PartitionedAssemblies.Has(filepath.Base(assemblyPath)) {
			partitioned = append(partitioned, assemblyPath)
		} else {
			flat = append(flat, assemblyPath)
		}
	}
	if len(partitioned)+len(flat) == 0 {
		return nil, fmt.Errorf("no test assemblies to queue")
	}

	jobs := make([]testqueueapi.JobRecord, len(partitioned), len(partitioned)+1)
	if len(flat) > 0 {
		jobs = jobs[:len(partitioned)+1]
	}
	g, ctx := errgroup.WithContext(ctx)
	for i, assemblyPath := range partitioned {
		g.Go(func() error {
			job, err := b.queuePartitioned(ctx, assemblyPath)
			if err != nil {
				return err
			}
			jobs[i] = *job
			return nil
		})
	}
	if len(flat) > 0 {
		g.Go(func() error {
			job, err := b.queueFlat(ctx, flat)
			if err != nil {
				return err
			}
			jobs[len(partitioned)] = *job
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &testqueueapi.RunRecord{QueueID: b.QueueID, Jobs: jobs}, nil
}

// BuildAssemblyRun submits a run of a single assembly.
func (b *Builder) BuildAssemblyRun(ctx context.Context, assemblyPath string, partitioned bool) (*testqueueapi.RunRecord, error) {
	var job *testqueueapi.JobRecord
	var err error
	if partitioned {
		job, err = b.queuePartitioned(ctx, assemblyPath)
	} else {
		job, err = b.queueFlat(ctx, []string{assemblyPath})
	}
	if err != nil {
		return nil, err
	}
	return &testqueueapi.RunRecord{QueueID: b.QueueID, Jobs: []testqueueapi.JobRecord{*job}}, nil
}

func (b *Builder) newJob() *helix.JobDefinition {
	return &helix.JobDefinition{
		Type:        JobType,
		TargetQueue: b.QueueID,
		Source:      Source,
		Creator:     b.Creator,
	}
}

// queueFlat submits one work item per assembly. Modules that several of the
// assembly directories hold are sent once, in the correlation payload, and
// copied into place by the work item script.
func (b *Builder) queueFlat(ctx context.Context, assemblyPaths []string) (*testqueueapi.JobRecord, error) {
	logger := logrus.WithField("job", FlatJobDisplayName)

	directories := sets.New[string]()
	var orderedDirectories []string
	for _, assemblyPath := range assemblyPaths {
		dir := filepath.Dir(assemblyPath)
		if !directories.Has(dir) {
			directories.Insert(dir)
			orderedDirectories = append(orderedDirectories, dir)
		}
	}

	// the runner is shared like any other module
	for _, dir := range orderedDirectories {
		if err := b.prepareRunner(dir); err != nil {
			return nil, err
		}
	}
	store := b.NewStore()
	if err := store.Scan(orderedDirectories...); err != nil {
		logger.WithError(err).Warn("Some assembly directories could not be scanned, their modules are sent with each work item.")
	}

	// next to the assemblies so the shared payload can be hard linked
	correlationDir, err := os.MkdirTemp(orderedDirectories[0], "correlation-")
	if err != nil {
		return nil, results.ForReason(results.ReasonLocalIO).WithError(err).Errorf("could not create correlation payload directory")
	}
	defer removeAll(correlationDir)
	if err := store.BuildSharedPayload(correlationDir); err != nil {
		return nil, err
	}

	archiveDir, err := os.MkdirTemp("", "work-items-")
	if err != nil {
		return nil, results.ForReason(results.ReasonLocalIO).WithError(err).Errorf("could not create work item directory")
	}
	defer removeAll(archiveDir)

	job := b.newJob()
	job.CorrelationPayloads = []string{correlationDir}
	var names []string
	for _, assemblyPath := range assemblyPaths {
		item, err := b.flatWorkItem(assemblyPath, store, correlationDir, archiveDir)
		if err != nil {
			return nil, err
		}
		job.WorkItems = append(job.WorkItems, *item)
		names = append(names, item.Name)
	}

	logger.WithField("work-items", len(names)).Info("Submitting job.")
	sent, err := b.Client.Submit(ctx, job)
	if err != nil {
		return nil, fmt.Errorf("could not submit %s: %w", FlatJobDisplayName, err)
	}
	logger.WithField("correlation-id", sent.CorrelationID).Info("Submitted job.")
	return &testqueueapi.JobRecord{
		DisplayName:   FlatJobDisplayName,
		CorrelationID: sent.CorrelationID,
		ContainerURI:  sent.ResultsLocation(),
		IsPartitioned: false,
		WorkItemNames: names,
	}, nil
}

func (b *Builder) flatWorkItem(assemblyPath string, store *contentstore.Store, correlationDir, archiveDir string) (*helix.WorkItem, error) {
	assemblyDir := filepath.Dir(assemblyPath)
	assemblyFileName := filepath.Base(assemblyPath)

	shared := map[string]string{}
	var entries []blobstore.ArchiveEntry
	err := filepath.Walk(assemblyDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if path == correlationDir {
				return filepath.SkipDir
			}
			return nil
		}
		relative, err := filepath.Rel(assemblyDir, path)
		if err != nil {
			return err
		}
		if relative == flatScriptName {
			return nil
		}
		// the script copies into the work item root only
		if filepath.Dir(relative) == "." {
			if sharedName, ok := store.Resolve(path); ok {
				shared[relative] = sharedName
				return nil
			}
		}
		entries = append(entries, blobstore.ArchiveEntry{Name: filepath.ToSlash(relative), Path: path})
		return nil
	})
	if err != nil {
		return nil, results.ForReason(results.ReasonLocalIO).WithError(err).Errorf("could not list %s", assemblyDir)
	}

	scriptPath := filepath.Join(assemblyDir, flatScriptName)
	if _, err := WriteFileContentIfDifferent(b.FS, scriptPath, flatScript(assemblyFileName, shared)); err != nil {
		return nil, results.ForReason(results.ReasonLocalIO).ForError(err)
	}
	entries = append(entries, blobstore.ArchiveEntry{Name: flatScriptName, Path: scriptPath})

	name := strings.TrimSuffix(assemblyFileName, filepath.Ext(assemblyFileName))
	archivePath := filepath.Join(archiveDir, name+".zip")
	if err := writeArchive(archivePath, entries); err != nil {
		return nil, results.ForReason(results.ReasonLocalIO).WithError(err).Errorf("could not archive %s", assemblyFileName)
	}
	logrus.WithField("assembly", assemblyFileName).Debugf("Archived %d files, %d modules come from the correlation payload.", len(entries), len(shared))
	return &helix.WorkItem{
		Name:        name,
		Command:     scriptCommand(flatScriptName),
		PayloadPath: archivePath,
		Timeout:     b.WorkItemTimeout,
	}, nil
}

// queuePartitioned submits one work item per partition of the assembly. The
// assembly directory is the correlation payload; the work items only carry
// their scripts.
func (b *Builder) queuePartitioned(ctx context.Context, assemblyPath string) (*testqueueapi.JobRecord, error) {
	assemblyDir := filepath.Dir(assemblyPath)
	assemblyFileName := filepath.Base(assemblyPath)
	logger := logrus.WithField("job", assemblyFileName)

	partitions, err := b.Scheduler.Schedule(assemblyPath)
	if err != nil {
		return nil, err
	}

	batchDir, err := os.MkdirTemp("", "partitions-")
	if err != nil {
		return nil, results.ForReason(results.ReasonLocalIO).WithError(err).Errorf("could not create partition directory")
	}
	defer removeAll(batchDir)

	if err := b.prepareRunner(assemblyDir); err != nil {
		return nil, err
	}

	job := b.newJob()
	job.CorrelationPayloads = []string{assemblyDir}
	baseName := strings.TrimSuffix(assemblyFileName, filepath.Ext(assemblyFileName))
	var names []string
	for i, info := range partitions {
		id := partitionID(i)
		scriptName := partitionScriptName(id)
		if _, err := WriteFileContentIfDifferent(b.FS, filepath.Join(batchDir, scriptName), partitionScript(assemblyFileName, id, info.Arguments)); err != nil {
			return nil, results.ForReason(results.ReasonLocalIO).ForError(err)
		}
		name := baseName + "." + id
		job.WorkItems = append(job.WorkItems, helix.WorkItem{
			Name:        name,
			Command:     scriptCommand(scriptName),
			PayloadPath: batchDir,
			Timeout:     b.WorkItemTimeout,
		})
		names = append(names, name)
	}

	logger.WithField("partitions", len(partitions)).Info("Submitting job.")
	sent, err := b.Client.Submit(ctx, job)
	if err != nil {
		return nil, fmt.Errorf("could not submit %s: %w", assemblyFileName, err)
	}
	logger.WithField("correlation-id", sent.CorrelationID).Info("Submitted job.")
	return &testqueueapi.JobRecord{
		DisplayName:   assemblyFileName,
		CorrelationID: sent.CorrelationID,
		ContainerURI:  sent.ResultsLocation(),
		IsPartitioned: true,
		WorkItemNames: names,
	}, nil
}

// prepareRunner copies the runner files the directory does not hold yet.
func (b *Builder) prepareRunner(dir string) error {
	if len(b.RunnerDirectory) == 0 {
		return nil
	}
	b.runnerLock.Lock()
	defer b.runnerLock.Unlock()

	entries, err := os.ReadDir(b.RunnerDirectory)
	if err != nil {
		return results.ForReason(results.ReasonLocalIO).WithError(err).Errorf("could not list runner directory")
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		destination := filepath.Join(dir, entry.Name())
		if _, err := os.Stat(destination); err == nil {
			continue
		}
		if err := copyFile(filepath.Join(b.RunnerDirectory, entry.Name()), destination); err != nil {
			return results.ForReason(results.ReasonLocalIO).WithError(err).Errorf("could not copy the runner into %s", dir)
		}
	}
	return nil
}

func copyFile(source, destination string) error {
	in, err := os.Open(source)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(destination)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func writeArchive(path string, entries []blobstore.ArchiveEntry) error {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := blobstore.WriteArchive(out, entries); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func removeAll(dir string) {
	if err := os.RemoveAll(dir); err != nil {
		logrus.WithError(err).WithField("dir", dir).Warn("Could not remove temporary directory.")
	}
}
