package runbuilder

import (
	"archive/zip"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/openshift/test-queue-runner/pkg/clrmetadata/clrmetadatatest"
	"github.com/openshift/test-queue-runner/pkg/helix"
	"github.com/openshift/test-queue-runner/pkg/testhelper"
	"github.com/openshift/test-queue-runner/pkg/testqueue/contentstore"
	"github.com/openshift/test-queue-runner/pkg/testqueue/partition"
	"github.com/openshift/test-queue-runner/pkg/testqueue/testqueueapi"
)

func TestWriteFileContentIfDifferent(t *testing.T) {
	fs := afero.NewMemMapFs()
	steps := []struct {
		content       string
		expectedWrite bool
	}{
		{content: "first", expectedWrite: true},
		{content: "first", expectedWrite: false},
		{content: "second", expectedWrite: true},
		{content: "second", expectedWrite: false},
	}
	for i, step := range steps {
		written, err := WriteFileContentIfDifferent(fs, "/scripts/xunit.cmd", []byte(step.content))
		require.NoError(t, err)
		assert.Equal(t, step.expectedWrite, written, "step %d", i)
		raw, err := afero.ReadFile(fs, "/scripts/xunit.cmd")
		require.NoError(t, err)
		assert.Equal(t, step.content, string(raw), "step %d", i)
	}
}

func TestScripts(t *testing.T) {
	testCases := []struct {
		name     string
		script   []byte
		expected string
	}{
		{
			name:     "flat without shared modules",
			script:   flatScript("Foo.UnitTests.dll", nil),
			expected: ".\\xunit.console.exe Foo.UnitTests.dll -html %HELIX_WORKITEM_UPLOAD_ROOT%\\Foo.UnitTests.dll.html -xml %HELIX_WORKITEM_UPLOAD_ROOT%\\Foo.UnitTests.dll.xml\r\n",
		},
		{
			name:   "flat restores shared modules in name order",
			script: flatScript("Foo.UnitTests.dll", map[string]string{"b.dll": "id-b", "a.dll": "id-a"}),
			expected: "copy %HELIX_CORRELATION_PAYLOAD%\\id-a a.dll\r\n" +
				"copy %HELIX_CORRELATION_PAYLOAD%\\id-b b.dll\r\n" +
				".\\xunit.console.exe Foo.UnitTests.dll -html %HELIX_WORKITEM_UPLOAD_ROOT%\\Foo.UnitTests.dll.html -xml %HELIX_WORKITEM_UPLOAD_ROOT%\\Foo.UnitTests.dll.xml\r\n",
		},
		{
			name:   "partition",
			script: partitionScript("Foo.UnitTests.dll", "007", "-class A -class B"),
			expected: "cd %HELIX_CORRELATION_PAYLOAD%\r\n" +
				".\\xunit.console.exe Foo.UnitTests.dll -html %HELIX_WORKITEM_UPLOAD_ROOT%\\Foo.UnitTests.dll.007.html -xml %HELIX_WORKITEM_UPLOAD_ROOT%\\Foo.UnitTests.dll.007.xml -class A -class B\r\n",
		},
		{
			name:   "whole assembly partition",
			script: partitionScript("Foo.UnitTests.dll", "000", ""),
			expected: "cd %HELIX_CORRELATION_PAYLOAD%\r\n" +
				".\\xunit.console.exe Foo.UnitTests.dll -html %HELIX_WORKITEM_UPLOAD_ROOT%\\Foo.UnitTests.dll.000.html -xml %HELIX_WORKITEM_UPLOAD_ROOT%\\Foo.UnitTests.dll.000.xml\r\n",
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if diff := cmp.Diff(tc.expected, string(tc.script)); diff != "" {
				t.Errorf("unexpected script: %s", diff)
			}
		})
	}
}

var sharedID = uuid.MustParse("0f8fad5b-d9cb-469f-a165-70867728950e")

// layout writes two flat assemblies sharing a module, one partitioned
// assembly and a runner directory.
func layout(t *testing.T) (root string, flat []string, big string) {
	t.Helper()
	root = t.TempDir()
	testhelper.WriteFiles(t, root, map[string]string{
		"a/sub/Data.txt":                  "data",
		"runner/xunit.console.exe":        "runner",
		"runner/xunit.runner.utility.dll": "utility",
		"b/xunit.console.exe":             "older runner",
	})
	for path, id := range map[string]uuid.UUID{
		"a/A.UnitTests.dll":   uuid.New(),
		"a/Shared.dll":        sharedID,
		"b/B.UnitTests.dll":   uuid.New(),
		"b/Shared.dll":        sharedID,
		"c/Big.UnitTests.dll": uuid.New(),
	} {
		require.NoError(t, os.MkdirAll(filepath.Join(root, filepath.Dir(path)), 0755))
		require.NoError(t, clrmetadatatest.WriteManagedImage(filepath.Join(root, path), id))
	}
	big = filepath.Join(root, "c", "Big.UnitTests.dll")
	require.NoError(t, partition.WriteManifest(big, []partition.TestClass{
		{Name: "Big.A", Methods: []string{"One", "Two"}},
		{Name: "Big.B", Methods: []string{"One"}},
		{Name: "Big.C", Methods: []string{"One"}},
	}))
	flat = []string{filepath.Join(root, "a", "A.UnitTests.dll"), filepath.Join(root, "b", "B.UnitTests.dll")}
	return root, flat, big
}

func newBuilder(client helix.Client, runnerDir string) *Builder {
	return &Builder{
		Client:                client,
		QueueID:               "Windows.10.Amd64.Open",
		PartitionedAssemblies: sets.New[string]("Big.UnitTests.dll"),
		Scheduler:             partition.NewScheduler(2),
		RunnerDirectory:       runnerDir,
		WorkItemTimeout:       15 * time.Minute,
		Creator:               "tester",
		FS:                    afero.NewOsFs(),
		NewStore:              contentstore.New,
	}
}

// submission is what a submitted job carried while its payloads existed.
type submission struct {
	job              helix.JobDefinition
	correlationFiles []string
	archives         map[string]map[string]string
	scripts          map[string]string
}

func listDir(t *testing.T, dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Errorf("could not list %s: %v", dir, err)
		return nil
	}
	var names []string
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	return names
}

func readArchive(t *testing.T, path string) map[string]string {
	archive, err := zip.OpenReader(path)
	if err != nil {
		t.Errorf("could not open %s: %v", path, err)
		return nil
	}
	defer archive.Close()
	files := map[string]string{}
	for _, file := range archive.File {
		r, err := file.Open()
		if err != nil {
			t.Errorf("could not open %s in %s: %v", file.Name, path, err)
			continue
		}
		raw, err := io.ReadAll(r)
		r.Close()
		if err != nil {
			t.Errorf("could not read %s in %s: %v", file.Name, path, err)
		}
		files[file.Name] = string(raw)
	}
	return files
}

func capture(t *testing.T, lock *sync.Mutex, submissions map[string]*submission) func(context.Context, *helix.JobDefinition) (*helix.SentJob, error) {
	return func(_ context.Context, job *helix.JobDefinition) (*helix.SentJob, error) {
		s := &submission{job: *job, archives: map[string]map[string]string{}, scripts: map[string]string{}}
		s.correlationFiles = listDir(t, job.CorrelationPayloads[0])
		for _, item := range job.WorkItems {
			if strings.HasSuffix(item.PayloadPath, ".zip") {
				s.archives[item.Name] = readArchive(t, item.PayloadPath)
				continue
			}
			for _, name := range listDir(t, item.PayloadPath) {
				raw, err := os.ReadFile(filepath.Join(item.PayloadPath, name))
				if err != nil {
					t.Errorf("could not read script %s: %v", name, err)
				}
				s.scripts[name] = string(raw)
			}
		}
		id := job.WorkItems[0].Name
		lock.Lock()
		submissions[id] = s
		lock.Unlock()
		return &helix.SentJob{CorrelationID: "job-" + id, ResultsContainerURI: "gs://results/" + id, ResultsContainerReadSAS: "?token=t"}, nil
	}
}

func TestBuildRun(t *testing.T) {
	root, flat, big := layout(t)
	ctrl := gomock.NewController(t)
	client := helix.NewMockClient(ctrl)

	lock := &sync.Mutex{}
	submissions := map[string]*submission{}
	client.EXPECT().Submit(gomock.Any(), gomock.Any()).DoAndReturn(capture(t, lock, submissions)).Times(2)

	builder := newBuilder(client, filepath.Join(root, "runner"))
	record, err := builder.BuildRun(context.Background(), []string{flat[0], big, flat[1]})
	require.NoError(t, err)

	expected := &testqueueapi.RunRecord{
		QueueID: "Windows.10.Amd64.Open",
		Jobs: []testqueueapi.JobRecord{
			{DisplayName: "Big.UnitTests.dll", CorrelationID: "job-Big.UnitTests.000", ContainerURI: "gs://results/Big.UnitTests.000?token=t", IsPartitioned: true, WorkItemNames: []string{"Big.UnitTests.000", "Big.UnitTests.001"}},
			{DisplayName: "Multiple", CorrelationID: "job-A.UnitTests", ContainerURI: "gs://results/A.UnitTests?token=t", WorkItemNames: []string{"A.UnitTests", "B.UnitTests"}},
		},
	}
	if diff := cmp.Diff(expected, record); diff != "" {
		t.Errorf("unexpected record: %s", diff)
	}

	flatJob := submissions["A.UnitTests"]
	require.NotNil(t, flatJob)
	assert.Equal(t, JobType, flatJob.job.Type)
	assert.Equal(t, Source, flatJob.job.Source)
	assert.Equal(t, "tester", flatJob.job.Creator)
	assert.Equal(t, []string{sharedID.String()}, flatJob.correlationFiles)
	for _, item := range flatJob.job.WorkItems {
		assert.Equal(t, "cmd /c xunit.cmd", item.Command)
		assert.Equal(t, 15*time.Minute, item.Timeout)
	}

	a := flatJob.archives["A.UnitTests"]
	var names []string
	for name := range a {
		names = append(names, name)
	}
	sort.Strings(names)
	if diff := cmp.Diff([]string{"A.UnitTests.dll", "sub/Data.txt", "xunit.cmd", "xunit.console.exe", "xunit.runner.utility.dll"}, names); diff != "" {
		t.Errorf("unexpected archive of A: %s", diff)
	}
	expectedScript := "copy %HELIX_CORRELATION_PAYLOAD%\\" + sharedID.String() + " Shared.dll\r\n" +
		".\\xunit.console.exe A.UnitTests.dll -html %HELIX_WORKITEM_UPLOAD_ROOT%\\A.UnitTests.dll.html -xml %HELIX_WORKITEM_UPLOAD_ROOT%\\A.UnitTests.dll.xml\r\n"
	if diff := cmp.Diff(expectedScript, a["xunit.cmd"]); diff != "" {
		t.Errorf("unexpected script of A: %s", diff)
	}
	assert.Equal(t, "older runner", flatJob.archives["B.UnitTests"]["xunit.console.exe"], "an existing runner must not be replaced")

	partitioned := submissions["Big.UnitTests.000"]
	require.NotNil(t, partitioned)
	assert.Equal(t, []string{filepath.Join(root, "c")}, partitioned.job.CorrelationPayloads)
	assert.Contains(t, partitioned.correlationFiles, "xunit.console.exe")
	assert.Equal(t, "cmd /c xunit-001.cmd", partitioned.job.WorkItems[1].Command)
	assert.Equal(t, map[string]string{
		"xunit-000.cmd": "cd %HELIX_CORRELATION_PAYLOAD%\r\n.\\xunit.console.exe Big.UnitTests.dll -html %HELIX_WORKITEM_UPLOAD_ROOT%\\Big.UnitTests.dll.000.html -xml %HELIX_WORKITEM_UPLOAD_ROOT%\\Big.UnitTests.dll.000.xml -class Big.A\r\n",
		"xunit-001.cmd": "cd %HELIX_CORRELATION_PAYLOAD%\r\n.\\xunit.console.exe Big.UnitTests.dll -html %HELIX_WORKITEM_UPLOAD_ROOT%\\Big.UnitTests.dll.001.html -xml %HELIX_WORKITEM_UPLOAD_ROOT%\\Big.UnitTests.dll.001.xml -class Big.B -class Big.C\r\n",
	}, partitioned.scripts)

	for _, dir := range []string{"a", "b", "c"} {
		for _, name := range listDir(t, filepath.Join(root, dir)) {
			assert.False(t, strings.HasPrefix(name, "correlation-"), "temporary directory %s left in %s", name, dir)
		}
	}
}

func TestBuildAssemblyRun(t *testing.T) {
	_, _, big := layout(t)
	testCases := []struct {
		name          string
		partitioned   bool
		expectedItems []string
	}{
		{name: "partitioned", partitioned: true, expectedItems: []string{"Big.UnitTests.000", "Big.UnitTests.001"}},
		{name: "serial", partitioned: false, expectedItems: []string{"Big.UnitTests"}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			client := helix.NewMockClient(ctrl)
			client.EXPECT().Submit(gomock.Any(), gomock.Any()).Return(&helix.SentJob{CorrelationID: "c"}, nil)

			record, err := newBuilder(client, "").BuildAssemblyRun(context.Background(), big, tc.partitioned)
			require.NoError(t, err)
			require.Len(t, record.Jobs, 1)
			assert.Equal(t, tc.partitioned, record.Jobs[0].IsPartitioned)
			assert.Equal(t, tc.expectedItems, record.Jobs[0].WorkItemNames)
		})
	}
}

func TestBuildRunFailures(t *testing.T) {
	root, flat, big := layout(t)
	testCases := []struct {
		name   string
		paths  []string
		submit bool
	}{
		{name: "submission fails", paths: []string{flat[0], big}, submit: true},
		{name: "partitioned assembly is not managed", paths: []string{filepath.Join(root, "runner", "xunit.runner.utility.dll")}},
		{name: "nothing to queue"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			client := helix.NewMockClient(ctrl)
			if tc.submit {
				client.EXPECT().Submit(gomock.Any(), gomock.Any()).Return(nil, errors.New("service unavailable")).AnyTimes()
			}
			builder := newBuilder(client, "")
			builder.PartitionedAssemblies.Insert("xunit.runner.utility.dll")
			if _, err := builder.BuildRun(context.Background(), tc.paths); err == nil {
				t.Error("expected an error")
			}
		})
	}
	for _, name := range listDir(t, filepath.Join(root, "a")) {
		assert.False(t, strings.HasPrefix(name, "correlation-"), "temporary directory %s left behind", name)
	}
}
