package runlister

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	clocktesting "k8s.io/utils/clock/testing"

	"github.com/openshift/test-queue-runner/pkg/testqueue/ledger"
)

func TestListOptionsRun(t *testing.T) {
	created := time.Date(2026, 10, 19, 8, 30, 5, 0, time.UTC)
	clock := clocktesting.NewFakePassiveClock(created)
	runs := ledger.New(afero.NewMemMapFs(), "/data", clock)

	out := &strings.Builder{}
	require.NoError(t, (&ListOptions{Ledger: runs, Out: out}).Run(context.Background()))
	if diff := cmp.Diff("0 runs\n", out.String()); diff != "" {
		t.Errorf("unexpected output without runs: %s", diff)
	}

	first, err := runs.CreateRun()
	require.NoError(t, err)
	_, err = runs.MarkResults(first)
	require.NoError(t, err)
	clock.SetTime(created.Add(time.Hour))
	_, err = runs.CreateRun()
	require.NoError(t, err)

	out.Reset()
	require.NoError(t, (&ListOptions{Ledger: runs, Out: out}).Run(context.Background()))
	expected := "2026-10-19_08-30-05 (results)\n2026-10-19_09-30-05\n2 runs\n"
	if diff := cmp.Diff(expected, out.String()); diff != "" {
		t.Errorf("unexpected output: %s", diff)
	}
}

func TestListFlags(t *testing.T) {
	f := newListFlags()
	fs := pflag.NewFlagSet("list", pflag.ContinueOnError)
	f.BindFlags(fs)
	require.NoError(t, fs.Parse([]string{"--data-dir", "/data", "--log-level", "loud"}))

	assert.Equal(t, "/data", f.Data.DataDirectory)
	assert.Error(t, f.Validate())

	f.Logging.LogLevel = "debug"
	assert.NoError(t, f.Validate())
}
