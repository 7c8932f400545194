package testqueue

import (
	"bytes"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	"github.com/openshift/test-queue-runner/pkg/results"
)

func TestReportError(t *testing.T) {
	level := logrus.GetLevel()
	logrus.SetLevel(logrus.DebugLevel)
	defer logrus.SetLevel(level)

	testCases := []struct {
		name           string
		err            error
		expectedOut    string
		expectedReason string
	}{
		{
			name:           "plain error",
			err:            errors.New("no test assemblies found under /src"),
			expectedOut:    "no test assemblies found under /src\n",
			expectedReason: "unknown",
		},
		{
			name:           "chain of reasons",
			err:            results.ForReason(results.ReasonLedger).WithError(results.ForReason(results.ReasonLocalIO).Errorf("disk full")).Errorf("could not save run"),
			expectedOut:    "could not save run: disk full\n",
			expectedReason: "ledger:local_io",
		},
		{
			name: "aggregate",
			err: utilerrors.NewAggregate([]error{
				results.ForReason(results.ReasonTransientRemote).Errorf("service unavailable"),
				results.ForReason(results.ReasonAssemblyUnreadable).Errorf("not managed"),
			}),
			expectedOut:    "[service unavailable, not managed]\n",
			expectedReason: "transient_remote,assembly_unreadable",
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			hook := test.NewGlobal()
			defer hook.Reset()

			out := &bytes.Buffer{}
			ReportError(out, tc.err)
			assert.Equal(t, tc.expectedOut, out.String())
			require.NotNil(t, hook.LastEntry())
			assert.Equal(t, tc.expectedReason, hook.LastEntry().Data["reason"])
		})
	}
}
