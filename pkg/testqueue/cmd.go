package testqueue

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/openshift/test-queue-runner/pkg/results"
	"github.com/openshift/test-queue-runner/pkg/testqueue/analyzer"
	"github.com/openshift/test-queue-runner/pkg/testqueue/runbuilder"
	"github.com/openshift/test-queue-runner/pkg/testqueue/runlister"
	"github.com/openshift/test-queue-runner/pkg/testqueue/runmonitor"
)

// Typical usage
// 1. queue the unit test assemblies of a build, the run is recorded in the data directory
// 2. wait for the run; the reports are downloaded into the run directory and summarized
// 3. analyze the run to find the assemblies and types worth partitioning differently

func NewTestQueueCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:  "test-queue-runner",
		Long: `Commands to run unit test assemblies on a remote test queue`,
		// errors of the commands are printed by the caller
		SilenceErrors: true,
	}

	cmd.AddCommand(runbuilder.NewQueueCommand())
	cmd.AddCommand(runlister.NewListCommand())
	cmd.AddCommand(runmonitor.NewWaitCommand())
	cmd.AddCommand(analyzer.NewAnalyzeCommand())

	return cmd
}

// ReportError prints the message of a failed command and logs the reasons
// it failed for.
func ReportError(out io.Writer, err error) {
	err = results.DefaultReason(err)
	logrus.WithField("reason", results.FullReason(err)).Debug("Command failed.")
	fmt.Fprintln(out, err.Error())
}
