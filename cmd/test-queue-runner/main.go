// The purpose of this tool is to queue unit test assemblies on a remote
// test queue, wait for them and summarize their reports.
package main

import (
	goflag "flag"
	"os"

	"github.com/spf13/pflag"

	"github.com/openshift/test-queue-runner/pkg/testqueue"
)

func main() {
	cmd := testqueue.NewTestQueueCommand()
	pflag.CommandLine.AddGoFlagSet(goflag.CommandLine)

	if err := cmd.Execute(); err != nil {
		testqueue.ReportError(os.Stdout, err)
		os.Exit(1)
	}
}
