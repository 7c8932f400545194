package runmonitor

import (
	"context"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/openshift/test-queue-runner/pkg/testqueue/ledger"
	"github.com/openshift/test-queue-runner/pkg/testqueue/testqueueapi"
	"github.com/openshift/test-queue-runner/pkg/testqueue/testqueuelib"
)

// LatestRunID selects the most recent run.
const LatestRunID = "latest"

type waitFlags struct {
	Data    *testqueuelib.DataFlags
	Helix   *testqueuelib.HelixFlags
	Storage *testqueuelib.StorageFlags
	Logging *testqueuelib.LoggingFlags

	RunID string
}

func newWaitFlags() *waitFlags {
	return &waitFlags{
		Data:    testqueuelib.NewDataFlags(),
		Helix:   testqueuelib.NewHelixFlags(),
		Storage: testqueuelib.NewStorageFlags(),
		Logging: testqueuelib.NewLoggingFlags(),
	}
}

func (f *waitFlags) BindFlags(fs *pflag.FlagSet) {
	f.Data.BindFlags(fs)
	f.Helix.BindFlags(fs)
	f.Storage.BindFlags(fs)
	f.Logging.BindFlags(fs)
}

func NewWaitCommand() *cobra.Command {
	f := newWaitFlags()

	cmd := &cobra.Command{
		Use:   "wait <runId>",
		Short: "Wait for the jobs of a run and summarize the results",
		Long: `Wait for every job of a run to finish, download the reports of the work items
into the run directory and print the totals. A run whose results were downloaded
before is only summarized. Use "latest" for the most recent run.`,
		SilenceUsage: true,

		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			f.RunID = args[0]

			if err := f.Validate(); err != nil {
				logrus.WithError(err).Fatal("Flags are invalid")
			}
			f.Logging.Apply()
			o, err := f.ToOptions(ctx)
			if err != nil {
				logrus.WithError(err).Fatal("Failed to build runtime options")
			}

			return o.Run(ctx)
		},

		Args: testqueuelib.RunIDArg,
	}

	f.BindFlags(cmd.Flags())

	return cmd
}

// Validate checks to see if the user-input is likely to produce functional runtime options
func (f *waitFlags) Validate() error {
	if err := f.Helix.Validate(); err != nil {
		return err
	}
	return f.Logging.Validate()
}

// ToOptions goes from the user input to the runtime values need to run the command.
func (f *waitFlags) ToOptions(ctx context.Context) (*WaitOptions, error) {
	runs, err := f.Data.NewLedger()
	if err != nil {
		return nil, err
	}
	client, err := f.Helix.NewClient(nil)
	if err != nil {
		return nil, err
	}
	return &WaitOptions{
		RunID:   f.RunID,
		Ledger:  runs,
		Monitor: NewMonitor(client, f.Storage.NewOpener(), runs, NewStatusRenderer(os.Stdout), os.Stdout),
	}, nil
}

type WaitOptions struct {
	RunID   string
	Ledger  *ledger.Ledger
	Monitor *Monitor
}

func (o *WaitOptions) Run(ctx context.Context) error {
	handle, err := ResolveRun(o.Ledger, o.RunID)
	if err != nil {
		return err
	}
	stopTee, err := testqueuelib.TeeRunLog(o.Ledger, handle)
	if err != nil {
		return err
	}
	defer stopTee()

	logrus.WithField("run", handle.ID).Info("Waiting for the run.")
	_, err = o.Monitor.Wait(ctx, handle)
	return err
}

// ResolveRun returns the run with the id, or the latest run.
func ResolveRun(runs *ledger.Ledger, id string) (testqueueapi.RunHandle, error) {
	if id == LatestRunID {
		return runs.Latest()
	}
	return runs.Get(id)
}
