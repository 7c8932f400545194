package runlister

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/openshift/test-queue-runner/pkg/testqueue/ledger"
	"github.com/openshift/test-queue-runner/pkg/testqueue/testqueuelib"
)

type listFlags struct {
	Data    *testqueuelib.DataFlags
	Logging *testqueuelib.LoggingFlags
}

func newListFlags() *listFlags {
	return &listFlags{
		Data:    testqueuelib.NewDataFlags(),
		Logging: testqueuelib.NewLoggingFlags(),
	}
}

func (f *listFlags) BindFlags(fs *pflag.FlagSet) {
	f.Data.BindFlags(fs)
	f.Logging.BindFlags(fs)
}

func NewListCommand() *cobra.Command {
	f := newListFlags()

	cmd := &cobra.Command{
		Use:          "list",
		Short:        "List the recorded runs",
		Long:         `List the ids of the runs in the data directory, oldest first.`,
		SilenceUsage: true,

		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

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

		Args: testqueuelib.NoArgs,
	}

	f.BindFlags(cmd.Flags())

	return cmd
}

func (f *listFlags) Validate() error {
	return f.Logging.Validate()
}

func (f *listFlags) ToOptions(ctx context.Context) (*ListOptions, error) {
	runs, err := f.Data.NewLedger()
	if err != nil {
		return nil, err
	}
	return &ListOptions{
		Ledger: runs,
		Out:    os.Stdout,
	}, nil
}

type ListOptions struct {
	Ledger *ledger.Ledger
	Out    io.Writer
}

func (o *ListOptions) Run(ctx context.Context) error {
	handles, err := o.Ledger.List()
	if err != nil {
		return err
	}
	for _, handle := range handles {
		marker := ""
		if handle.HasResults {
			marker = " (results)"
		}
		fmt.Fprintf(o.Out, "%s%s\n", handle.ID, marker)
	}
	fmt.Fprintf(o.Out, "%d runs\n", len(handles))
	return nil
}
