package analyzer

import (
	"context"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/openshift/test-queue-runner/pkg/testqueue/runmonitor"
	"github.com/openshift/test-queue-runner/pkg/testqueue/testqueuelib"
)

type analyzeFlags struct {
	Data    *testqueuelib.DataFlags
	Logging *testqueuelib.LoggingFlags

	RunID      string
	Partitions bool
	Verbose    bool
}

func newAnalyzeFlags() *analyzeFlags {
	return &analyzeFlags{
		Data:    testqueuelib.NewDataFlags(),
		Logging: testqueuelib.NewLoggingFlags(),
	}
}

func (f *analyzeFlags) BindFlags(fs *pflag.FlagSet) {
	f.Data.BindFlags(fs)
	f.Logging.BindFlags(fs)

	fs.BoolVar(&f.Partitions, "partitions", f.Partitions, "List the slowest types of the partitioned assemblies instead of the assemblies.")
	fs.BoolVar(&f.Verbose, "verbose", f.Verbose, "Print the full type names.")
}

func NewAnalyzeCommand() *cobra.Command {
	f := newAnalyzeFlags()

	cmd := &cobra.Command{
		Use:   "analyze <runId>",
		Short: "Show where the time of a run was spent",
		Long: `Show the execution time of every assembly of a run whose results were
downloaded, or with --partitions the slowest types of the partitioned assemblies.`,
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

func (f *analyzeFlags) Validate() error {
	return f.Logging.Validate()
}

func (f *analyzeFlags) ToOptions(ctx context.Context) (*AnalyzeOptions, error) {
	runs, err := f.Data.NewLedger()
	if err != nil {
		return nil, err
	}
	return &AnalyzeOptions{
		RunID:      f.RunID,
		Partitions: f.Partitions,
		Verbose:    f.Verbose,
		Analyzer:   &Analyzer{Ledger: runs},
		Out:        os.Stdout,
	}, nil
}

type AnalyzeOptions struct {
	RunID      string
	Partitions bool
	Verbose    bool
	Analyzer   *Analyzer
	Out        io.Writer
}

func (o *AnalyzeOptions) Run(ctx context.Context) error {
	handle, err := runmonitor.ResolveRun(o.Analyzer.Ledger, o.RunID)
	if err != nil {
		return err
	}
	if o.Partitions {
		types, err := o.Analyzer.SlowestTypes(handle, DefaultSlowestTypes)
		if err != nil {
			return err
		}
		WriteTypeTable(o.Out, types, o.Verbose)
		return nil
	}
	timings, err := o.Analyzer.AssemblyTimings(handle)
	if err != nil {
		return err
	}
	WriteAssemblyTable(o.Out, timings)
	return nil
}
