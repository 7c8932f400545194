package runbuilder

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"k8s.io/utils/clock"

	"github.com/openshift/test-queue-runner/pkg/helix"
	"github.com/openshift/test-queue-runner/pkg/testqueue/contentstore"
	"github.com/openshift/test-queue-runner/pkg/testqueue/ledger"
	"github.com/openshift/test-queue-runner/pkg/testqueue/partition"
	"github.com/openshift/test-queue-runner/pkg/testqueue/runmonitor"
	"github.com/openshift/test-queue-runner/pkg/testqueue/testqueueapi"
	"github.com/openshift/test-queue-runner/pkg/testqueue/testqueuelib"
)

type queueFlags struct {
	Config  *testqueuelib.ConfigFlags
	Data    *testqueuelib.DataFlags
	Helix   *testqueuelib.HelixFlags
	Storage *testqueuelib.StorageFlags
	Logging *testqueuelib.LoggingFlags

	Root     string
	Assembly string
	Serial   bool
	Wait     bool
}

func newQueueFlags() *queueFlags {
	return &queueFlags{
		Config:  testqueuelib.NewConfigFlags(),
		Data:    testqueuelib.NewDataFlags(),
		Helix:   testqueuelib.NewHelixFlags(),
		Storage: testqueuelib.NewStorageFlags(),
		Logging: testqueuelib.NewLoggingFlags(),
		Root:    ".",
	}
}

func (f *queueFlags) BindFlags(fs *pflag.FlagSet) {
	f.Config.BindFlags(fs)
	f.Data.BindFlags(fs)
	f.Helix.BindFlags(fs)
	f.Storage.BindFlags(fs)
	f.Logging.BindFlags(fs)

	fs.StringVar(&f.Root, "root", f.Root, "The source root the assembly globs are relative to.")
	fs.StringVar(&f.Assembly, "assembly", f.Assembly, "Queue only this test assembly, partitioned unless --serial is set.")
	fs.BoolVar(&f.Serial, "serial", f.Serial, "Queue the assembly of --assembly as a single work item instead of partitioning it.")
	fs.BoolVar(&f.Wait, "wait", f.Wait, "Wait for the run after queueing it.")
}

func NewQueueCommand() *cobra.Command {
	f := newQueueFlags()

	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Queue the unit test assemblies",
		Long: `Queue the unit test assemblies found under the source root, or a single assembly,
as jobs on the test queue. The run is recorded in the data directory and can be
waited for later.`,
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

// Validate checks to see if the user-input is likely to produce functional runtime options
func (f *queueFlags) Validate() error {
	if f.Serial && len(f.Assembly) == 0 {
		return fmt.Errorf("--serial requires --assembly")
	}
	if len(f.Assembly) == 0 && len(f.Root) == 0 {
		return fmt.Errorf("missing --root")
	}
	if err := f.Helix.Validate(); err != nil {
		return err
	}
	if err := f.Storage.Validate(); err != nil {
		return err
	}
	return f.Logging.Validate()
}

// ToOptions goes from the user input to the runtime values need to run the command.
func (f *queueFlags) ToOptions(ctx context.Context) (*QueueOptions, error) {
	config, err := f.Config.Load()
	if err != nil {
		return nil, err
	}
	runs, err := f.Data.NewLedger()
	if err != nil {
		return nil, err
	}
	opener := f.Storage.NewOpener()
	uploader, err := f.Storage.NewUploader(ctx, opener)
	if err != nil {
		return nil, err
	}
	client, err := f.Helix.NewClient(uploader)
	if err != nil {
		return nil, err
	}

	scheduler := partition.NewScheduler(config.MethodLimit)
	o := &QueueOptions{
		Root:     f.Root,
		Assembly: f.Assembly,
		Serial:   f.Serial,
		Config:   config,
		Client:   client,
		Ledger:   runs,
		Out:      os.Stdout,
		Clock:    clock.RealClock{},
		Builder: &Builder{
			Client:                client,
			PartitionedAssemblies: config.PartitionedSet(),
			Scheduler:             scheduler,
			RunnerDirectory:       config.RunnerDirectory,
			WorkItemTimeout:       config.WorkItemTimeout.Duration,
			Creator:               creator(),
			FS:                    afero.NewOsFs(),
			NewStore:              contentstore.New,
		},
	}
	if f.Wait {
		o.Monitor = runmonitor.NewMonitor(client, opener, runs, runmonitor.NewStatusRenderer(os.Stdout), os.Stdout)
	}
	return o, nil
}

func creator() string {
	for _, env := range []string{"USERNAME", "USER"} {
		if name := os.Getenv(env); len(name) > 0 {
			return name
		}
	}
	return "unknown"
}

type QueueOptions struct {
	Root     string
	Assembly string
	Serial   bool
	Config   *testqueuelib.Config

	Client  helix.Client
	Builder *Builder
	Ledger  *ledger.Ledger
	// Monitor waits for the run once it was queued when set.
	Monitor *runmonitor.Monitor
	Out     io.Writer
	Clock   clock.PassiveClock
}

func (o *QueueOptions) Run(ctx context.Context) error {
	assemblies, err := o.assemblies()
	if err != nil {
		return err
	}

	queue, err := helix.FindQueue(ctx, o.Client, o.Config.QueueSelector())
	if err != nil {
		return err
	}
	fmt.Fprintf(o.Out, "Using %s\n", queue.QueueID)
	o.Builder.QueueID = queue.QueueID

	handle, err := o.Ledger.CreateRun()
	if err != nil {
		return err
	}
	stopTee, err := testqueuelib.TeeRunLog(o.Ledger, handle)
	if err != nil {
		return err
	}
	defer stopTee()

	start := o.Clock.Now()
	var record *testqueueapi.RunRecord
	if len(o.Assembly) > 0 {
		record, err = o.Builder.BuildAssemblyRun(ctx, o.Assembly, !o.Serial)
	} else {
		record, err = o.Builder.BuildRun(ctx, assemblies)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(o.Out, "Upload took %s\n", o.Clock.Since(start).Round(time.Millisecond))

	if err := o.Ledger.Save(handle, *record); err != nil {
		return err
	}
	fmt.Fprintf(o.Out, "Saved as %s\n", handle.ID)

	if o.Monitor == nil {
		return nil
	}
	_, err = o.Monitor.Wait(ctx, handle)
	return err
}

func (o *QueueOptions) assemblies() ([]string, error) {
	if len(o.Assembly) > 0 {
		if _, err := os.Stat(o.Assembly); err != nil {
			return nil, fmt.Errorf("could not find assembly: %w", err)
		}
		return []string{o.Assembly}, nil
	}
	assemblies, err := DiscoverAssemblies(o.Root, o.Config.AssemblyGlobs)
	if err != nil {
		return nil, err
	}
	if len(assemblies) == 0 {
		return nil, fmt.Errorf("no test assemblies found under %s", o.Root)
	}
	logrus.Infof("Found %d test assemblies.", len(assemblies))
	return assemblies, nil
}
