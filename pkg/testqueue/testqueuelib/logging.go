package testqueuelib

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/openshift/test-queue-runner/pkg/testqueue/ledger"
	"github.com/openshift/test-queue-runner/pkg/testqueue/testqueueapi"
)

type LoggingFlags struct {
	LogLevel string
}

func NewLoggingFlags() *LoggingFlags {
	return &LoggingFlags{LogLevel: "info"}
}

func (f *LoggingFlags) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&f.LogLevel, "log-level", f.LogLevel, "Log level (trace,debug,info,warn,error) (default: info)")
}

func (f *LoggingFlags) Validate() error {
	if _, err := logrus.ParseLevel(f.LogLevel); err != nil {
		return fmt.Errorf("invalid --log-level: %w", err)
	}
	return nil
}

// Apply configures the global logger.
func (f *LoggingFlags) Apply() {
	level, err := logrus.ParseLevel(f.LogLevel)
	if err != nil {
		logrus.WithError(err).Fatal("Cannot parse log-level")
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}

// TeeRunLog additionally writes the log into the run directory until the
// returned function is called.
func TeeRunLog(runs *ledger.Ledger, handle testqueueapi.RunHandle) (func(), error) {
	log, err := runs.OpenLog(handle)
	if err != nil {
		return nil, err
	}
	logrus.SetOutput(io.MultiWriter(os.Stderr, log))
	return func() {
		logrus.SetOutput(os.Stderr)
		if err := log.Close(); err != nil {
			logrus.WithError(err).Warn("Could not close the run log.")
		}
	}, nil
}
