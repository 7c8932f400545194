package testqueuelib

import (
	"fmt"

	"github.com/spf13/cobra"
)

func NoArgs(cmd *cobra.Command, args []string) error {
	for _, arg := range args {
		if len(arg) > 0 {
			return fmt.Errorf("%q does not take any arguments, got %q", cmd.CommandPath(), args)
		}
	}
	return nil
}

// RunIDArg accepts the id of a run as the only argument.
func RunIDArg(cmd *cobra.Command, args []string) error {
	if len(args) != 1 || len(args[0]) == 0 {
		return fmt.Errorf("%q must be provided the id of a run to work on, got %q", cmd.CommandPath(), args)
	}
	return nil
}
