package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"hermes/internal/backplane"
	"hermes/internal/barrier"
)

var sweepPrefix string

// sweepCmd exposes, as an explicit operator action, the crash-recovery
// sweep spec §5 permits at startup: unlinking stale segment/barrier
// names matching a known prefix. Every "run" constructs a freshly
// timestamped name, so leftovers only accumulate if a prior coordinator
// was killed hard enough to skip its own teardown.
var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Unlink stale segments and barriers matching a name prefix",
	Long: `sweep removes shared-memory segments (and their paired barrier semaphore
sets) left behind by a coordinator that was killed before it could run its
own teardown. It only touches names matching --prefix; run validate or
list-signals first if you are unsure a name is actually stale.`,
	Args: cobra.NoArgs,
	RunE: runSweep,
}

func init() {
	sweepCmd.Flags().StringVar(&sweepPrefix, "prefix", "hermes-", "unlink every segment/barrier whose name has this prefix")
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
	names, err := backplane.ListSegmentNames(sweepPrefix)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		fmt.Println("nothing to sweep")
		return nil
	}
	for _, name := range names {
		if err := backplane.ForceUnlink(name); err != nil {
			return fmt.Errorf("unlink segment %s: %w", name, err)
		}
		if err := barrier.ForceDestroy(name); err != nil {
			return fmt.Errorf("unlink barrier %s: %w", name, err)
		}
		fmt.Printf("swept %s\n", name)
	}
	return nil
}
