package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"hermes/internal/backplane"
)

var listSignalsSegment string

var listSignalsCmd = &cobra.Command{
	Use:   "list-signals",
	Short: "Attach read-only to a running segment and print its signal directory",
	Args:  cobra.NoArgs,
	RunE:  runListSignals,
}

func init() {
	listSignalsCmd.Flags().StringVar(&listSignalsSegment, "segment", "", "name of the segment to attach to (required)")
	listSignalsCmd.MarkFlagRequired("segment")
	rootCmd.AddCommand(listSignalsCmd)
}

func runListSignals(cmd *cobra.Command, args []string) error {
	seg, err := backplane.Attach(listSignalsSegment)
	if err != nil {
		return err
	}
	defer seg.Detach()

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tTYPE\tFLAGS\tOFFSET")
	for _, sig := range seg.Directory() {
		off, _ := seg.SlotOffset(sig.Name)
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", sig.Name, sig.Type, flagString(sig.Flags), off)
	}
	return w.Flush()
}

func flagString(flags uint8) string {
	s := ""
	if flags&backplane.Writable != 0 {
		s += "W"
	}
	if flags&backplane.Published != 0 {
		s += "P"
	}
	if s == "" {
		return "-"
	}
	return s
}
