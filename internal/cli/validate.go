package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"hermes/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate <config>",
	Short: "Run config cross-checks without starting a run",
	Long: `validate loads a config file and runs every cross-check from spec §6.1
(unique names, known wire endpoints, valid schedule, integer rate ratios)
without constructing a segment or spawning any module.`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(args[0])
	if err != nil {
		return err
	}
	fmt.Printf("ok: %d modules, %d wires, execution mode %s @ %g Hz\n",
		len(cfg.Modules), len(cfg.Wiring), cfg.Execution.Mode, cfg.Execution.RateHz)
	return nil
}
