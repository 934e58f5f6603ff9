package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"hermes/internal/config"
	"hermes/internal/logging"
	"hermes/internal/manager"
	"hermes/internal/scheduler"
)

var (
	runSpawnTimeout time.Duration
	runStageTimeout time.Duration
	runFrameWait    time.Duration
	runGrace        time.Duration
	runSigtermWait  time.Duration
	runKillAfter    time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run <config>",
	Short: "Construct the backplane, spawn modules, stage, and run the scheduler",
	Long: `run loads a config file, builds the shared-memory segment and frame
barrier, spawns every configured module, stages them, and drives the
scheduler until the configured end time or Ctrl-C, then tears everything
down cleanly.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().DurationVar(&runSpawnTimeout, "spawn-timeout", 5*time.Second, "time budget for spawning all modules")
	runCmd.Flags().DurationVar(&runStageTimeout, "stage-timeout", 5*time.Second, "time budget for each module's stage (and reset) acknowledgement")
	runCmd.Flags().DurationVar(&runFrameWait, "frame-wait", 5*time.Second, "per-frame wait_all_done timeout")
	runCmd.Flags().DurationVar(&runGrace, "grace", 2*time.Second, "grace period for a clean terminate ack before escalating to SIGTERM")
	runCmd.Flags().DurationVar(&runSigtermWait, "sigterm-wait", 2*time.Second, "time budget for a module to exit after SIGTERM before escalating to SIGKILL")
	runCmd.Flags().DurationVar(&runKillAfter, "kill-after", 2*time.Second, "time budget for the reaper to collect a module after SIGKILL")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(args[0])
	if err != nil {
		return err
	}

	log := logging.Default()
	log.Info("loaded config", "modules", len(cfg.Modules), "wires", len(cfg.Wiring))

	m, err := manager.New(cfg, nil, log)
	if err != nil {
		return fmt.Errorf("build manager: %w", err)
	}

	ctx := GetContext()

	spawnCtx, cancelSpawn := context.WithTimeout(ctx, runSpawnTimeout)
	defer cancelSpawn()
	if err := m.Spawn(spawnCtx); err != nil {
		return fmt.Errorf("spawn modules: %w", err)
	}

	sched := scheduler.New(m, cfg.Execution, runFrameWait, runStageTimeout)

	if err := sched.Stage(); err != nil {
		m.Terminate(runGrace, runSigtermWait, runKillAfter)
		return fmt.Errorf("stage: %w", err)
	}

	log.Info("staged, starting run", "mode", cfg.Execution.Mode, "rate_hz", cfg.Execution.RateHz)

	runErr := sched.Run(ctx, func(frame, timeNs uint64) {
		if frame%uint64(cfg.Execution.RateHz) == 0 {
			log.Debug("frame", "frame", frame, "time_ns", timeNs)
		}
	})

	if err := m.Terminate(runGrace, runSigtermWait, runKillAfter); err != nil {
		log.Error("terminate", "error", err)
	}

	if runErr != nil && runErr != context.Canceled {
		return fmt.Errorf("run: %w", runErr)
	}
	log.Info("run complete", "frame", sched.Frame(), "time_ns", sched.TimeNs())
	return nil
}
