package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/aretw0/labrun/internal/cli"
	"github.com/aretw0/labrun/pkg/domain"
	"github.com/spf13/cobra"
)

var errRunFailed = errors.New("run finished with errors")

var runCmd = &cobra.Command{
	Use:   "run <protocol.yaml>",
	Short: "Run a protocol to completion",
	Long: `Compiles the protocol, claims the configured devices and runs the tree,
printing every root event. The first interrupt halts the run, the second aborts it.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup(cmd)
		if err != nil {
			return err
		}
		resume, _ := cmd.Flags().GetString("resume")

		rt, err := cli.Build(cmd.Context(), cfg, logger, cli.RunOptions{
			ProtocolPath: args[0],
			ResumeID:     resume,
			Hooks:        cli.DebugHooks(logger),
		})
		if err != nil {
			return err
		}
		defer rt.Close()

		printer := cli.NewPrinter(cmd.OutOrStdout(), cli.ProfileFor(os.Stdout))
		rt.Master.Subscribe(printer.Event)

		sc := cli.NewSignalContext(cmd.Context(), func(sig os.Signal) {
			printer.System("%s received, halting (repeat to abort)", sig)
			if err := rt.Master.Halt(); err != nil {
				logger.Warn("halt failed", "err", err)
			}
		})
		defer sc.Stop()

		id := rt.Master.RunID()
		if resume != "" {
			printer.System("Resuming run %s", id)
		} else {
			printer.System("Run %s started", id)
		}

		err = rt.Master.Run(sc, rt.Point)
		switch {
		case errors.Is(err, context.Canceled):
			printer.System("Run %s aborted", id)
			return nil
		case err != nil:
			return fmt.Errorf("run %s: %w", id, err)
		}

		if domain.HasErrors(rt.Master.Last().Diagnostics) {
			return errRunFailed
		}
		printer.System("Run %s finished", id)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().String("resume", "", "Continue a stored run from its last snapshot")
}
