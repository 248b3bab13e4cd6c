package main

import (
	"errors"
	"fmt"

	"github.com/aretw0/labrun/internal/cli"
	"github.com/aretw0/labrun/internal/compiler"
	"github.com/aretw0/labrun/internal/presentation/graph"
	"github.com/aretw0/labrun/pkg/registry"
	"github.com/spf13/cobra"
)

var graphCmd = &cobra.Command{
	Use:   "graph <protocol.yaml>",
	Short: "Export the protocol tree visualization",
	Long: `Compiles the protocol and outputs a Mermaid diagram (graph TD) of its tree.
With --run, nodes are coloured by the modes recorded in that run's snapshot.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup(cmd)
		if err != nil {
			return err
		}
		proto, err := compiler.Load(args[0])
		if err != nil {
			return err
		}
		block, err := compiler.Compile(proto, registry.NewDefault(logger))
		if err != nil {
			return err
		}

		var overlay *graph.Overlay
		if runID, _ := cmd.Flags().GetString("run"); runID != "" {
			store, _, err := cli.OpenStore(cfg)
			if err != nil {
				return err
			}
			if store == nil {
				return errors.New("--run needs a snapshot store")
			}
			if c, ok := store.(interface{ Close() error }); ok {
				defer c.Close()
			}
			snap, err := store.Load(cmd.Context(), runID)
			if err != nil {
				return fmt.Errorf("load run %s: %w", runID, err)
			}
			overlay = graph.OverlayFromTree(snap.Root)
		}

		fmt.Fprint(cmd.OutOrStdout(), graph.GenerateMermaid(compiler.Describe(block), overlay))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(graphCmd)
	graphCmd.Flags().String("run", "", "Overlay the modes of a stored run")
}
