package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/aretw0/labrun/internal/compiler"
	"github.com/aretw0/labrun/internal/logging"
	"github.com/aretw0/labrun/pkg/registry"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate <protocol.yaml>",
	Short: "Compile a protocol and print its outline",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		proto, err := compiler.Load(args[0])
		if err != nil {
			return err
		}
		block, err := compiler.Compile(proto, registry.NewDefault(logging.NewNop()))
		if err != nil {
			return err
		}

		outline := compiler.Describe(block)
		out := cmd.OutOrStdout()
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(outline)
		}
		fmt.Fprintf(out, "%s: ok\n", proto.Name)
		printOutline(out, outline, 0)
		return nil
	},
}

func printOutline(w io.Writer, o compiler.Outline, depth int) {
	label := o.Kind
	if o.Name != "" {
		label += " " + o.Name
	}
	if len(o.State) > 0 {
		label += " [" + strings.Join(o.State, ", ") + "]"
	}
	if o.Pausable {
		label += " (pausable)"
	}
	fmt.Fprintf(w, "%s- %s, term %s\n", strings.Repeat("  ", depth), label, o.Term)
	for _, c := range o.Children {
		printOutline(w, c, depth+1)
	}
}

func init() {
	rootCmd.AddCommand(validateCmd)
	validateCmd.Flags().Bool("json", false, "Print the outline as JSON")
}
