package commands

import (
	"fmt"
	"io"
	"os"

	"selfvault/pkg/exporter"

	"github.com/spf13/cobra"
)

var getOutput string

var getCmd = &cobra.Command{
	Use:   "get [name]",
	Short: "Decrypt a stored file",
	Long:  `Reassemble a stored file and write it to stdout, or to the file given with -o.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if SV == nil {
			return fmt.Errorf("app not initialized")
		}
		ctx := cmdContext(cmd)

		dm, _, err := SV.Repo.Load(ctx, args[0])
		if err != nil {
			return err
		}

		var w io.Writer = cmd.OutOrStdout()
		if getOutput != "" {
			f, err := os.Create(getOutput)
			if err != nil {
				return err
			}
			defer f.Close()
			w = f
		}

		exp := exporter.NewExporter(SV.Store, SV.Params, SV.Logger)
		if err := exp.Export(ctx, dm, w); err != nil {
			return fmt.Errorf("get failed: %w", err)
		}
		if getOutput != "" {
			fmt.Fprintf(os.Stderr, "✅ Restored %s to %s (%d bytes)\n", args[0], getOutput, dm.Size)
		}
		return nil
	},
}

func init() {
	getCmd.Flags().StringVarP(&getOutput, "output", "o", "", "write to this file instead of stdout")
	rootCmd.AddCommand(getCmd)
}
