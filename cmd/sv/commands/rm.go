package commands

import (
	"fmt"

	"selfvault/pkg/exporter"

	"github.com/spf13/cobra"
)

var rmCmd = &cobra.Command{
	Use:   "rm [names...]",
	Short: "Remove stored files",
	Long:  `Delete catalogue entries and release their chunks. Chunks shared with other files are kept.`,
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if SV == nil {
			return fmt.Errorf("app not initialized")
		}
		ctx := cmdContext(cmd)
		exp := exporter.NewExporter(SV.Store, SV.Params, SV.Logger)

		for _, name := range args {
			dm, _, err := SV.Repo.Load(ctx, name)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			if err := SV.Repo.Delete(ctx, name); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			if err := exp.Remove(ctx, dm); err != nil {
				SV.Logger.WithError(err).WithField("name", name).Warn("failed to release chunks")
			}
			fmt.Printf("Removed: %s\n", name)
		}
		fmt.Printf("✅ Removed %d files.\n", len(args))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(rmCmd)
}
