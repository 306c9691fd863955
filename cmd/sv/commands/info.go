package commands

import (
	"fmt"

	"selfvault/pkg/exporter"

	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info [name]",
	Short: "Show the data map of a stored file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if SV == nil {
			return fmt.Errorf("app not initialized")
		}
		entry, err := SV.Repo.Get(cmdContext(cmd), args[0])
		if err != nil {
			return err
		}
		dm, err := entry.DataMap()
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "Name:     %s\n", entry.Name)
		fmt.Fprintf(w, "Version:  %s\n", entry.Version)
		fmt.Fprintf(w, "Revision: %d\n", entry.Revision)
		return exporter.PrintDataMap(dm, w)
	},
}

func init() {
	rootCmd.AddCommand(infoCmd)
}
