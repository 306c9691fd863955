package commands

import (
	"fmt"
	"text/tabwriter"
	"time"

	"selfvault/pkg/core"

	"github.com/spf13/cobra"
)

var lsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List stored files",
	RunE: func(cmd *cobra.Command, args []string) error {
		if SV == nil {
			return fmt.Errorf("app not initialized")
		}
		entries, err := SV.Repo.List(cmdContext(cmd))
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
		fmt.Fprintf(tw, "NAME\tSIZE\tCHUNKS\tTYPE\tUPDATED\n")
		for _, e := range entries {
			fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\n",
				e.Name, e.Size, e.ChunkCount, core.SelfEncryptionType(e.Type), e.UpdatedAt.Format(time.RFC3339))
		}
		return tw.Flush()
	},
}

func init() {
	rootCmd.AddCommand(lsCmd)
}
