package commands

import (
	"fmt"
	"os"

	"selfvault/pkg/ingester"
	"selfvault/pkg/storage"

	"github.com/spf13/cobra"
)

var writeOffset int64

var writeCmd = &cobra.Command{
	Use:   "write [name] [file]",
	Short: "Overwrite or extend a stored file in place",
	Long:  `Write the contents of file into the stored file at --offset. Only the chunks touched and their two predecessors are re-encrypted.`,
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if SV == nil {
			return fmt.Errorf("app not initialized")
		}
		ctx := cmdContext(cmd)
		name := args[0]

		dm, revision, err := SV.Repo.Load(ctx, name)
		if err != nil {
			return err
		}
		f, err := os.Open(args[1])
		if err != nil {
			return err
		}
		defer f.Close()

		ing := ingester.NewIngester(SV.Store, SV.Params, SV.Logger, SV.Type)
		changes, err := ing.Update(ctx, dm, writeOffset, f)
		if err != nil {
			return fmt.Errorf("write failed: %w", err)
		}

		// The catalogue still points at the previous revision until Save
		// succeeds, so its chunks stay until then.
		entry, err := SV.Repo.Save(ctx, name, dm, revision)
		if err != nil {
			if relErr := storage.Release(ctx, SV.Store, changes.Stored); relErr != nil {
				SV.Logger.WithError(relErr).Warn("failed to release chunks of unsaved write")
			}
			return err
		}
		if err := storage.Release(ctx, SV.Store, changes.Superseded); err != nil {
			SV.Logger.WithError(err).WithField("name", name).Warn("failed to release replaced chunks")
		}

		fmt.Printf("✅ Updated %s: %d bytes, revision %d\n", name, dm.Size, entry.Revision)
		return nil
	},
}

func init() {
	writeCmd.Flags().Int64Var(&writeOffset, "offset", 0, "byte offset to start writing at (at most the current size)")
	rootCmd.AddCommand(writeCmd)
}
