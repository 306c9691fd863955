package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a SelfVault repository",
	Long:  `Create the .sv directory holding the local chunk store and the catalogue.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		repoPath := viper.GetString("repo.path")

		if _, err := os.Stat(repoPath); err == nil {
			fmt.Printf("⚠️  SelfVault repository already exists in %s\n", repoPath)
			return nil
		}

		if err := os.MkdirAll(repoPath, 0755); err != nil {
			return fmt.Errorf("failed to create repo directory: %w", err)
		}
		if t := viper.GetString("storage.type"); t == "disk" || t == "badger" {
			if err := os.MkdirAll(viper.GetString("storage.path"), 0755); err != nil {
				return fmt.Errorf("failed to create storage directory: %w", err)
			}
		}

		fmt.Printf("✅ Initialized empty SelfVault repository in %s\n", repoPath)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
