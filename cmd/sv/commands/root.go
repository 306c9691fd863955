package commands

import (
	"context"
	"fmt"
	"os"

	"selfvault/pkg/app"
	"selfvault/pkg/config"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	// SV is the application shared by every subcommand.
	SV *app.App
)

var rootCmd = &cobra.Command{
	Use:   "sv",
	Short: "SelfVault: self-encrypting file vault",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// init creates the environment everything else needs.
		if cmd.Name() == "init" || SV != nil {
			return nil
		}
		var err error
		SV, err = app.NewApp(cmdContext(cmd))
		if err != nil {
			return fmt.Errorf("failed to initialize selfvault: %w\n(Did you run 'sv init'?)", err)
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if SV == nil {
			return nil
		}
		err := SV.Close()
		SV = nil
		return err
	},
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.sv/config.yaml)")

	rootCmd.PersistentFlags().String("storage-type", "", "chunk store backend: disk, badger, s3 or memory")
	rootCmd.PersistentFlags().String("storage-path", "", "directory for the disk or badger chunk store")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	for key, flag := range map[string]string{
		"storage.type": "storage-type",
		"storage.path": "storage-path",
		"log.level":    "log-level",
	} {
		if err := viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
			fmt.Fprintln(os.Stderr, "Failed to bind flag:", err)
			os.Exit(1)
		}
	}
}

func initConfig() {
	if err := config.Load(cfgFile); err != nil {
		fmt.Fprintln(os.Stderr, "Config error:", err)
		os.Exit(1)
	}
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
