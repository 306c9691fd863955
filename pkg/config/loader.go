package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Load reads configuration into the global viper instance. cfgFile, when
// set, is used instead of searching.
func Load(cfgFile string) error {
	setDefaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}

		// Search order: ./, ./.sv, ~/.sv
		viper.AddConfigPath(".")
		viper.AddConfigPath(".sv")
		viper.AddConfigPath(filepath.Join(home, ".sv"))

		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	// SV_STORAGE_TYPE overrides storage.type, and so on.
	viper.SetEnvPrefix("SV")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		// A missing file is fine, defaults and env still apply. A broken one is not.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("fatal error config file: %w", err)
		}
	}
	return nil
}

func setDefaults() {
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.sslmode", "disable")

	wd, _ := os.Getwd()
	repoPath := filepath.Join(wd, ".sv")
	viper.SetDefault("repo.path", repoPath)
	viper.SetDefault("storage.type", "disk")
	viper.SetDefault("storage.path", filepath.Join(repoPath, "chunks"))

	viper.SetDefault("s3.region", "us-east-1")
	viper.SetDefault("cache.ttl", "24h")

	viper.SetDefault("meta.driver", "sqlite")
	viper.SetDefault("meta.path", filepath.Join(repoPath, "catalogue.db"))

	viper.SetDefault("selfencryption.max_chunk_size", 1<<20)
	viper.SetDefault("selfencryption.max_includable_data_size", 3<<10)
	viper.SetDefault("selfencryption.max_includable_chunk_size", 1<<10)
	viper.SetDefault("selfencryption.compression", "zstd")

	viper.SetDefault("log.level", "warn")
	viper.SetDefault("put.concurrency", 4)
}
