package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"selfvault/pkg/core"
	"selfvault/pkg/meta"
	"selfvault/pkg/storage"
	"selfvault/pkg/storage/badger"
	"selfvault/pkg/storage/cache"
	"selfvault/pkg/storage/disk"
	"selfvault/pkg/storage/memory"
	"selfvault/pkg/storage/s3"
	"selfvault/pkg/stream"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// App holds the long lived services the CLI commands share.
type App struct {
	Store    storage.ChunkStore
	Repo     *meta.Repository
	Params   stream.Params
	Type     core.SelfEncryptionType
	Logger   *logrus.Logger
	RepoPath string

	closers []io.Closer
}

// NewApp assembles the services described by the viper configuration.
func NewApp(ctx context.Context) (*App, error) {
	repoPath := viper.GetString("repo.path")
	if repoPath == "" {
		return nil, fmt.Errorf("repository path not set")
	}
	if _, err := os.Stat(repoPath); err != nil {
		return nil, fmt.Errorf("repository not found at %s: %w", repoPath, err)
	}

	log, err := newLogger(viper.GetString("log.level"))
	if err != nil {
		return nil, err
	}
	params, typ, err := loadSelfEncryption()
	if err != nil {
		return nil, err
	}

	a := &App{Params: params, Type: typ, Logger: log, RepoPath: repoPath}

	store, err := initStore(ctx, repoPath, log)
	if err != nil {
		return nil, fmt.Errorf("failed to init storage: %w", err)
	}
	a.track(store)

	if url := viper.GetString("cache.redis_url"); url != "" {
		cached, err := cache.NewCachedStore(store, cache.Config{
			RedisURL: url,
			TTL:      viper.GetDuration("cache.ttl"),
		}, log)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to init cache: %w", err)
		}
		a.track(cached)
		store = cached
	}
	a.Store = store

	db, err := initMeta(ctx)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to init catalogue: %w", err)
	}
	a.track(db)
	a.Repo = meta.NewRepository(db)

	return a, nil
}

func (a *App) track(v any) {
	if c, ok := v.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}
}

// Close releases the services in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i].Close())
	}
	a.closers = nil
	return errors.Join(errs...)
}

func newLogger(level string) (*logrus.Logger, error) {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log.level %q: %w", level, err)
	}
	log.SetLevel(lvl)
	return log, nil
}

func loadSelfEncryption() (stream.Params, core.SelfEncryptionType, error) {
	params := stream.Params{
		MaxChunkSize:           viper.GetInt64("selfencryption.max_chunk_size"),
		MaxIncludableDataSize:  viper.GetInt64("selfencryption.max_includable_data_size"),
		MaxIncludableChunkSize: viper.GetInt64("selfencryption.max_includable_chunk_size"),
	}
	if err := params.Validate(); err != nil {
		return stream.Params{}, 0, err
	}

	name := viper.GetString("selfencryption.compression")
	compression, ok := core.ParseCompression(name)
	if !ok {
		return stream.Params{}, 0, fmt.Errorf("unsupported compression %q", name)
	}
	return params, core.DefaultSelfEncryptionType.WithCompression(compression), nil
}

func initStore(ctx context.Context, repoPath string, log logrus.FieldLogger) (storage.ChunkStore, error) {
	storeType := viper.GetString("storage.type")

	switch storeType {
	case "disk", "":
		path := viper.GetString("storage.path")
		if path == "" {
			path = filepath.Join(repoPath, "chunks")
		}
		return disk.NewAdapter(path)

	case "badger":
		path := viper.GetString("storage.path")
		if path == "" {
			path = filepath.Join(repoPath, "badger")
		}
		return badger.NewStore(badger.StoreConfig{Path: path, Logger: log})

	case "s3":
		cfg := s3.Config{
			Endpoint:        viper.GetString("s3.endpoint"),
			Region:          viper.GetString("s3.region"),
			Bucket:          viper.GetString("s3.bucket"),
			AccessKeyID:     viper.GetString("s3.access_key"),
			SecretAccessKey: viper.GetString("s3.secret_key"),
		}
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("s3 bucket is required")
		}
		return s3.NewAdapter(ctx, cfg)

	case "memory":
		return memory.NewStore(), nil

	default:
		return nil, fmt.Errorf("unsupported storage type: %s", storeType)
	}
}

func initMeta(ctx context.Context) (*meta.DB, error) {
	driver := viper.GetString("meta.driver")

	switch driver {
	case "sqlite", "":
		return meta.OpenSQLite(viper.GetString("meta.path"))

	case "postgres":
		return meta.NewDB(ctx, meta.Config{
			Host:     viper.GetString("database.host"),
			Port:     viper.GetInt("database.port"),
			User:     viper.GetString("database.user"),
			Password: viper.GetString("database.password"),
			DBName:   viper.GetString("database.dbname"),
			SSLMode:  viper.GetString("database.sslmode"),
		})

	default:
		return nil, fmt.Errorf("unsupported meta driver: %s", driver)
	}
}
