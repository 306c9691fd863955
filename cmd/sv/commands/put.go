package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sync/atomic"
	"time"

	"selfvault/pkg/exporter"
	"selfvault/pkg/ignore"
	"selfvault/pkg/ingester"
	"selfvault/pkg/meta"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

var putCmd = &cobra.Command{
	Use:   "put [paths...]",
	Short: "Self-encrypt files and record them in the catalogue",
	Long:  `Store files, or every non-ignored file under a directory. An existing entry with the same name is replaced.`,
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if SV == nil {
			return fmt.Errorf("app not initialized")
		}
		start := time.Now()

		type job struct{ name, path string }
		var jobs []job
		for _, arg := range args {
			info, err := os.Stat(arg)
			if err != nil {
				return err
			}
			if !info.IsDir() {
				jobs = append(jobs, job{name: filepath.ToSlash(filepath.Clean(arg)), path: arg})
				continue
			}
			matcher, err := ignore.NewMatcher(arg)
			if err != nil {
				return fmt.Errorf("failed to load ignore rules: %w", err)
			}
			err = matcher.Walk(arg, func(rel string) error {
				jobs = append(jobs, job{
					name: path.Join(filepath.ToSlash(filepath.Clean(arg)), rel),
					path: filepath.Join(arg, filepath.FromSlash(rel)),
				})
				return nil
			})
			if err != nil {
				return fmt.Errorf("walk failed: %w", err)
			}
		}

		ing := ingester.NewIngester(SV.Store, SV.Params, SV.Logger, SV.Type)
		exp := exporter.NewExporter(SV.Store, SV.Params, SV.Logger)

		var added, totalSize atomic.Int64
		g, ctx := errgroup.WithContext(cmdContext(cmd))
		g.SetLimit(max(1, viper.GetInt("put.concurrency")))
		for _, j := range jobs {
			j := j
			g.Go(func() error {
				size, err := putFile(ctx, ing, exp, j.name, j.path)
				if err != nil {
					return fmt.Errorf("failed to put %s: %w", j.path, err)
				}
				added.Add(1)
				totalSize.Add(size)
				fmt.Printf("Stored: %s (%d bytes)\n", j.name, size)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		if added.Load() == 0 {
			fmt.Println("⚠️  No files stored.")
			return nil
		}
		fmt.Printf("✅ Stored %d files (%d bytes) in %s\n", added.Load(), totalSize.Load(), time.Since(start))
		return nil
	},
}

// putFile ingests one file and points name at it, releasing the chunks of
// the DataMap it replaces.
func putFile(ctx context.Context, ing *ingester.Ingester, exp *exporter.Exporter, name, filePath string) (int64, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	dm, err := ing.Ingest(ctx, f)
	if err != nil {
		return 0, err
	}

	old, revision, err := SV.Repo.Load(ctx, name)
	if err != nil && !errors.Is(err, meta.ErrEntryNotFound) {
		return 0, err
	}
	if _, err := SV.Repo.Save(ctx, name, dm, revision); err != nil {
		// Nothing references the new chunks yet.
		if rmErr := exp.Remove(ctx, dm); rmErr != nil {
			SV.Logger.WithError(rmErr).Warn("failed to release chunks of unsaved file")
		}
		return 0, err
	}
	if old != nil {
		if err := exp.Remove(ctx, old); err != nil {
			SV.Logger.WithError(err).WithField("name", name).Warn("failed to release replaced chunks")
		}
	}
	return dm.Size, nil
}

func init() {
	rootCmd.AddCommand(putCmd)
}
