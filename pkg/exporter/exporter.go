package exporter

import (
	"context"
	"fmt"
	"io"

	"selfvault/pkg/core"
	"selfvault/pkg/storage"
	"selfvault/pkg/stream"
	"selfvault/pkg/types"

	"github.com/sirupsen/logrus"
)

type Exporter struct {
	store  storage.ChunkStore
	params stream.Params
	log    logrus.FieldLogger
}

func NewExporter(store storage.ChunkStore, params stream.Params, log logrus.FieldLogger) *Exporter {
	if log == nil {
		log = logrus.New()
	}
	return &Exporter{store: store, params: params, log: log}
}

// Export writes the plaintext of dm to writer, one chunk at a time.
func (e *Exporter) Export(ctx context.Context, dm *core.DataMap, writer io.Writer) error {
	// Reading never modifies the map, but a clone keeps the caller's copy
	// untouched should the stream ever need to settle state.
	s, err := stream.Open(ctx, dm.Clone(), e.store, e.params, stream.WithLogger(e.log))
	if err != nil {
		return err
	}
	defer s.Close()

	if _, err := io.Copy(writer, s); err != nil {
		return fmt.Errorf("failed to export: %w", err)
	}
	return nil
}

// Remove drops the reference dm holds on each of its chunks. Chunks that
// are already gone are skipped.
func (e *Exporter) Remove(ctx context.Context, dm *core.DataMap) error {
	if !dm.HasChunks() {
		return nil
	}
	cids := make([]types.Hash, len(dm.Chunks))
	for i, c := range dm.Chunks {
		cids[i] = c.Cid.Hash
	}
	if err := storage.Release(ctx, e.store, cids); err != nil {
		return fmt.Errorf("failed to remove chunks: %w", err)
	}
	e.log.WithField("chunks", len(cids)).Debug("released data map")
	return nil
}
