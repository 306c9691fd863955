package ingester

import (
	"context"
	"fmt"
	"io"

	"selfvault/pkg/core"
	"selfvault/pkg/storage"
	"selfvault/pkg/stream"

	"github.com/sirupsen/logrus"
)

// copyBufferSize is the read size used when feeding a stream; it has no
// effect on chunk boundaries.
const copyBufferSize = 256 << 10

type Ingester struct {
	store  storage.ChunkStore
	params stream.Params
	log    logrus.FieldLogger
	opts   []stream.Option
}

func NewIngester(store storage.ChunkStore, params stream.Params, log logrus.FieldLogger, typ core.SelfEncryptionType) *Ingester {
	if log == nil {
		log = logrus.New()
	}
	return &Ingester{
		store:  store,
		params: params,
		log:    log,
		opts:   []stream.Option{stream.WithLogger(log), stream.WithEncryptionType(typ)},
	}
}

// Ingest self-encrypts everything read from r and returns the DataMap.
// The reader is consumed incrementally; only the stream window is held.
func (ing *Ingester) Ingest(ctx context.Context, r io.Reader) (*core.DataMap, error) {
	dm := core.NewDataMap()
	s, err := stream.Open(ctx, dm, ing.store, ing.params, ing.opts...)
	if err != nil {
		return nil, err
	}
	if _, err := io.CopyBuffer(s, r, make([]byte, copyBufferSize)); err != nil {
		return nil, fmt.Errorf("failed to ingest: %w", err)
	}
	if err := s.Close(); err != nil {
		return nil, fmt.Errorf("failed to flush: %w", err)
	}
	return dm, nil
}

// Update writes r into dm starting at off, overwriting or extending it.
// Ciphertexts the old map used stay in the store: the caller releases
// Changes.Superseded once the new map is recorded, or Changes.Stored to
// abandon it. On error dm is left as it was and nothing needs releasing.
func (ing *Ingester) Update(ctx context.Context, dm *core.DataMap, off int64, r io.Reader) (stream.Changes, error) {
	orig := dm.Clone()
	opts := append([]stream.Option{stream.WithDeferredRelease()}, ing.opts...)
	s, err := stream.Open(ctx, dm, ing.store, ing.params, opts...)
	if err != nil {
		return stream.Changes{}, err
	}

	err = ing.update(s, off, r)
	if err == nil {
		return s.Changes(), nil
	}
	if relErr := storage.Release(ctx, ing.store, s.Changes().Stored); relErr != nil {
		ing.log.WithError(relErr).Warn("failed to release chunks of an abandoned update")
	}
	*dm = *orig
	return stream.Changes{}, err
}

func (ing *Ingester) update(s *stream.Stream, off int64, r io.Reader) error {
	if _, err := s.Seek(off, io.SeekStart); err != nil {
		return err
	}
	if _, err := io.CopyBuffer(s, r, make([]byte, copyBufferSize)); err != nil {
		return fmt.Errorf("failed to update: %w", err)
	}
	return s.Close()
}
