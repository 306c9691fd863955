package meta

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"selfvault/pkg/core"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	ErrEntryNotFound    = errors.New("data map not found")
	ErrConcurrentUpdate = errors.New("concurrent update detected (CAS failed)")
)

// Repository stores named DataMaps.
type Repository struct {
	db *DB
}

func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// Save stores dm under name. oldRevision is the revision the caller read:
// 0 creates a new entry, anything else must still match the stored one.
func (r *Repository) Save(ctx context.Context, name string, dm *core.DataMap, oldRevision int64) (*Entry, error) {
	entry, err := newEntry(name, dm)
	if err != nil {
		return nil, err
	}

	err = r.db.GetConn().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if oldRevision == 0 {
			entry.Revision = 1
			if err := tx.Create(entry).Error; err != nil {
				// Postgres and sqlite report duplicates differently.
				if errors.Is(err, gorm.ErrDuplicatedKey) ||
					strings.Contains(err.Error(), "UNIQUE constraint failed") {
					return ErrConcurrentUpdate
				}
				return fmt.Errorf("failed to create entry: %w", err)
			}
			return nil
		}

		result := tx.Model(&Entry{}).
			Where("name = ? AND revision = ?", name, oldRevision).
			Updates(map[string]any{
				"version":     entry.Version,
				"revision":    gorm.Expr("revision + 1"),
				"size":        entry.Size,
				"type":        entry.Type,
				"chunk_count": entry.ChunkCount,
				"encoded":     entry.Encoded,
				"chunks":      entry.Chunks,
				"updated_at":  time.Now(),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrConcurrentUpdate
		}
		entry.Revision = oldRevision + 1
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (r *Repository) Get(ctx context.Context, name string) (*Entry, error) {
	var entry Entry
	err := r.db.GetConn().WithContext(ctx).
		Where("name = ?", name).
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrEntryNotFound
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// Load returns the decoded DataMap together with its revision.
func (r *Repository) Load(ctx context.Context, name string) (*core.DataMap, int64, error) {
	entry, err := r.Get(ctx, name)
	if err != nil {
		return nil, 0, err
	}
	dm, err := entry.DataMap()
	if err != nil {
		return nil, 0, err
	}
	return dm, entry.Revision, nil
}

func (r *Repository) Delete(ctx context.Context, name string) error {
	result := r.db.GetConn().WithContext(ctx).Where("name = ?", name).Delete(&Entry{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrEntryNotFound
	}
	return nil
}

// List returns entries ordered by name. Encoded is not loaded.
func (r *Repository) List(ctx context.Context) ([]Entry, error) {
	var entries []Entry
	err := r.db.GetConn().WithContext(ctx).
		Omit("encoded").
		Order("name ASC").
		Find(&entries).Error
	return entries, err
}

// DataMap decodes the stored map.
func (e *Entry) DataMap() (*core.DataMap, error) {
	dm, err := core.DecodeDataMap(e.Encoded)
	if err != nil {
		return nil, fmt.Errorf("entry %q: %w", e.Name, err)
	}
	return dm, nil
}

func newEntry(name string, dm *core.DataMap) (*Entry, error) {
	if name == "" {
		return nil, errors.New("entry name must not be empty")
	}
	encoded, err := dm.Encode()
	if err != nil {
		return nil, err
	}
	id, err := dm.ID()
	if err != nil {
		return nil, err
	}

	chunks := make([]chunkProjection, len(dm.Chunks))
	for i, c := range dm.Chunks {
		chunks[i] = chunkProjection{Cid: c.Cid.Hash.String(), Size: c.Size}
	}
	chunksJSON, err := json.Marshal(chunks)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chunk list: %w", err)
	}

	return &Entry{
		Name:       name,
		Version:    id.String(),
		Size:       dm.Size,
		Type:       int64(dm.Type),
		ChunkCount: len(dm.Chunks),
		Encoded:    encoded,
		Chunks:     datatypes.JSON(chunksJSON),
		UpdatedAt:  time.Now(),
	}, nil
}
