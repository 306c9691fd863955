package disk

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"selfvault/pkg/storage"
	"selfvault/pkg/types"
)

const refSuffix = ".ref"

// Adapter stores chunks as files under rootPath. The reference count of a
// chunk lives next to it in a .ref file.
type Adapter struct {
	rootPath string // e.g. /home/user/.sv/chunks
	mu       sync.Mutex
}

func NewAdapter(root string) (*Adapter, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create root storage dir: %w", err)
	}
	return &Adapter{rootPath: root}, nil
}

// layout shards by the first two hex characters:
// "aabbcc..." -> root/aa/bbcc...
func (s *Adapter) layout(hash types.Hash) string {
	h := string(hash)
	if len(h) < 2 {
		return filepath.Join(s.rootPath, h)
	}
	return filepath.Join(s.rootPath, h[:2], h[2:])
}

func (s *Adapter) Store(ctx context.Context, hash types.Hash, content []byte) error {
	if !hash.IsValid() {
		return fmt.Errorf("invalid chunk hash %q", hash)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	targetPath := s.layout(hash)
	count, err := s.readCount(targetPath)
	if err != nil {
		return err
	}
	if count == 0 {
		if err := writeAtomic(targetPath, content); err != nil {
			return err
		}
	}
	return writeAtomic(targetPath+refSuffix, []byte(strconv.FormatInt(count+1, 10)))
}

func (s *Adapter) Get(ctx context.Context, hash types.Hash) ([]byte, error) {
	data, err := os.ReadFile(s.layout(hash))
	if os.IsNotExist(err) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (s *Adapter) Delete(ctx context.Context, hash types.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	targetPath := s.layout(hash)
	count, err := s.readCount(targetPath)
	if err != nil {
		return err
	}
	if count == 0 {
		return storage.ErrNotFound
	}
	if count > 1 {
		return writeAtomic(targetPath+refSuffix, []byte(strconv.FormatInt(count-1, 10)))
	}
	if err := os.Remove(targetPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := os.Remove(targetPath + refSuffix); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *Adapter) Count(ctx context.Context, hash types.Hash) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readCount(s.layout(hash))
}

func (s *Adapter) Has(ctx context.Context, hash types.Hash) (bool, error) {
	_, err := os.Stat(s.layout(hash))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// readCount returns 0 for a missing chunk. A chunk file without a .ref file
// counts as one reference.
func (s *Adapter) readCount(targetPath string) (int64, error) {
	raw, err := os.ReadFile(targetPath + refSuffix)
	if os.IsNotExist(err) {
		if _, statErr := os.Stat(targetPath); statErr == nil {
			return 1, nil
		}
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	count, err := strconv.ParseInt(string(bytes.TrimSpace(raw)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt reference count for %s: %w", filepath.Base(targetPath), err)
	}
	return count, nil
}

// writeAtomic writes to a temp file and renames it into place, so readers
// see either the old file or the complete new one.
func writeAtomic(targetPath string, data []byte) error {
	dir := filepath.Dir(targetPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tempFile, err := os.CreateTemp(dir, "temp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tempFile.Name())

	if _, err := tempFile.Write(data); err != nil {
		tempFile.Close()
		return err
	}
	if err := tempFile.Close(); err != nil {
		return err
	}
	return os.Rename(tempFile.Name(), targetPath)
}
