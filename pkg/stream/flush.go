package stream

import (
	"fmt"

	"selfvault/pkg/core"
	"selfvault/pkg/crypt"
	"selfvault/pkg/types"

	"github.com/sirupsen/logrus"
)

func (s *Stream) flush() error {
	if err := s.applyStaged(); err != nil {
		return err
	}
	return s.flushWindow()
}

// flushWindow settles the write session: every chunk ends up sealed under
// the keys the final DataMap implies.
func (s *Stream) flushWindow() error {
	if !s.writeMode {
		return nil
	}

	var err error
	if s.isSmallFile() {
		err = s.flushSmallFile()
	} else {
		err = s.flushChunked()
	}
	if err != nil {
		return err
	}

	s.deleteOrphans()
	*s.out = *s.dm.Clone()
	s.seals = make(map[int]seal)
	s.chunkIndex = -1
	s.writeMode = false
	s.readIndex = -1
	s.invalidateStaleBuffers()

	s.log.WithFields(logrus.Fields{
		"size":   s.dm.Size,
		"chunks": s.chunkCount(),
		"inline": len(s.dm.Content),
	}).Debug("flushed stream")
	return nil
}

// isSmallFile reports whether the whole file is still in the window and
// nothing of it has reached the store.
func (s *Stream) isSmallFile() bool {
	if s.dm.Size > core.MinChunks*s.params.MaxChunkSize {
		return false
	}
	for _, c := range s.dm.Chunks {
		if !c.Cid.IsZero() {
			return false
		}
	}
	return true
}

// flushSmallFile either inlines the file or cuts it into exactly three
// balanced chunks.
func (s *Stream) flushSmallFile() error {
	var all []byte
	for i := 0; i < core.MinChunks; i++ {
		if b := s.buffers.buffered(i); b != nil {
			all = append(all, b.content...)
		}
	}
	total := int64(len(all))
	if total != s.dm.Size {
		return fmt.Errorf("%w: window holds %d bytes of a %d byte file", ErrHashChain, total, s.dm.Size)
	}
	s.dm.Chunks = nil
	s.pending = make(map[int]struct{})

	if total <= s.params.MaxIncludableDataSize {
		s.dm.Content = all
		s.dm.Type = 0
		s.buffers.clear()
		return nil
	}

	pieces := splitEvenly(all, core.MinChunks)
	s.initialiseDataMap(pieces[1])

	hashes := make([]types.Hash, len(pieces))
	for i, p := range pieces {
		hashes[i] = crypt.Hash(p, s.dm.Type)
	}

	chunks := make([]core.ChunkDetails, 0, len(pieces))
	for i, p := range pieces {
		keys := keyPair{a: hashes[(i+1)%len(pieces)], b: hashes[(i+2)%len(pieces)]}
		ciphertext, cid, err := s.encrypt(p, keys)
		if err == nil {
			err = s.store.Store(s.ctx, cid, ciphertext)
			if err != nil {
				err = fmt.Errorf("%w: store chunk %d: %w", ErrStore, i, err)
			}
		}
		if err != nil {
			for _, c := range chunks {
				s.release(c.Cid.Hash)
			}
			return err
		}
		chunks = append(chunks, core.ChunkDetails{
			PreHash: core.NewLink(hashes[i]),
			PreSize: int64(len(p)),
			Cid:     core.NewLink(cid),
			Size:    int64(len(ciphertext)),
		})
	}

	for _, c := range chunks {
		s.recordStored(c.Cid.Hash)
	}
	s.dm.Chunks = chunks
	s.dm.Content = nil
	s.dm.Size = total
	s.buffers.clear()
	return nil
}

// splitEvenly cuts data into n pieces whose sizes differ by at most one,
// larger pieces first.
func splitEvenly(data []byte, n int) [][]byte {
	base, rem := len(data)/n, len(data)%n
	out := make([][]byte, n)
	start := 0
	for i := range out {
		size := base
		if i < rem {
			size++
		}
		out[i] = data[start : start+size]
		start += size
	}
	return out
}

func (s *Stream) flushChunked() error {
	s.inlineTail()

	for _, i := range s.buffers.indices() {
		if err := s.finaliseWriting(i); err != nil {
			return err
		}
	}
	if err := s.drainPending(); err != nil {
		return err
	}

	size := int64(len(s.dm.Content))
	for _, c := range s.dm.Chunks {
		size += c.PreSize
	}
	s.dm.Size = size
	return nil
}

// inlineTail moves a short final chunk into the DataMap instead of the store.
func (s *Stream) inlineTail() {
	h := s.buffers.maxIndex()
	if h < core.MinChunks || h < s.chunkCount() {
		return
	}
	b := s.buffers.buffered(h)
	size := int64(len(b.content))
	// A full chunk is never a tail: appends would start a new chunk after it.
	if size == 0 || size > s.params.MaxIncludableChunkSize || size >= s.params.MaxChunkSize {
		return
	}
	s.dm.Content = b.content
	b.clear()
}

// drainPending re-seals every queued chunk under its final keys.
func (s *Stream) drainPending() error {
	n := s.chunkCount()
	if n < core.MinChunks && len(s.pending) > 0 {
		return fmt.Errorf("%w: %d chunks is below the minimum of %d", ErrHashChain, n, core.MinChunks)
	}
	for _, i := range s.pendingIndices() {
		if i >= n {
			delete(s.pending, i)
			continue
		}
		if err := s.storeChunk(i, s.chainKeys(i)); err != nil {
			return err
		}
		delete(s.pending, i)
	}
	return nil
}

// deleteOrphans releases ciphertexts the flushed map no longer uses, or
// hands them to the caller with WithDeferredRelease.
func (s *Stream) deleteOrphans() {
	if s.deferRelease {
		s.changes.Superseded = append(s.changes.Superseded, s.orphans...)
		s.orphans = nil
		return
	}
	for _, cid := range s.orphans {
		s.release(cid)
	}
	s.orphans = nil
}

// invalidateStaleBuffers drops slots that no longer match the DataMap.
func (s *Stream) invalidateStaleBuffers() {
	n := s.chunkCount()
	for i := range s.buffers {
		b := &s.buffers[i]
		if b.empty() {
			continue
		}
		if b.index >= n || b.hash != s.dm.Chunks[b.index].PreHash.Hash {
			b.clear()
		}
	}
}
