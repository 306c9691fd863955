package stream

import (
	"fmt"

	"selfvault/pkg/core"

	"github.com/sirupsen/logrus"
)

// enterWriteMode prepares the window for writing. Writes assume every
// chunk but the last is exactly MaxChunkSize, so a minimal three chunk map
// is rebalanced into that shape and an inline file is spread over the
// window first.
func (s *Stream) enterWriteMode() error {
	if s.writeMode {
		return nil
	}
	switch {
	case s.needsRebalance():
		if err := s.rebalance(); err != nil {
			return err
		}
	case !s.dm.HasChunks() && len(s.dm.Content) > 0:
		content := s.dm.Content
		s.dm.Content = nil
		s.dm.Type = 0
		s.spread(content)
	default:
		if err := s.checkLayout(); err != nil {
			return err
		}
	}
	s.writeMode = true
	s.chunkIndex = -1
	return nil
}

func (s *Stream) needsRebalance() bool {
	if s.chunkCount() != core.MinChunks || len(s.dm.Content) > 0 {
		return false
	}
	m := s.params.MaxChunkSize
	if s.dm.Size > core.MinChunks*m {
		return false
	}
	return s.dm.Chunks[0].PreSize < m || s.dm.Chunks[1].PreSize < m
}

func (s *Stream) checkLayout() error {
	m := s.params.MaxChunkSize
	n := s.chunkCount()
	for i, c := range s.dm.Chunks {
		if (i < n-1 && c.PreSize != m) || c.PreSize > m {
			return fmt.Errorf("%w: chunk %d holds %d bytes, max chunk size is %d",
				ErrInvalidArgument, i, c.PreSize, m)
		}
	}
	if len(s.dm.Content) > 0 && n > 0 {
		if s.dm.Chunks[n-1].PreSize != m {
			return fmt.Errorf("%w: tail follows a partial chunk", ErrInvalidArgument)
		}
		if int64(len(s.dm.Content)) >= m {
			return fmt.Errorf("%w: tail of %d bytes is not shorter than a chunk", ErrInvalidArgument, len(s.dm.Content))
		}
	}
	return nil
}

// rebalance reloads a minimal three chunk file into full-size slots. The
// old ciphertexts are released once the next Flush succeeds.
func (s *Stream) rebalance() error {
	var all []byte
	for i := 0; i < core.MinChunks; i++ {
		plain, err := s.plaintext(i)
		if err != nil {
			return err
		}
		all = append(all, plain...)
	}
	for _, c := range s.dm.Chunks {
		s.orphans = append(s.orphans, c.Cid.Hash)
	}
	s.dm.Reset()
	s.dm.Type = 0
	s.seals = make(map[int]seal)
	s.pending = make(map[int]struct{})
	s.spread(all)
	s.log.WithField("size", len(all)).Debug("rebalanced minimal chunk set")
	return nil
}

// spread lays content out over the window in MaxChunkSize pieces.
func (s *Stream) spread(content []byte) {
	s.buffers.clear()
	m := int(s.params.MaxChunkSize)
	for i := 0; i*m < len(content); i++ {
		end := min((i+1)*m, len(content))
		b := s.buffers.slot(i)
		b.index = i
		b.content = append([]byte(nil), content[i*m:end]...)
		b.hash = ""
	}
}

// windowBusy reports whether any slot holds data not yet safe in the store.
func (s *Stream) windowBusy() bool {
	for i := range s.buffers {
		if s.needsStore(&s.buffers[i]) {
			return true
		}
	}
	return false
}

// claim returns the slot for chunk idx, loading it if needed. Moving past
// the window flushes; moving one chunk forward finalises the chunk left.
func (s *Stream) claim(idx int) (*chunkBuffer, error) {
	if b := s.buffers.buffered(idx); b != nil {
		if s.chunkIndex >= 0 && idx > s.chunkIndex {
			if err := s.finaliseWriting(s.chunkIndex); err != nil {
				return nil, err
			}
		}
		s.chunkIndex = idx
		return b, nil
	}

	if s.windowBusy() && idx != s.buffers.maxIndex()+1 {
		s.log.WithFields(logrus.Fields{"chunk": idx}).Debug("write outside window, flushing")
		if err := s.flushWindow(); err != nil {
			return nil, err
		}
		if err := s.enterWriteMode(); err != nil {
			return nil, err
		}
	}

	if s.chunkIndex >= 0 && idx > s.chunkIndex {
		if err := s.finaliseWriting(s.chunkIndex); err != nil {
			return nil, err
		}
	}

	b := s.buffers.slot(idx)
	if err := s.evict(b); err != nil {
		return nil, err
	}

	n := s.chunkCount()
	switch {
	case idx < n:
		if _, err := s.loadChunkIntoBuffer(idx); err != nil {
			return nil, err
		}
	case idx == n && len(s.dm.Content) > 0:
		b.index = idx
		b.content = s.dm.Content
		b.hash = ""
		s.dm.Content = nil
	default:
		b.index = idx
		b.content = nil
		b.hash = ""
	}
	s.chunkIndex = idx
	return b, nil
}

// writeAt writes p at off, which must not be past the end of the file.
func (s *Stream) writeAt(p []byte, off int64) (int, error) {
	if off > s.dm.Size {
		return 0, fmt.Errorf("%w: write at %d past end %d", ErrInvalidArgument, off, s.dm.Size)
	}
	if err := s.enterWriteMode(); err != nil {
		return 0, err
	}

	m := s.params.MaxChunkSize
	written := 0
	for len(p) > 0 {
		idx := int(off / m)
		within := int(off % m)
		b, err := s.claim(idx)
		if err != nil {
			return written, err
		}
		if within > len(b.content) {
			return written, fmt.Errorf("%w: chunk %d has %d bytes, write starts at %d",
				ErrHashChain, idx, len(b.content), within)
		}

		end := min(within+len(p), int(m))
		if end > len(b.content) {
			b.content = append(b.content, make([]byte, end-len(b.content))...)
		}
		c := copy(b.content[within:end], p)
		b.hash = ""

		p = p[c:]
		off += int64(c)
		written += c
		if off > s.dm.Size {
			s.dm.Size = off
		}
	}
	return written, nil
}

// drainSequencer applies staged writes that have become reachable. Bytes
// of a staged entry that direct writes have since covered are dropped.
func (s *Stream) drainSequencer() error {
	for {
		pos, data, ok := s.seq.NextFromSequencer(false)
		if !ok || pos > s.dm.Size {
			return nil
		}
		if pos+int64(len(data)) <= s.dm.Size {
			s.seq.Remove(pos)
			continue
		}
		rest, ok := s.seq.PositionFromSequencer(s.dm.Size, true)
		if !ok {
			s.seq.Remove(pos)
			continue
		}
		if _, err := s.writeAt(rest, s.dm.Size); err != nil {
			return err
		}
	}
}

// applyStaged writes every staged entry, zero filling gaps before them.
func (s *Stream) applyStaged() error {
	if err := s.drainSequencer(); err != nil {
		return err
	}
	m := s.params.MaxChunkSize
	for !s.seq.Empty() {
		pos, _, _ := s.seq.NextFromSequencer(false)
		for s.dm.Size < pos {
			gap := min(pos-s.dm.Size, m)
			if _, err := s.writeAt(make([]byte, gap), s.dm.Size); err != nil {
				return err
			}
		}
		if err := s.drainSequencer(); err != nil {
			return err
		}
	}
	return nil
}
