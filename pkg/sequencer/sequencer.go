// Package sequencer stages write payloads keyed by file offset until the
// stream can apply them contiguously.
package sequencer

import (
	"errors"
	"sort"
)

var ErrEmptyData = errors.New("sequencer: empty data")

// Sequencer is an offset keyed staging map. Not safe for concurrent use.
type Sequencer struct {
	entries map[int64][]byte
}

func New() *Sequencer {
	return &Sequencer{entries: make(map[int64][]byte)}
}

// Add stores a copy of data at position, replacing any entry already
// staged at exactly that position.
func (s *Sequencer) Add(position int64, data []byte) error {
	if len(data) == 0 {
		return ErrEmptyData
	}
	if position < 0 {
		return errors.New("sequencer: negative position")
	}
	s.entries[position] = append([]byte(nil), data...)
	return nil
}

// PositionFromSequencer returns the bytes from position to the end of the
// entry that contains it. With remove, that entry is dropped and any part
// of it before position is staged again on its own.
func (s *Sequencer) PositionFromSequencer(position int64, remove bool) ([]byte, bool) {
	start, data, ok := s.containing(position)
	if !ok {
		return nil, false
	}
	out := data[position-start:]
	if remove {
		delete(s.entries, start)
		if position > start {
			s.entries[start] = data[:position-start]
		}
	}
	return out, true
}

// NextFromSequencer returns the lowest staged position.
func (s *Sequencer) NextFromSequencer(remove bool) (int64, []byte, bool) {
	if len(s.entries) == 0 {
		return 0, nil, false
	}
	first := s.positions()[0]
	data := s.entries[first]
	if remove {
		delete(s.entries, first)
	}
	return first, data, true
}

func (s *Sequencer) Remove(position int64) {
	delete(s.entries, position)
}

func (s *Sequencer) Len() int { return len(s.entries) }

func (s *Sequencer) Empty() bool { return len(s.entries) == 0 }

func (s *Sequencer) Clear() {
	s.entries = make(map[int64][]byte)
}

// containing finds the entry covering position. When several overlap,
// the one starting closest to position wins.
func (s *Sequencer) containing(position int64) (int64, []byte, bool) {
	positions := s.positions()
	for i := len(positions) - 1; i >= 0; i-- {
		start := positions[i]
		if start > position {
			continue
		}
		data := s.entries[start]
		if position < start+int64(len(data)) {
			return start, data, true
		}
	}
	return 0, nil, false
}

func (s *Sequencer) positions() []int64 {
	out := make([]int64, 0, len(s.entries))
	for p := range s.entries {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
