package core

import (
	"errors"
	"fmt"

	"selfvault/pkg/types"
)

// MinChunks is the smallest number of chunks a chunked file may have.
// Chunk i is keyed by the plaintext hashes of chunks i+1 and i+2 (mod N).
const MinChunks = 3

var ErrInvalidDataMap = errors.New("invalid data map")

// ChunkDetails describes one stored chunk.
type ChunkDetails struct {
	// PreHash and PreSize describe the plaintext.
	PreHash Link  `cbor:"ph"`
	PreSize int64 `cbor:"ps"`

	// Cid is the hash of the ciphertext, i.e. the chunk store key.
	Cid  Link  `cbor:"h"`
	Size int64 `cbor:"sz"`
}

// DataMap is everything needed to reassemble a file: the ordered chunk
// list, an optional inline payload and the self-encryption type.
//
// Content holds the whole file when Chunks is empty, otherwise an
// undersized tail that follows the last chunk.
type DataMap struct {
	Chunks  []ChunkDetails     `cbor:"c,omitempty"`
	Content []byte             `cbor:"d,omitempty"`
	Size    int64              `cbor:"s"`
	Type    SelfEncryptionType `cbor:"t"`
}

func NewDataMap() *DataMap {
	return &DataMap{}
}

// HasChunks reports whether any part of the file lives in the chunk store.
func (m *DataMap) HasChunks() bool { return len(m.Chunks) > 0 }

// IsInline reports whether the whole file lives in Content.
func (m *DataMap) IsInline() bool { return len(m.Chunks) == 0 }

// ChunkCount returns the number of stored chunks.
func (m *DataMap) ChunkCount() int { return len(m.Chunks) }

// Reset drops chunks and content. Size is left for the caller to maintain.
func (m *DataMap) Reset() {
	m.Chunks = nil
	m.Content = nil
}

func (m *DataMap) Clone() *DataMap {
	out := &DataMap{Size: m.Size, Type: m.Type}
	if m.Chunks != nil {
		out.Chunks = append([]ChunkDetails(nil), m.Chunks...)
	}
	if m.Content != nil {
		out.Content = append([]byte(nil), m.Content...)
	}
	return out
}

// Encode returns the canonical CBOR encoding.
func (m *DataMap) Encode() ([]byte, error) {
	data, err := em.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode data map: %w", err)
	}
	return data, nil
}

// ID is the SHA-256 of the canonical encoding.
func (m *DataMap) ID() (types.Hash, error) {
	h, _, err := CalculateHash(m)
	return h, err
}

func DecodeDataMap(data []byte) (*DataMap, error) {
	var m DataMap
	if err := DecodeObject(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode data map: %w", err)
	}
	return &m, nil
}

// Validate checks the structural invariants of a flushed DataMap.
func (m *DataMap) Validate() error {
	if n := len(m.Chunks); n > 0 && n < MinChunks {
		return fmt.Errorf("%w: %d chunks, need 0 or at least %d", ErrInvalidDataMap, n, MinChunks)
	}
	total := int64(len(m.Content))
	for i, c := range m.Chunks {
		if !c.PreHash.Hash.IsValid() || !c.Cid.Hash.IsValid() {
			return fmt.Errorf("%w: chunk %d has an invalid hash", ErrInvalidDataMap, i)
		}
		if c.PreSize <= 0 || c.Size <= 0 {
			return fmt.Errorf("%w: chunk %d has a non-positive size", ErrInvalidDataMap, i)
		}
		total += c.PreSize
	}
	if total != m.Size {
		return fmt.Errorf("%w: chunks and content sum to %d, size is %d", ErrInvalidDataMap, total, m.Size)
	}
	if len(m.Chunks) > 0 && m.Type.Crypto() == 0 && m.Type.Hashing() == 0 {
		return fmt.Errorf("%w: chunked data map without encryption type", ErrInvalidDataMap)
	}
	return nil
}
