package core

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"selfvault/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockHash returns a valid 32 byte hex digest.
func mockHash(input string) types.Hash {
	sum := sha256.Sum256([]byte(input))
	return types.Hash(hex.EncodeToString(sum[:]))
}

func sampleDataMap() *DataMap {
	return &DataMap{
		Chunks: []ChunkDetails{
			{PreHash: NewLink(mockHash("p0")), PreSize: 4, Cid: NewLink(mockHash("c0")), Size: 40},
			{PreHash: NewLink(mockHash("p1")), PreSize: 4, Cid: NewLink(mockHash("c1")), Size: 40},
			{PreHash: NewLink(mockHash("p2")), PreSize: 4, Cid: NewLink(mockHash("c2")), Size: 40},
		},
		Content: []byte("M"),
		Size:    13,
		Type:    DefaultSelfEncryptionType,
	}
}

// -----------------------------------------------------------------------------
// Link
// -----------------------------------------------------------------------------

func TestLink_Marshal_Compliance(t *testing.T) {
	link := NewLink(mockHash("test-content"))

	data, err := link.MarshalCBOR()
	require.NoError(t, err)

	// Tag 42 (0xd82a) + ByteString 33 bytes (0x5821) + Prefix (0x00)
	assert.Equal(t, "d82a582100", hex.EncodeToString(data)[:10])
}

func TestLink_Unmarshal_RoundTrip(t *testing.T) {
	originalHash := mockHash("round-trip-test")
	link := NewLink(originalHash)

	data, err := link.MarshalCBOR()
	require.NoError(t, err)

	var l2 Link
	require.NoError(t, l2.UnmarshalCBOR(data))
	assert.Equal(t, originalHash, l2.Hash)
}

func TestLink_Unmarshal_Strictness(t *testing.T) {
	badPrefixBytes, _ := hex.DecodeString("d82a5820" + string(mockHash("bad")))

	var l Link
	err := l.UnmarshalCBOR(badPrefixBytes)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "missing 0x00 multibase prefix")

	wrongTagBytes, _ := hex.DecodeString("d82b582100" + string(mockHash("wrong")))
	err = l.UnmarshalCBOR(wrongTagBytes)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "expected tag 42")
}

func TestLink_InvalidHex(t *testing.T) {
	_, err := NewLink("not-hex").MarshalCBOR()
	assert.Error(t, err)
}

// -----------------------------------------------------------------------------
// DataMap
// -----------------------------------------------------------------------------

func TestDataMap_EncodeIsStable(t *testing.T) {
	tests := []struct {
		name string
		m    *DataMap
	}{
		{"empty", NewDataMap()},
		{"inline", &DataMap{Content: []byte("hi"), Size: 2}},
		{"chunked with tail", sampleDataMap()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			first, err := tt.m.Encode()
			require.NoError(t, err)

			decoded, err := DecodeDataMap(first)
			require.NoError(t, err)
			assert.Equal(t, tt.m, decoded)

			second, err := decoded.Encode()
			require.NoError(t, err)
			assert.Equal(t, first, second, "re-encoding must produce identical bytes")
		})
	}
}

func TestDataMap_ID(t *testing.T) {
	a := sampleDataMap()
	b := sampleDataMap()

	idA, err := a.ID()
	require.NoError(t, err)
	idB, err := b.ID()
	require.NoError(t, err)
	assert.Equal(t, idA, idB)

	b.Content = []byte("N")
	idB, err = b.ID()
	require.NoError(t, err)
	assert.NotEqual(t, idA, idB)
}

func TestDataMap_Layout(t *testing.T) {
	inline := &DataMap{Content: []byte("hi"), Size: 2}
	assert.True(t, inline.IsInline())
	assert.False(t, inline.HasChunks())

	chunked := sampleDataMap()
	assert.False(t, chunked.IsInline())
	assert.True(t, chunked.HasChunks())
	assert.Equal(t, len(chunked.Chunks), chunked.ChunkCount())

	chunked.Reset()
	assert.False(t, chunked.HasChunks())
	assert.Empty(t, chunked.Content)
}

func TestDataMap_DecodeRejectsGarbage(t *testing.T) {
	_, err := DecodeDataMap([]byte{0xff, 0x00})
	assert.Error(t, err)

	var m DataMap
	assert.Error(t, DecodeObject([]byte{0x9f, 0x01, 0xff}, &m), "indefinite length is forbidden")
}

func TestDataMap_CloneIsDeep(t *testing.T) {
	m := sampleDataMap()
	c := m.Clone()
	c.Chunks[0].PreSize = 99
	c.Content[0] = 'X'

	assert.Equal(t, int64(4), m.Chunks[0].PreSize)
	assert.Equal(t, byte('M'), m.Content[0])
}

func TestDataMap_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(m *DataMap)
		wantErr bool
	}{
		{"valid", func(m *DataMap) {}, false},
		{"size mismatch", func(m *DataMap) { m.Size = 12 }, true},
		{"too few chunks", func(m *DataMap) { m.Chunks = m.Chunks[:2]; m.Size = 9 }, true},
		{"bad hash", func(m *DataMap) { m.Chunks[1].Cid = NewLink("zz") }, true},
		{"zero pre size", func(m *DataMap) { m.Chunks[2].PreSize = 0; m.Size = 9 }, true},
		{"inline only", func(m *DataMap) { m.Chunks = nil; m.Size = 1; m.Type = 0 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := sampleDataMap()
			tt.mutate(m)
			err := m.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidDataMap)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSelfEncryptionType(t *testing.T) {
	typ := DefaultSelfEncryptionType
	assert.Equal(t, HashingBLAKE3, typ.Hashing())
	assert.Equal(t, CompressionZstd, typ.Compression())
	assert.Equal(t, ObfuscationRepeated, typ.Obfuscation())
	assert.Equal(t, CryptoXChaCha20Poly1305, typ.Crypto())

	assert.Zero(t, typ.WithoutCompression().Compression())
	assert.Equal(t, CompressionLZ4, typ.WithCompression(CompressionLZ4).Compression())
	assert.Equal(t, "blake3+zstd+obfuscated+xchacha20poly1305", typ.String())
	assert.Equal(t, "none", SelfEncryptionType(0).String())

	c, ok := ParseCompression("xz")
	assert.True(t, ok)
	assert.Equal(t, CompressionXZ, c)
	_, ok = ParseCompression("brotli")
	assert.False(t, ok)
}
