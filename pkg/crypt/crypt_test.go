package crypt

import (
	"bytes"
	"math/rand"
	"strings"
	"testing"

	"selfvault/pkg/core"
	"selfvault/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allTypes = []struct {
	name string
	typ  core.SelfEncryptionType
}{
	{"default", core.DefaultSelfEncryptionType},
	{"sha512 lz4 aes", core.HashingSHA512 | core.CompressionLZ4 | core.ObfuscationRepeated | core.CryptoAES256GCM},
	{"blake3 xz chacha", core.HashingBLAKE3 | core.CompressionXZ | core.CryptoXChaCha20Poly1305},
	{"no compression", core.DefaultSelfEncryptionType.WithoutCompression()},
	{"obfuscation only", core.HashingBLAKE3 | core.ObfuscationRepeated},
}

func textPayload() []byte {
	return []byte(strings.Repeat("the quick brown fox jumps over the lazy dog. ", 40))
}

func randomPayload(n int) []byte {
	buf := make([]byte, n)
	rand.New(rand.NewSource(7)).Read(buf)
	return buf
}

func TestHash(t *testing.T) {
	data := []byte("hello")

	b3 := Hash(data, core.HashingBLAKE3)
	assert.Len(t, b3.String(), 64)
	assert.True(t, b3.IsValid())

	s512 := Hash(data, core.HashingSHA512)
	assert.Len(t, s512.String(), 128)

	assert.Equal(t, b3, Hash(data, core.DefaultSelfEncryptionType), "hashing must be deterministic")
	assert.NotEqual(t, b3, Hash([]byte("hellp"), core.HashingBLAKE3))
}

func TestSelfEncryptChunk_RoundTrip(t *testing.T) {
	payloads := map[string][]byte{
		"text":   textPayload(),
		"random": randomPayload(1500),
		"tiny":   []byte("x"),
	}

	for _, tt := range allTypes {
		for pname, payload := range payloads {
			t.Run(tt.name+"/"+pname, func(t *testing.T) {
				hashA := Hash([]byte("next"), tt.typ)
				hashB := Hash([]byte("after-next"), tt.typ)

				ct, err := SelfEncryptChunk(payload, hashA, hashB, tt.typ)
				require.NoError(t, err)
				if len(payload) >= 64 {
					assert.False(t, bytes.Contains(ct, payload[:64]), "ciphertext must not contain the plaintext")
				}

				pt, err := SelfDecryptChunk(ct, hashA, hashB, tt.typ, int64(len(payload)))
				require.NoError(t, err)
				assert.Equal(t, payload, pt)
			})
		}
	}
}

func TestSelfEncryptChunk_Deterministic(t *testing.T) {
	typ := core.DefaultSelfEncryptionType
	a := Hash([]byte("a"), typ)
	b := Hash([]byte("b"), typ)

	ct1, err := SelfEncryptChunk(textPayload(), a, b, typ)
	require.NoError(t, err)
	ct2, err := SelfEncryptChunk(textPayload(), a, b, typ)
	require.NoError(t, err)
	assert.Equal(t, ct1, ct2)

	ct3, err := SelfEncryptChunk(textPayload(), b, a, typ)
	require.NoError(t, err)
	assert.NotEqual(t, ct1, ct3, "swapping the neighbour hashes must change the ciphertext")
}

func TestSelfDecryptChunk_WrongKeys(t *testing.T) {
	typ := core.DefaultSelfEncryptionType
	a := Hash([]byte("a"), typ)
	b := Hash([]byte("b"), typ)
	c := Hash([]byte("c"), typ)

	ct, err := SelfEncryptChunk(textPayload(), a, b, typ)
	require.NoError(t, err)

	_, err = SelfDecryptChunk(ct, c, b, typ, int64(len(textPayload())))
	assert.ErrorIs(t, err, ErrDecrypt)

	_, err = SelfDecryptChunk(ct, a, c, typ, int64(len(textPayload())))
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestSelfDecryptChunk_Tampered(t *testing.T) {
	typ := core.DefaultSelfEncryptionType
	a := Hash([]byte("a"), typ)
	b := Hash([]byte("b"), typ)

	ct, err := SelfEncryptChunk(randomPayload(300), a, b, typ)
	require.NoError(t, err)

	ct[len(ct)/2] ^= 0xff
	_, err = SelfDecryptChunk(ct, a, b, typ, 300)
	assert.ErrorIs(t, err, ErrDecrypt)

	_, err = SelfDecryptChunk([]byte{formatVersion}, a, b, typ, 0)
	assert.ErrorIs(t, err, ErrDecrypt)
}

// Without a cipher nothing authenticates the envelope, so its header
// must be checked against what the caller expects.
func TestSelfDecryptChunk_UntrustedEnvelope(t *testing.T) {
	typ := core.HashingBLAKE3
	a := Hash([]byte("a"), typ)
	b := Hash([]byte("b"), typ)

	hugeLength := append([]byte{formatVersion, byte(core.CompressionLZ4 >> 4)}, bytes.Repeat([]byte{0xff}, 9)...)
	hugeLength = append(hugeLength, 0x01, 0, 0)
	rawHugeLength := append([]byte{formatVersion, 0}, hugeLength[2:]...)

	tests := []struct {
		name       string
		ciphertext []byte
		size       int64
		want       []byte
	}{
		{"raw", []byte{formatVersion, 0, 3, 'a', 'b', 'c'}, 3, []byte("abc")},
		{"length differs from expected", []byte{formatVersion, 0, 3, 'a', 'b', 'c'}, 4, nil},
		{"codec not in type", []byte{formatVersion, byte(core.CompressionZstd >> 4), 3, 'a', 'b', 'c'}, 3, nil},
		{"huge length with foreign codec", hugeLength, 16, nil},
		{"huge length raw", rawHugeLength, 16, nil},
		{"truncated body", []byte{formatVersion, 0, 5, 'a'}, 5, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []byte
			var err error
			require.NotPanics(t, func() {
				got, err = SelfDecryptChunk(tt.ciphertext, a, b, typ, tt.size)
			})
			if tt.want == nil {
				assert.ErrorIs(t, err, ErrDecrypt)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSelfEncryptChunk_InvalidKeys(t *testing.T) {
	typ := core.DefaultSelfEncryptionType
	_, err := SelfEncryptChunk([]byte("data"), "", Hash([]byte("b"), typ), typ)
	assert.ErrorIs(t, err, ErrInvalidKey)

	_, err = SelfDecryptChunk([]byte("data"), types.Hash("zz"), Hash([]byte("b"), typ), typ, 4)
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestCheckCompressibility(t *testing.T) {
	tests := []struct {
		name   string
		sample []byte
		typ    core.SelfEncryptionType
		want   bool
	}{
		{"text with zstd", textPayload(), core.DefaultSelfEncryptionType, true},
		{"text with lz4", textPayload(), core.HashingBLAKE3 | core.CompressionLZ4, true},
		{"text with xz", textPayload(), core.HashingBLAKE3 | core.CompressionXZ, true},
		{"random with zstd", randomPayload(CompressionSampleSize), core.DefaultSelfEncryptionType, false},
		{"no compression flag", textPayload(), core.DefaultSelfEncryptionType.WithoutCompression(), false},
		{"empty", nil, core.DefaultSelfEncryptionType, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CheckCompressibility(tt.sample, tt.typ))
		})
	}
}

func TestMiddleSample(t *testing.T) {
	data := make([]byte, 1000)
	for i := range data {
		data[i] = byte(i)
	}
	s := MiddleSample(data)
	assert.Len(t, s, CompressionSampleSize)
	assert.Equal(t, byte((1000-CompressionSampleSize)/2), s[0])

	small := []byte("abc")
	assert.Equal(t, small, MiddleSample(small))
}
