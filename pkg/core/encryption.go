package core

import "strings"

// SelfEncryptionType is a bitmask selecting the hashing, compression,
// obfuscation and cipher used for every chunk of one DataMap.
// The zero value means the DataMap holds only inline content.
type SelfEncryptionType uint32

const (
	HashingSHA512 SelfEncryptionType = 1 << 0
	HashingBLAKE3 SelfEncryptionType = 1 << 1
	HashingMask   SelfEncryptionType = 0x000F

	CompressionZstd SelfEncryptionType = 1 << 4
	CompressionLZ4  SelfEncryptionType = 1 << 5
	CompressionXZ   SelfEncryptionType = 1 << 6
	CompressionMask SelfEncryptionType = 0x00F0

	ObfuscationRepeated SelfEncryptionType = 1 << 8
	ObfuscationMask     SelfEncryptionType = 0x0F00

	CryptoXChaCha20Poly1305 SelfEncryptionType = 1 << 12
	CryptoAES256GCM         SelfEncryptionType = 1 << 13
	CryptoMask              SelfEncryptionType = 0xF000
)

const DefaultSelfEncryptionType = HashingBLAKE3 | CompressionZstd | ObfuscationRepeated | CryptoXChaCha20Poly1305

func (t SelfEncryptionType) Hashing() SelfEncryptionType     { return t & HashingMask }
func (t SelfEncryptionType) Compression() SelfEncryptionType { return t & CompressionMask }
func (t SelfEncryptionType) Obfuscation() SelfEncryptionType { return t & ObfuscationMask }
func (t SelfEncryptionType) Crypto() SelfEncryptionType      { return t & CryptoMask }

// WithoutCompression clears the compression field.
func (t SelfEncryptionType) WithoutCompression() SelfEncryptionType {
	return t &^ CompressionMask
}

// WithCompression replaces the compression field.
func (t SelfEncryptionType) WithCompression(c SelfEncryptionType) SelfEncryptionType {
	return t.WithoutCompression() | c.Compression()
}

var typeNames = []struct {
	flag SelfEncryptionType
	name string
}{
	{HashingSHA512, "sha512"},
	{HashingBLAKE3, "blake3"},
	{CompressionZstd, "zstd"},
	{CompressionLZ4, "lz4"},
	{CompressionXZ, "xz"},
	{ObfuscationRepeated, "obfuscated"},
	{CryptoXChaCha20Poly1305, "xchacha20poly1305"},
	{CryptoAES256GCM, "aes256gcm"},
}

func (t SelfEncryptionType) String() string {
	if t == 0 {
		return "none"
	}
	var parts []string
	for _, n := range typeNames {
		if t&n.flag != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "+")
}

// ParseCompression maps a config value to a compression flag.
func ParseCompression(name string) (SelfEncryptionType, bool) {
	switch strings.ToLower(name) {
	case "", "zstd":
		return CompressionZstd, true
	case "lz4":
		return CompressionLZ4, true
	case "xz":
		return CompressionXZ, true
	case "none":
		return 0, true
	}
	return 0, false
}
