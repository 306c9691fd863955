// Package crypt holds the per-chunk primitives: hashing, compression,
// obfuscation and authenticated encryption keyed by neighbour hashes.
package crypt

import (
	"crypto/sha512"

	"selfvault/pkg/core"
	"selfvault/pkg/types"

	"github.com/zeebo/blake3"
)

// Hash digests data with the algorithm selected by typ.
// A type without a hashing flag falls back to BLAKE3.
func Hash(data []byte, typ core.SelfEncryptionType) types.Hash {
	if typ.Hashing() == core.HashingSHA512 {
		sum := sha512.Sum512(data)
		return types.HashFromBytes(sum[:])
	}
	sum := blake3.Sum256(data)
	return types.HashFromBytes(sum[:])
}
