// pkg/types/common.go
package types

import "encoding/hex"

// Hash is a lowercase hex digest. Plaintext pre-hashes and ciphertext
// hashes share this representation so they can key stores and paths alike.
type Hash string

// HashFromBytes hex-encodes a raw digest.
func HashFromBytes(b []byte) Hash { return Hash(hex.EncodeToString(b)) }

func (h Hash) String() string { return string(h) }

func (h Hash) IsZero() bool { return h == "" }

// IsValid accepts 32 byte (BLAKE3) and 64 byte (SHA-512) digests.
func (h Hash) IsValid() bool {
	if len(h) != 64 && len(h) != 128 {
		return false
	}
	_, err := hex.DecodeString(string(h))
	return err == nil
}

// Bytes returns the raw digest, or nil when h is not valid hex.
func (h Hash) Bytes() []byte {
	b, err := hex.DecodeString(string(h))
	if err != nil {
		return nil
	}
	return b
}

// Short is the 8 character prefix used in logs and listings.
func (h Hash) Short() string {
	if len(h) <= 8 {
		return string(h)
	}
	return string(h[:8])
}
