package crypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"selfvault/pkg/core"
	"selfvault/pkg/types"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const formatVersion = 1

var (
	ErrInvalidKey = errors.New("invalid chunk key")
	ErrDecrypt    = errors.New("chunk decryption failed")
)

var (
	hkdfInfoKey   = []byte("selfvault.chunk.key.v1")
	hkdfInfoNonce = []byte("selfvault.chunk.nonce.v1")
)

// SelfEncryptChunk compresses, encrypts and obfuscates one chunk.
// hashA keys the cipher and hashB the obfuscation pad; both are the
// plaintext hashes of the chunk's two successors. The output is a pure
// function of the inputs, so unchanged chunks hash to the same store key.
func SelfEncryptChunk(content []byte, hashA, hashB types.Hash, typ core.SelfEncryptionType) ([]byte, error) {
	keyA, keyB, err := keyBytes(hashA, hashB)
	if err != nil {
		return nil, err
	}

	envelope, err := pack(content, typ)
	if err != nil {
		return nil, err
	}

	sealed := envelope
	if typ.Crypto() != 0 {
		aead, nonce, err := newAEAD(keyA, typ)
		if err != nil {
			return nil, err
		}
		sealed = aead.Seal(nil, nonce, envelope, additionalData(typ))
	}

	out := make([]byte, 1+len(sealed))
	out[0] = formatVersion
	copy(out[1:], sealed)

	if typ.Obfuscation() == core.ObfuscationRepeated {
		obfuscate(out[1:], keyB)
	}
	return out, nil
}

// SelfDecryptChunk inverts SelfEncryptChunk for the same hashes and type.
// size is the plaintext length the caller expects; an envelope declaring
// anything else is rejected before it is decompressed.
func SelfDecryptChunk(ciphertext []byte, hashA, hashB types.Hash, typ core.SelfEncryptionType, size int64) ([]byte, error) {
	keyA, keyB, err := keyBytes(hashA, hashB)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < 2 {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrDecrypt)
	}
	if ciphertext[0] != formatVersion {
		return nil, fmt.Errorf("%w: unsupported format version %d", ErrDecrypt, ciphertext[0])
	}

	body := append([]byte(nil), ciphertext[1:]...)
	if typ.Obfuscation() == core.ObfuscationRepeated {
		obfuscate(body, keyB)
	}

	envelope := body
	if typ.Crypto() != 0 {
		aead, nonce, err := newAEAD(keyA, typ)
		if err != nil {
			return nil, err
		}
		envelope, err = aead.Open(nil, nonce, body, additionalData(typ))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
		}
	}
	return unpack(envelope, typ, size)
}

func keyBytes(hashA, hashB types.Hash) ([]byte, []byte, error) {
	a, b := hashA.Bytes(), hashB.Bytes()
	if len(a) == 0 || len(b) == 0 {
		return nil, nil, fmt.Errorf("%w: neighbour hashes must be non-empty hex", ErrInvalidKey)
	}
	return a, b, nil
}

// newAEAD derives the key and a deterministic nonce from keyA.
func newAEAD(keyA []byte, typ core.SelfEncryptionType) (cipher.AEAD, []byte, error) {
	key, err := derive(keyA, hkdfInfoKey, 32)
	if err != nil {
		return nil, nil, err
	}

	var aead cipher.AEAD
	switch typ.Crypto() {
	case core.CryptoXChaCha20Poly1305:
		aead, err = chacha20poly1305.NewX(key)
	case core.CryptoAES256GCM:
		var block cipher.Block
		block, err = aes.NewCipher(key)
		if err == nil {
			aead, err = cipher.NewGCM(block)
		}
	default:
		return nil, nil, fmt.Errorf("unsupported cipher: %#x", uint32(typ.Crypto()))
	}
	if err != nil {
		return nil, nil, fmt.Errorf("cipher init: %w", err)
	}

	nonce, err := derive(keyA, hkdfInfoNonce, aead.NonceSize())
	if err != nil {
		return nil, nil, err
	}
	return aead, nonce, nil
}

func derive(secret, info []byte, size int) ([]byte, error) {
	out := make([]byte, size)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, info), out); err != nil {
		return nil, fmt.Errorf("hkdf: %w", err)
	}
	return out, nil
}

// additionalData binds the ciphertext to its encryption type.
func additionalData(typ core.SelfEncryptionType) []byte {
	return []byte{formatVersion, byte(typ), byte(typ >> 8), byte(typ >> 16), byte(typ >> 24)}
}

// obfuscate XORs data in place with pad repeated to length.
func obfuscate(data, pad []byte) {
	for i := range data {
		data[i] ^= pad[i%len(pad)]
	}
}
