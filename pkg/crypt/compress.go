package crypt

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"selfvault/pkg/core"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"
)

// CompressionSampleSize is how much of the middle chunk is probed to
// decide whether a file is worth compressing.
const CompressionSampleSize = 256

// minCompressionRatio below which compression is switched off for a file.
const minCompressionRatio = 1.1

var errIncompressible = errors.New("data is incompressible")

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		panic("crypt: zstd encoder initialization failed: " + err.Error())
	}

	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		panic("crypt: zstd decoder initialization failed: " + err.Error())
	}
}

// CheckCompressibility reports whether sample shrinks by at least 10%
// under the codec selected by typ.
func CheckCompressibility(sample []byte, typ core.SelfEncryptionType) bool {
	if len(sample) == 0 || typ.Compression() == 0 {
		return false
	}
	compressed, err := compress(sample, typ.Compression())
	if err != nil {
		return false
	}
	return float64(len(sample))/float64(len(compressed)) >= minCompressionRatio
}

// MiddleSample returns up to CompressionSampleSize bytes from the middle of data.
func MiddleSample(data []byte) []byte {
	if len(data) <= CompressionSampleSize {
		return data
	}
	start := (len(data) - CompressionSampleSize) / 2
	return data[start : start+CompressionSampleSize]
}

func compress(data []byte, codec core.SelfEncryptionType) ([]byte, error) {
	switch codec {
	case core.CompressionZstd:
		out := zstdEncoder.EncodeAll(data, nil)
		if len(out) >= len(data) {
			return nil, errIncompressible
		}
		return out, nil

	case core.CompressionLZ4:
		dst := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, dst, nil)
		if err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		if n == 0 || n >= len(data) {
			return nil, errIncompressible
		}
		return dst[:n], nil

	case core.CompressionXZ:
		var buf bytes.Buffer
		w, err := xz.NewWriter(&buf)
		if err != nil {
			return nil, fmt.Errorf("xz compress: %w", err)
		}
		if _, err := w.Write(data); err != nil {
			return nil, fmt.Errorf("xz compress: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("xz compress: %w", err)
		}
		if buf.Len() >= len(data) {
			return nil, errIncompressible
		}
		return buf.Bytes(), nil

	default:
		return nil, fmt.Errorf("unsupported compression: %#x", uint32(codec))
	}
}

func decompress(data []byte, codec core.SelfEncryptionType, size int) ([]byte, error) {
	var out []byte
	switch codec {
	case 0:
		out = data
	case core.CompressionZstd:
		var err error
		out, err = zstdDecoder.DecodeAll(data, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
	case core.CompressionLZ4:
		out = make([]byte, size)
		n, err := lz4.UncompressBlock(data, out)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		out = out[:n]
	case core.CompressionXZ:
		r, err := xz.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("xz decompress: %w", err)
		}
		out, err = io.ReadAll(io.LimitReader(r, int64(size)+1))
		if err != nil {
			return nil, fmt.Errorf("xz decompress: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported compression: %#x", uint32(codec))
	}

	if len(out) != size {
		return nil, fmt.Errorf("decompressed %d bytes, expected %d", len(out), size)
	}
	return out, nil
}

// pack prepends the codec actually used and the plaintext length.
// Incompressible input is stored raw so the codec byte may be 0 even
// when typ asks for compression.
func pack(content []byte, typ core.SelfEncryptionType) ([]byte, error) {
	codec := typ.Compression()
	body := content
	if codec != 0 {
		out, err := compress(content, codec)
		switch {
		case errors.Is(err, errIncompressible):
			codec = 0
		case err != nil:
			return nil, err
		default:
			body = out
		}
	}

	header := make([]byte, 1+binary.MaxVarintLen64)
	header[0] = byte(codec >> 4)
	n := binary.PutUvarint(header[1:], uint64(len(content)))
	return append(header[:1+n], body...), nil
}

// unpack trusts nothing in the envelope: without a cipher it is whatever
// the store returned.
func unpack(envelope []byte, typ core.SelfEncryptionType, size int64) ([]byte, error) {
	if len(envelope) < 2 {
		return nil, fmt.Errorf("%w: envelope too short", ErrDecrypt)
	}
	codec := core.SelfEncryptionType(envelope[0]) << 4
	if codec != 0 && codec != typ.Compression() {
		return nil, fmt.Errorf("%w: envelope codec %#x does not match type %s", ErrDecrypt, uint32(codec), typ)
	}
	declared, n := binary.Uvarint(envelope[1:])
	if n <= 0 {
		return nil, fmt.Errorf("%w: bad length header", ErrDecrypt)
	}
	if size < 0 || declared != uint64(size) {
		return nil, fmt.Errorf("%w: envelope declares %d bytes, expected %d", ErrDecrypt, declared, size)
	}
	out, err := decompress(envelope[1+n:], codec, int(size))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return out, nil
}
