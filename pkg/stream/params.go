package stream

import (
	"fmt"

	"selfvault/pkg/core"
)

// Params fixes the chunking policy of a stream.
type Params struct {
	// MaxChunkSize is the plaintext size of every chunk but the last.
	MaxChunkSize int64
	// MaxIncludableDataSize is the largest file kept entirely inside the DataMap.
	MaxIncludableDataSize int64
	// MaxIncludableChunkSize is the largest trailing chunk kept inside the DataMap.
	MaxIncludableChunkSize int64
}

func DefaultParams() Params {
	return Params{
		MaxChunkSize:           1 << 20,
		MaxIncludableDataSize:  3 << 10,
		MaxIncludableChunkSize: 1 << 10,
	}
}

func (p Params) Validate() error {
	if p.MaxChunkSize <= 0 {
		return fmt.Errorf("%w: max chunk size must be positive", ErrInvalidArgument)
	}
	if p.MaxIncludableDataSize < core.MinChunks-1 || p.MaxIncludableDataSize > core.MinChunks*p.MaxChunkSize {
		return fmt.Errorf("%w: max includable data size %d outside [%d, %d]",
			ErrInvalidArgument, p.MaxIncludableDataSize, core.MinChunks-1, core.MinChunks*p.MaxChunkSize)
	}
	if p.MaxIncludableChunkSize < 0 || p.MaxIncludableChunkSize > p.MaxChunkSize {
		return fmt.Errorf("%w: max includable chunk size %d outside [0, %d]",
			ErrInvalidArgument, p.MaxIncludableChunkSize, p.MaxChunkSize)
	}
	return nil
}
