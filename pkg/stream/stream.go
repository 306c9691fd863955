// Package stream implements random-access reads and writes over a
// self-encrypted DataMap.
//
// Files up to MaxIncludableDataSize live inside the DataMap. Larger files
// are cut into MaxChunkSize chunks (at least three), and chunk i is
// encrypted with the plaintext hashes of chunks i+1 and i+2, wrapping
// around the end of the file. Writes go through a three chunk window.
// Chunks whose key inputs change are tracked per stream and re-encrypted
// on Flush.
package stream

import (
	"context"
	"fmt"
	"io"

	"selfvault/pkg/core"
	"selfvault/pkg/sequencer"
	"selfvault/pkg/storage"
	"selfvault/pkg/types"

	"github.com/sirupsen/logrus"
)

// keyPair is the two neighbour hashes a chunk is encrypted with.
type keyPair struct {
	a, b types.Hash
}

// seal records what a stored ciphertext actually holds. Chunks touched
// during a write session may be sealed under keys the DataMap no longer
// implies until Flush settles them.
type seal struct {
	keys    keyPair
	preHash types.Hash
	preSize int64
}

// Stream is not safe for concurrent use.
type Stream struct {
	ctx context.Context
	// dm is the working map. out is the caller's map and only receives
	// the working map after a successful Flush.
	dm     *core.DataMap
	out    *core.DataMap
	store  storage.ChunkStore
	params Params
	typ    core.SelfEncryptionType
	log    logrus.FieldLogger

	buffers window
	pending map[int]struct{}
	seals   map[int]seal
	orphans []types.Hash
	seq     *sequencer.Sequencer

	deferRelease bool
	changes      Changes

	offset    int64
	writeMode bool
	closed    bool

	// chunkIndex is the chunk the last write landed in.
	chunkIndex int

	// read cursor cache: readIndex starts at byte readStart.
	readIndex int
	readStart int64
}

type Option func(*Stream)

func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Stream) {
		if l != nil {
			s.log = l
		}
	}
}

// WithEncryptionType sets the type used when the stream creates chunks for
// a DataMap that has none yet. Existing chunked DataMaps keep their type.
func WithEncryptionType(t core.SelfEncryptionType) Option {
	return func(s *Stream) {
		if t != 0 {
			s.typ = t
		}
	}
}

// WithDeferredRelease keeps the ciphertexts a session supersedes in the
// store. They are reported by Changes for the caller to release once the
// new DataMap is safely recorded elsewhere.
func WithDeferredRelease() Option {
	return func(s *Stream) {
		s.deferRelease = true
	}
}

// Changes lists the chunk references a deferred-release stream added to
// the store and the ones its flushed DataMap no longer needs.
type Changes struct {
	Stored     []types.Hash
	Superseded []types.Hash
}

// Open binds a stream to dm. dm is only updated by a successful Flush and
// is consistent with the store whenever the stream hands it back.
func Open(ctx context.Context, dm *core.DataMap, store storage.ChunkStore, params Params, opts ...Option) (*Stream, error) {
	if dm == nil || store == nil {
		return nil, fmt.Errorf("%w: data map and store are required", ErrInvalidArgument)
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if err := dm.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	defaultLogger := logrus.New()
	defaultLogger.SetLevel(logrus.WarnLevel)

	s := &Stream{
		ctx:        ctx,
		dm:         dm.Clone(),
		out:        dm,
		store:      store,
		params:     params,
		typ:        core.DefaultSelfEncryptionType,
		log:        defaultLogger,
		buffers:    newWindow(),
		pending:    make(map[int]struct{}),
		seals:      make(map[int]seal),
		seq:        sequencer.New(),
		chunkIndex: -1,
		readIndex:  -1,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Stream) Size() int64 { return s.dm.Size }

func (s *Stream) Offset() int64 { return s.offset }

// DataMap returns the caller's map as of the last successful Flush.
func (s *Stream) DataMap() *core.DataMap { return s.out }

// Changes reports what a WithDeferredRelease stream has stored and
// superseded so far. Superseded only grows on successful Flush.
func (s *Stream) Changes() Changes {
	return Changes{
		Stored:     append([]types.Hash(nil), s.changes.Stored...),
		Superseded: append([]types.Hash(nil), s.changes.Superseded...),
	}
}

// Read reads from the current offset. Pending writes are flushed first.
func (s *Stream) Read(p []byte) (int, error) {
	if s.closed {
		return 0, ErrClosed
	}
	if len(p) == 0 {
		return 0, nil
	}
	if s.writeMode || !s.seq.Empty() {
		if err := s.flush(); err != nil {
			return 0, err
		}
	}
	if s.offset >= s.dm.Size {
		return 0, io.EOF
	}

	n := 0
	for n < len(p) && s.offset < s.dm.Size {
		index, start := s.locate(s.offset)
		content, err := s.readChunk(index)
		if err != nil {
			return n, err
		}
		within := s.offset - start
		if within >= int64(len(content)) {
			return n, fmt.Errorf("%w: chunk %d shorter than its recorded size", ErrIntegrity, index)
		}
		c := copy(p[n:], content[within:])
		n += c
		s.offset += int64(c)
	}
	return n, nil
}

// Write writes at the current offset and advances it.
func (s *Stream) Write(p []byte) (int, error) {
	if s.closed {
		return 0, ErrClosed
	}
	if len(p) == 0 {
		return 0, nil
	}
	n, err := s.writeAt(p, s.offset)
	s.offset += int64(n)
	if err != nil {
		return n, err
	}
	return n, s.drainSequencer()
}

// WriteAt writes at off without moving the offset. Data past the current
// end is staged until the gap before it is written, or zero filled by Flush.
func (s *Stream) WriteAt(p []byte, off int64) (int, error) {
	if s.closed {
		return 0, ErrClosed
	}
	if off < 0 {
		return 0, fmt.Errorf("%w: negative offset %d", ErrInvalidArgument, off)
	}
	if len(p) == 0 {
		return 0, nil
	}
	if off > s.dm.Size {
		if err := s.seq.Add(off, p); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
		}
		return len(p), nil
	}
	n, err := s.writeAt(p, off)
	if err != nil {
		return n, err
	}
	return n, s.drainSequencer()
}

// Seek sets the offset. Targets outside [0, Size] fail and leave it unchanged.
func (s *Stream) Seek(offset int64, whence int) (int64, error) {
	if s.closed {
		return s.offset, ErrClosed
	}
	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = s.offset + offset
	case io.SeekEnd:
		target = s.dm.Size + offset
	default:
		return s.offset, fmt.Errorf("%w: whence %d", ErrInvalidArgument, whence)
	}
	if target < 0 || target > s.dm.Size {
		return s.offset, fmt.Errorf("%w: %d not in [0, %d]", ErrInvalidSeek, target, s.dm.Size)
	}
	s.offset = target
	return target, nil
}

// Flush encrypts and stores everything written so far and leaves the
// DataMap consistent with the store.
func (s *Stream) Flush() error {
	if s.closed {
		return ErrClosed
	}
	return s.flush()
}

// Close flushes and releases the window. Closing twice is a no-op.
func (s *Stream) Close() error {
	if s.closed {
		return nil
	}
	if err := s.flush(); err != nil {
		return err
	}
	s.closed = true
	s.buffers.clear()
	return nil
}

func (s *Stream) chunkCount() int { return len(s.dm.Chunks) }

func (s *Stream) hashType() core.SelfEncryptionType {
	if s.dm.Type != 0 {
		return s.dm.Type
	}
	return s.typ
}

// locate walks the chunk list to the chunk holding off, resuming from the
// cached position when moving forward.
func (s *Stream) locate(off int64) (int, int64) {
	if s.readIndex < 0 || off < s.readStart {
		s.readIndex, s.readStart = 0, 0
	}
	n := s.chunkCount()
	for s.readIndex < n && off >= s.readStart+s.dm.Chunks[s.readIndex].PreSize {
		s.readStart += s.dm.Chunks[s.readIndex].PreSize
		s.readIndex++
	}
	return s.readIndex, s.readStart
}

func (s *Stream) readChunk(index int) ([]byte, error) {
	if index == s.chunkCount() {
		return s.dm.Content, nil
	}
	b, err := s.loadChunkIntoBuffer(index)
	if err != nil {
		return nil, err
	}
	return b.content, nil
}
