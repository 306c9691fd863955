package stream

import (
	"errors"
	"fmt"
	"sort"

	"selfvault/pkg/core"
	"selfvault/pkg/crypt"
	"selfvault/pkg/storage"
	"selfvault/pkg/types"

	"github.com/sirupsen/logrus"
)

// chainKeys are the keys chunk i must end up sealed under.
func (s *Stream) chainKeys(i int) keyPair {
	n := s.chunkCount()
	return keyPair{
		a: s.dm.Chunks[(i+1)%n].PreHash.Hash,
		b: s.dm.Chunks[(i+2)%n].PreHash.Hash,
	}
}

// sealOf describes the ciphertext currently stored for chunk i. Without a
// recorded seal the DataMap is still the one the chunk was stored under.
func (s *Stream) sealOf(i int) (seal, bool) {
	if sl, ok := s.seals[i]; ok {
		return sl, true
	}
	d := s.dm.Chunks[i]
	if d.Cid.IsZero() {
		return seal{}, false
	}
	return seal{keys: s.chainKeys(i), preHash: d.PreHash.Hash, preSize: d.PreSize}, true
}

// pinSeals records the current seal of each stored index before a DataMap
// change alters what chainKeys would report for it.
func (s *Stream) pinSeals(indices ...int) {
	for _, i := range indices {
		if i < 0 || i >= s.chunkCount() {
			continue
		}
		if _, ok := s.seals[i]; ok {
			continue
		}
		if sl, ok := s.sealOf(i); ok {
			s.seals[i] = sl
		}
	}
}

func (s *Stream) markPending(indices ...int) {
	for _, i := range indices {
		if i >= 0 {
			s.pending[i] = struct{}{}
		}
	}
}

func (s *Stream) pendingIndices() []int {
	out := make([]int, 0, len(s.pending))
	for i := range s.pending {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

// predecessors returns the chunks keyed by chunk k's hash.
func predecessors(k, n int) []int {
	if n == 0 {
		return nil
	}
	return []int{((k-1)%n + n) % n, ((k-2)%n + n) % n}
}

// fetch loads chunk i from the store and checks it against its seal.
func (s *Stream) fetch(i int) ([]byte, error) {
	sl, ok := s.sealOf(i)
	if !ok {
		return nil, fmt.Errorf("%w: chunk %d has never been stored", ErrHashChain, i)
	}
	cid := s.dm.Chunks[i].Cid.Hash
	ciphertext, err := s.store.Get(s.ctx, cid)
	if err != nil {
		return nil, fmt.Errorf("%w: get chunk %d (%s): %w", ErrStore, i, cid.Short(), err)
	}
	plain, err := crypt.SelfDecryptChunk(ciphertext, sl.keys.a, sl.keys.b, s.dm.Type, sl.preSize)
	if err != nil {
		return nil, fmt.Errorf("%w: chunk %d: %v", ErrIntegrity, i, err)
	}
	if int64(len(plain)) != sl.preSize || crypt.Hash(plain, s.dm.Type) != sl.preHash {
		return nil, fmt.Errorf("%w: chunk %d does not match its recorded hash", ErrIntegrity, i)
	}
	return plain, nil
}

// loadChunkIntoBuffer makes the window slot for i hold chunk i.
func (s *Stream) loadChunkIntoBuffer(i int) (*chunkBuffer, error) {
	b := s.buffers.slot(i)
	if b.index == i && len(b.content) > 0 {
		return b, nil
	}
	plain, err := s.fetch(i)
	if err != nil {
		if errors.Is(err, ErrIntegrity) {
			b.zero()
			s.log.WithFields(logrus.Fields{"chunk": i}).Warn("chunk failed integrity check")
		}
		return nil, err
	}
	b.index = i
	b.content = plain
	b.hash = s.dm.Chunks[i].PreHash.Hash
	return b, nil
}

// plaintext returns the committed content of chunk i without disturbing
// the window.
func (s *Stream) plaintext(i int) ([]byte, error) {
	if b := s.buffers.buffered(i); b != nil {
		if b.dirty() {
			return nil, fmt.Errorf("%w: chunk %d has uncommitted changes", ErrHashChain, i)
		}
		return b.content, nil
	}
	sl, ok := s.sealOf(i)
	if !ok || sl.preHash != s.dm.Chunks[i].PreHash.Hash {
		return nil, fmt.Errorf("%w: content of chunk %d is not available", ErrHashChain, i)
	}
	return s.fetch(i)
}

// storeChunk seals chunk i under keys. Nothing is written when the chunk
// already holds this content under these keys. A replaced ciphertext is
// kept until the session flushes, since the caller's map may still use it.
func (s *Stream) storeChunk(i int, keys keyPair) error {
	d := &s.dm.Chunks[i]
	if sl, ok := s.sealOf(i); ok && sl.keys == keys && sl.preHash == d.PreHash.Hash {
		return nil
	}
	content, err := s.plaintext(i)
	if err != nil {
		return err
	}

	ciphertext, cid, err := s.encrypt(content, keys)
	if err != nil {
		return err
	}
	old := d.Cid.Hash
	if cid != old {
		if err := s.store.Store(s.ctx, cid, ciphertext); err != nil {
			return fmt.Errorf("%w: store chunk %d: %w", ErrStore, i, err)
		}
		d.Cid = core.NewLink(cid)
		d.Size = int64(len(ciphertext))
		s.recordStored(cid)
		if !old.IsZero() {
			s.orphans = append(s.orphans, old)
		}
		s.log.WithFields(logrus.Fields{"chunk": i, "cid": cid.Short()}).Debug("stored chunk")
	}
	s.seals[i] = seal{keys: keys, preHash: d.PreHash.Hash, preSize: d.PreSize}
	return nil
}

func (s *Stream) encrypt(content []byte, keys keyPair) ([]byte, types.Hash, error) {
	ciphertext, err := crypt.SelfEncryptChunk(content, keys.a, keys.b, s.dm.Type)
	if err != nil {
		return nil, "", fmt.Errorf("encrypt chunk: %w", err)
	}
	return ciphertext, crypt.Hash(ciphertext, s.dm.Type), nil
}

func (s *Stream) recordStored(cid types.Hash) {
	if s.deferRelease {
		s.changes.Stored = append(s.changes.Stored, cid)
	}
}

// release drops one reference to a superseded ciphertext. Failures only
// leak a chunk, so they are logged rather than returned.
func (s *Stream) release(cid types.Hash) {
	if cid.IsZero() {
		return
	}
	if err := s.store.Delete(s.ctx, cid); err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.log.WithError(err).WithField("cid", cid.Short()).Warn("failed to delete superseded chunk")
	}
}

// initialiseDataMap fixes the encryption type from a sample of content.
func (s *Stream) initialiseDataMap(content []byte) {
	typ := s.typ
	if typ.Compression() != 0 && !crypt.CheckCompressibility(crypt.MiddleSample(content), typ) {
		typ = typ.WithoutCompression()
	}
	s.dm.Type = typ
}

// finaliseWriting commits the buffered content of chunk k to the DataMap
// and queues every chunk whose keys depend on it.
func (s *Stream) finaliseWriting(k int) error {
	b := s.buffers.buffered(k)
	n := s.chunkCount()
	if b == nil || (!b.dirty() && k < n) {
		return nil
	}
	if len(b.content) == 0 {
		b.clear()
		return nil
	}

	for j := n; j < k; j++ {
		if s.buffers.buffered(j) == nil {
			return fmt.Errorf("%w: chunk %d precedes %d but is not buffered", ErrHashChain, j, k)
		}
		if err := s.finaliseWriting(j); err != nil {
			return err
		}
	}
	n = s.chunkCount()
	if k > n {
		return fmt.Errorf("%w: chunk %d cannot follow %d chunks", ErrHashChain, k, n)
	}

	// Chunk 0 picks a provisional type. The middle chunk of the first three
	// settles it, as long as nothing has been sealed under the first choice.
	if (k == 0 && n == 0) || (k == 1 && n == 1 && s.dm.Chunks[0].Cid.IsZero()) {
		s.initialiseDataMap(b.content)
	}
	h := crypt.Hash(b.content, s.hashType())
	size := int64(len(b.content))

	if k < n {
		d := &s.dm.Chunks[k]
		if d.PreHash.Hash == h && d.PreSize == size {
			b.hash = h
			return nil
		}
		deps := predecessors(k, n)
		s.pinSeals(append([]int{k}, deps...)...)
		d.PreHash = core.NewLink(h)
		d.PreSize = size
		s.markPending(append([]int{k}, deps...)...)
	} else {
		// Appending moves the wrap-around of the last two chunks.
		s.pinSeals(n-1, n-2)
		s.dm.Chunks = append(s.dm.Chunks, core.ChunkDetails{PreHash: core.NewLink(h), PreSize: size})
		s.markPending(k, n-1, n-2)
	}
	b.hash = h

	if k >= core.MinChunks-1 {
		return s.reencryptPrePredecessor(k)
	}
	return nil
}

// reencryptPrePredecessor seals chunk k-2 with the hashes of k-1 and k as
// soon as both are known, so it need not stay in memory until Flush.
func (s *Stream) reencryptPrePredecessor(k int) error {
	p := k + 1 - core.MinChunks
	keyA, ok, err := s.knownHash(k - 1)
	if err != nil || !ok {
		return err
	}
	if pb := s.buffers.buffered(p); pb != nil && pb.dirty() {
		return nil
	}
	if err := s.storeChunk(p, keyPair{a: keyA, b: s.dm.Chunks[k].PreHash.Hash}); err != nil {
		return err
	}
	delete(s.pending, p)
	return nil
}

// knownHash returns the committed plaintext hash of chunk i, preferring
// the window. ok is false while the chunk has uncommitted changes.
func (s *Stream) knownHash(i int) (types.Hash, bool, error) {
	if b := s.buffers.buffered(i); b != nil {
		if b.dirty() {
			return "", false, nil
		}
		return b.hash, true, nil
	}
	if i >= 0 && i < s.chunkCount() {
		return s.dm.Chunks[i].PreHash.Hash, true, nil
	}
	return "", false, fmt.Errorf("%w: chunk %d is neither buffered nor mapped", ErrHashChain, i)
}

// looseHash is a best effort hash for provisional keys: the ciphertext is
// re-sealed on Flush if it turns out wrong.
func (s *Stream) looseHash(i int) types.Hash {
	if b := s.buffers.buffered(i); b != nil && len(b.content) > 0 {
		if !b.hash.IsZero() {
			return b.hash
		}
		return crypt.Hash(b.content, s.hashType())
	}
	if n := s.chunkCount(); n > 0 {
		return s.dm.Chunks[i%n].PreHash.Hash
	}
	return crypt.Hash(nil, s.hashType())
}

// needsStore reports whether dropping the slot would lose data.
func (s *Stream) needsStore(b *chunkBuffer) bool {
	if b.empty() {
		return false
	}
	if b.dirty() || b.index >= s.chunkCount() {
		return true
	}
	d := s.dm.Chunks[b.index]
	sl, ok := s.sealOf(b.index)
	return !ok || sl.preHash != d.PreHash.Hash
}

// evict frees a slot, committing and provisionally storing its chunk first.
func (s *Stream) evict(b *chunkBuffer) error {
	if b.empty() {
		return nil
	}
	j := b.index
	if err := s.finaliseWriting(j); err != nil {
		return err
	}
	if s.needsStore(b) {
		keys := keyPair{a: s.looseHash(j + 1), b: s.looseHash(j + 2)}
		if err := s.storeChunk(j, keys); err != nil {
			return err
		}
	}
	b.clear()
	return nil
}
