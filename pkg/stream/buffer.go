package stream

import (
	"sort"

	"selfvault/pkg/core"
	"selfvault/pkg/types"
)

// chunkBuffer is one slot of the window. A slot is only trusted for the
// index it is tagged with. hash is empty while content has uncommitted
// changes.
type chunkBuffer struct {
	index   int
	content []byte
	hash    types.Hash
}

func (b *chunkBuffer) empty() bool { return b.index < 0 }

func (b *chunkBuffer) dirty() bool { return b.index >= 0 && b.hash.IsZero() }

func (b *chunkBuffer) clear() {
	b.index = -1
	b.content = nil
	b.hash = ""
}

// zero wipes the slot after a failed integrity check.
func (b *chunkBuffer) zero() {
	for i := range b.content {
		b.content[i] = 0
	}
	b.clear()
}

type window [core.MinChunks]chunkBuffer

func newWindow() window {
	var w window
	for i := range w {
		w[i].clear()
	}
	return w
}

func (w *window) slot(index int) *chunkBuffer {
	return &w[index%core.MinChunks]
}

// buffered returns the slot holding index, or nil.
func (w *window) buffered(index int) *chunkBuffer {
	if index < 0 {
		return nil
	}
	if b := w.slot(index); b.index == index {
		return b
	}
	return nil
}

// indices lists occupied slots in ascending chunk order.
func (w *window) indices() []int {
	var out []int
	for i := range w {
		if !w[i].empty() {
			out = append(out, w[i].index)
		}
	}
	sort.Ints(out)
	return out
}

func (w *window) maxIndex() int {
	highest := -1
	for i := range w {
		if w[i].index > highest {
			highest = w[i].index
		}
	}
	return highest
}

func (w *window) clear() {
	for i := range w {
		w[i].clear()
	}
}
