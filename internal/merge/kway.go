// Package merge combines pre-sorted sequences into one sorted sequence.
package merge

import "container/heap"

// KWay merges seqs, each already ordered by cmp, into a single sequence
// ordered by cmp. cmp(a, b) < 0 means a comes first. Elements that compare
// equal keep the order of the sequences they came from, and each input's own
// order is preserved. Runs in O(n log k).
func KWay[T any](seqs [][]T, cmp func(a, b T) int) []T {
	total := 0
	for _, s := range seqs {
		total += len(s)
	}
	out := make([]T, 0, total)
	if total == 0 {
		return out
	}

	h := &cursorHeap[T]{cmp: cmp, items: make([]cursor[T], 0, len(seqs))}
	for i, s := range seqs {
		if len(s) > 0 {
			h.items = append(h.items, cursor[T]{head: s[0], seq: i})
		}
	}
	heap.Init(h)

	for h.Len() > 0 {
		top := h.items[0]
		out = append(out, top.head)
		next := top.pos + 1
		if next < len(seqs[top.seq]) {
			h.items[0] = cursor[T]{head: seqs[top.seq][next], seq: top.seq, pos: next}
			heap.Fix(h, 0)
			continue
		}
		heap.Pop(h)
	}
	return out
}

// FirstUnsorted returns the index of the first element of seq that sorts
// before its predecessor under cmp, or -1 when seq is ordered.
func FirstUnsorted[T any](seq []T, cmp func(a, b T) int) int {
	for i := 1; i < len(seq); i++ {
		if cmp(seq[i-1], seq[i]) > 0 {
			return i
		}
	}
	return -1
}

type cursor[T any] struct {
	head T
	seq  int
	pos  int
}

type cursorHeap[T any] struct {
	cmp   func(a, b T) int
	items []cursor[T]
}

func (h *cursorHeap[T]) Len() int { return len(h.items) }

func (h *cursorHeap[T]) Less(i, j int) bool {
	if c := h.cmp(h.items[i].head, h.items[j].head); c != 0 {
		return c < 0
	}
	return h.items[i].seq < h.items[j].seq
}

func (h *cursorHeap[T]) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *cursorHeap[T]) Push(x any) { h.items = append(h.items, x.(cursor[T])) }

func (h *cursorHeap[T]) Pop() any {
	old := h.items
	n := len(old)
	it := old[n-1]
	h.items = old[:n-1]
	return it
}
