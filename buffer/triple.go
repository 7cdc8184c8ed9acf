// Package buffer provides the hand-off structures between frame producers and
// consumers: a triple buffer for one producer/one consumer, and a single-slot
// mailbox for fan-out to subscribers.
package buffer

import "sync/atomic"

const (
	indexMask = 0b011
	dirtyBit  = 0b100
)

// triple is the shared state. Slot ownership moves only through the atomic
// swap on spare, so each slot is touched by at most one side at a time.
type triple[T any] struct {
	slots [3]T
	// spare holds the index of the in-transit slot plus dirtyBit when that
	// slot carries a publish the consumer has not acquired yet.
	spare     atomic.Uint32
	published atomic.Uint64
}

// TripleInput is the producer handle. It must be used from one goroutine.
type TripleInput[T any] struct {
	t    *triple[T]
	back uint32
}

// TripleOutput is the consumer handle. It must be used from one goroutine.
type TripleOutput[T any] struct {
	t        *triple[T]
	front    uint32
	acquired uint64
}

// NewTriple creates a triple buffer whose three slots start as initial.
func NewTriple[T any](initial T) (*TripleInput[T], *TripleOutput[T]) {
	t := &triple[T]{slots: [3]T{initial, initial, initial}}
	t.spare.Store(1)
	return &TripleInput[T]{t: t, back: 2}, &TripleOutput[T]{t: t, front: 0}
}

// Back returns the slot the producer owns. Writing through it is safe until Publish.
func (in *TripleInput[T]) Back() *T {
	return &in.t.slots[in.back]
}

// Publish hands the back slot to the consumer and takes the spare slot in exchange.
func (in *TripleInput[T]) Publish() {
	in.t.published.Add(1)
	old := in.t.spare.Swap(in.back | dirtyBit)
	in.back = old & indexMask
}

// Write stores v in the back slot and publishes it.
func (in *TripleInput[T]) Write(v T) {
	in.t.slots[in.back] = v
	in.Publish()
}

// Published returns how many values have been published so far.
func (in *TripleInput[T]) Published() uint64 {
	return in.t.published.Load()
}

// Updated reports whether a publish is waiting to be acquired.
func (out *TripleOutput[T]) Updated() bool {
	return out.t.spare.Load()&dirtyBit != 0
}

// Update acquires the newest publish if there is one and reports whether the
// front slot changed.
func (out *TripleOutput[T]) Update() bool {
	if !out.Updated() {
		return false
	}
	old := out.t.spare.Swap(out.front)
	out.front = old & indexMask
	out.acquired++
	return true
}

// Read acquires the newest publish, if any, and returns the front slot. With
// no new publish the previously read value is returned again.
func (out *TripleOutput[T]) Read() T {
	out.Update()
	return out.t.slots[out.front]
}

// Peek returns the front slot without acquiring.
func (out *TripleOutput[T]) Peek() T {
	return out.t.slots[out.front]
}

// Dropped is the number of publishes overwritten before the consumer saw them.
func (out *TripleOutput[T]) Dropped() uint64 {
	p := out.t.published.Load()
	pending := uint64(0)
	if out.Updated() {
		pending = 1
	}
	if p < out.acquired+pending {
		return 0
	}
	return p - out.acquired - pending
}
