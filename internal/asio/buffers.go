// SPDX-License-Identifier: MIT
package asio

import (
	"sync/atomic"
	"unsafe"
)

// AllocRegion returns a zeroed buffer region of n bytes aligned for 8 byte
// sample access. Drivers written in Go use it to fill BufferInfo.Buffers.
func AllocRegion(n int) []byte {
	if n <= 0 {
		return nil
	}
	words := make([]uint64, (n+7)/8)
	return unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), n)
}

// ChannelRequest selects one channel for buffer creation.
type ChannelRequest struct {
	Input bool
	Index int32
}

// region is one driver-owned half of a channel buffer. Its bytes are never
// exposed directly; the host reaches them only through a Lease.
type region struct {
	data []byte
}

// BufferSlot is one channel's pair of alternating regions.
type BufferSlot struct {
	Input      bool
	Channel    int32
	SampleType SampleType
	regions    [2]region
}

// BufferSet is the batch of slots produced by one CreateBuffers call, in
// request order. It is valid until DisposeBuffers.
type BufferSet struct {
	slots  []BufferSlot
	frames int32

	gen  atomic.Uint64 // bumped on every grant and on disposal
	half atomic.Int32
	dead atomic.Bool
}

func newBufferSet(slots []BufferSlot, frames int32) *BufferSet {
	s := &BufferSet{slots: slots, frames: frames}
	s.gen.Store(1)
	return s
}

// Len returns the number of slots.
func (s *BufferSet) Len() int { return len(s.slots) }

// Frames returns the buffer size in sample frames.
func (s *BufferSet) Frames() int32 { return s.frames }

// Slot returns the description of slot i.
func (s *BufferSet) Slot(i int) BufferSlot {
	return s.slots[i]
}

// Find returns the slot index addressing (input, channel) or -1.
func (s *BufferSet) Find(input bool, channel int32) int {
	for i := range s.slots {
		if s.slots[i].Input == input && s.slots[i].Channel == channel {
			return i
		}
	}
	return -1
}

// Disposed reports whether the regions have been released.
func (s *BufferSet) Disposed() bool {
	return s.dead.Load()
}

// Lease returns the currently granted half. Before the first switch the
// host holds half 0, which lets it prime outputs before Start.
func (s *BufferSet) Lease() Lease {
	if s.dead.Load() {
		return Lease{}
	}
	return Lease{set: s, half: s.half.Load(), gen: s.gen.Load()}
}

// grant hands half to the host and revokes every earlier lease. It runs on
// the driver's callback context.
func (s *BufferSet) grant(half int32) Lease {
	s.half.Store(half)
	return Lease{set: s, half: half, gen: s.gen.Add(1)}
}

func (s *BufferSet) invalidate() {
	s.dead.Store(true)
	s.gen.Add(1)
	for i := range s.slots {
		s.slots[i].regions = [2]region{}
	}
}

// Lease is a time-boxed access grant to one half of every slot. It expires
// at the next buffer switch or at disposal, after which every accessor
// returns nil. Leases are plain values and cost no allocation.
type Lease struct {
	set  *BufferSet
	half int32
	gen  uint64
}

// Index returns the granted half, 0 or 1.
func (l Lease) Index() int32 { return l.half }

// Valid reports whether the lease is still the current grant.
func (l Lease) Valid() bool {
	return l.set != nil && !l.set.dead.Load() && l.set.gen.Load() == l.gen
}

// Len returns the number of slots covered by the lease.
func (l Lease) Len() int {
	if l.set == nil {
		return 0
	}
	return len(l.set.slots)
}

// Bytes returns the granted half of slot i.
func (l Lease) Bytes(i int) []byte {
	if !l.Valid() || i < 0 || i >= len(l.set.slots) {
		return nil
	}
	return l.set.slots[i].regions[l.half].data
}

// Int32s views slot i as little-endian 32 bit integers. It returns nil for
// slots of any other encoding.
func (l Lease) Int32s(i int) []int32 {
	b := l.Bytes(i)
	if len(b) < 4 {
		return nil
	}
	switch l.set.slots[i].SampleType {
	case SampleTypeInt32LSB, SampleTypeInt32LSB16, SampleTypeInt32LSB18,
		SampleTypeInt32LSB20, SampleTypeInt32LSB24:
		return unsafe.Slice((*int32)(unsafe.Pointer(&b[0])), len(b)/4)
	}
	return nil
}

// Float32s views slot i as little-endian IEEE 754 floats. It returns nil for
// slots of any other encoding.
func (l Lease) Float32s(i int) []float32 {
	b := l.Bytes(i)
	if len(b) < 4 || l.set.slots[i].SampleType != SampleTypeFloat32LSB {
		return nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&b[0])), len(b)/4)
}

// Clear zeroes the granted half of every slot.
func (l Lease) Clear() {
	for i := range l.Len() {
		clear(l.Bytes(i))
	}
}
