// SPDX-License-Identifier: MIT
/*
Package asio implements the host side of a real-time audio driver protocol.

A Handle binds one driver's dispatch table and walks it through a strict
lifecycle:

	Unbound -> Activated -> Initialized -> BuffersCreated <-> Running
	                                   ^________________|  (DisposeBuffers)

Every call from an illegal state is rejected with ErrInvalidMode before it
reaches the driver.

Execution contexts:
  - Control context: every Handle method except OutputReady. Calls may block
    and allocate, and are serialized by the handle.
  - Driver context: the callbacks in CallbackSet. They are invoked by the
    driver on a goroutine it owns, one at a time, with no guarantee it is the
    same goroutine across invocations. Host callbacks must not block, must not
    allocate, and must not call CreateBuffers, DisposeBuffers, Start or Stop.
    Doing so is a contract violation and is not detected.

Buffer memory belongs to the driver. The host touches it only through the
Lease delivered with each switch; the half index alternation is the only
synchronization between the two sides.
*/
package asio

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	applog "asiohost/internal/log"
	"asiohost/pkg/bitint"

	"github.com/google/uuid"
)

// State is the lifecycle position of a Handle.
type State int32

const (
	Unbound State = iota
	Activated
	Initialized
	BuffersCreated
	Running
)

func (s State) String() string {
	switch s {
	case Unbound:
		return "unbound"
	case Activated:
		return "activated"
	case Initialized:
		return "initialized"
	case BuffersCreated:
		return "buffers-created"
	case Running:
		return "running"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

type stateMask uint8

func maskOf(states ...State) stateMask {
	var m stateMask
	for _, s := range states {
		m |= 1 << s
	}
	return m
}

var (
	controlStates = maskOf(Initialized, BuffersCreated, Running)
	bufferStates  = maskOf(BuffersCreated, Running)
)

// CallbackSet is the host's half of the callback contract. BufferSwitch is
// mandatory; the others may be nil. All of them run on the driver context.
type CallbackSet struct {
	// BufferSwitch receives the lease for the half the host may now process.
	// direct reports whether processing may happen inside the callback.
	BufferSwitch func(lease Lease, direct bool)

	// SampleRateDidChange reports an out-of-band rate change.
	SampleRateDidChange func(rate SampleRate)

	// Message receives driver-initiated events not serviced by the handle.
	Message func(selector MessageSelector, value int32, message any) int32

	// BufferSwitchTimeInfo replaces BufferSwitch once time info has been
	// negotiated. It returns the (possibly modified) time record.
	BufferSwitchTimeInfo func(t *Time, lease Lease, direct bool) *Time
}

// SwitchStats is a snapshot of the data-plane bookkeeping.
type SwitchStats struct {
	Switches            uint64
	TimeInfoSwitches    uint64
	AlternationFaults   uint64 // same half granted twice in a row, or an index outside 0/1
	PositionRegressions uint64 // sample position went backwards without a resync
	RateChanges         uint64
	LastIndex           int32
	LastPosition        Samples
}

type switchCounters struct {
	switches     atomic.Uint64
	timeInfo     atomic.Uint64
	faults       atomic.Uint64
	regressions  atomic.Uint64
	rateChanges  atomic.Uint64
	lastIndex    atomic.Int32
	lastPosition atomic.Int64
	havePosition atomic.Bool
}

func (c *switchCounters) reset() {
	c.switches.Store(0)
	c.timeInfo.Store(0)
	c.faults.Store(0)
	c.regressions.Store(0)
	c.rateChanges.Store(0)
	c.lastIndex.Store(-1)
	c.lastPosition.Store(0)
	c.havePosition.Store(false)
}

// Handle is a live binding to one driver instance. It is owned by a single
// host session.
type Handle struct {
	id       uuid.UUID
	drv      Driver
	platform Platform
	log      *applog.Logger

	mu       sync.Mutex // serializes control context calls
	state    atomic.Int32
	last     atomic.Int32
	released bool
	buffers  *BufferSet

	// Data-plane state, read by the trampolines without locking.
	live     atomic.Pointer[BufferSet]
	host     CallbackSet
	abi      Callbacks
	timeInfo atomic.Bool
	resync   atomic.Bool
	counters switchCounters
}

// Activate resolves id through activator and binds the resulting dispatch
// table. The platform facility is acquired first and released again on
// every failure path; a successful handle holds it until Teardown.
// A nil platform means the activator needs no process-wide facility.
func Activate(id uuid.UUID, activator Activator, platform Platform) (h *Handle, err error) {
	if activator == nil {
		return nil, fmt.Errorf("%w: no activator", ErrPlatform)
	}
	if platform != nil {
		if err := platform.Acquire(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrPlatform, err)
		}
		defer func() {
			if err != nil {
				_ = platform.Release()
			}
		}()
	}

	drv, err := activator.Activate(id)
	switch {
	case err == nil && drv == nil:
		return nil, fmt.Errorf("%w: %s: activator returned no driver", ErrActivationRejected, id)
	case err == nil:
	case errors.Is(err, ErrDriverNotFound), errors.Is(err, ErrActivationRejected):
		return nil, fmt.Errorf("activate %s: %w", id, err)
	default:
		return nil, fmt.Errorf("activate %s: %w: %w", id, ErrActivationRejected, err)
	}

	h = &Handle{
		id:       id,
		drv:      drv,
		platform: platform,
		log:      applog.For("asio"),
	}
	h.state.Store(int32(Activated))
	h.counters.reset()
	h.abi = Callbacks{
		BufferSwitch:         h.onBufferSwitch,
		SampleRateDidChange:  h.onSampleRateDidChange,
		Message:              h.onMessage,
		BufferSwitchTimeInfo: h.onBufferSwitchTimeInfo,
	}
	h.log.Debugf("activated driver %s", id)
	return h, nil
}

// ID returns the identifier the handle was activated with.
func (h *Handle) ID() uuid.UUID { return h.id }

// State returns the current lifecycle state.
func (h *Handle) State() State { return State(h.state.Load()) }

// LastResult returns the raw code of the most recent coded dispatch. Both
// success literals are preserved as emitted by the driver.
func (h *Handle) LastResult() Error { return Error(h.last.Load()) }

func (h *Handle) setState(s State) {
	h.log.Debugf("%s -> %s", h.State(), s)
	h.state.Store(int32(s))
}

func (h *Handle) require(allowed stateMask) error {
	if allowed&(1<<h.State()) == 0 {
		return ErrInvalidMode
	}
	return nil
}

// result records code as the outcome of a dispatch through slot.
func (h *Handle) result(slot Slot, code Error) error {
	h.last.Store(int32(code))
	if code.IsSuccess() {
		h.log.Debugf("%s: %s", slot, code)
	} else {
		h.log.Debugf("%s: %s (%s)", slot, code, code.Class())
	}
	return code.Err()
}

// Initialize binds the driver to the host context. It returns false when
// the driver declines, or when the handle is not freshly activated.
func (h *Handle) Initialize(sysHandle any) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.State() != Activated {
		h.log.Warnf("init refused in state %s", h.State())
		return false
	}
	ok := h.drv.Init(sysHandle).Bool()
	h.log.Debugf("%s: %t", SlotInit, ok)
	if ok {
		h.setState(Initialized)
	}
	return ok
}

// Teardown stops the stream, disposes buffers, releases the driver object
// and finally the platform facility. The facility is released even when an
// earlier step fails. A second call returns ErrInvalidMode.
func (h *Handle) Teardown() (err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.released {
		return ErrInvalidMode
	}
	h.released = true

	defer func() {
		h.setState(Unbound)
		if h.platform != nil {
			if perr := h.platform.Release(); perr != nil {
				err = errors.Join(err, fmt.Errorf("release platform: %w", perr))
			}
		}
	}()

	var errs []error
	if h.State() == Running {
		if err := h.result(SlotStop, h.drv.Stop()); err != nil {
			errs = append(errs, fmt.Errorf("stop: %w", err))
		}
		h.setState(BuffersCreated)
	}
	if h.State() == BuffersCreated {
		if err := h.disposeLocked(); err != nil {
			errs = append(errs, fmt.Errorf("dispose buffers: %w", err))
		}
	}
	if err := h.drv.Release(); err != nil {
		errs = append(errs, fmt.Errorf("release driver: %w", err))
	}
	h.log.Debugf("driver %s released", h.id)
	return errors.Join(errs...)
}

// Start begins the data stream. Buffers must exist.
func (h *Handle) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.require(maskOf(BuffersCreated)); err != nil {
		return err
	}
	// The first switch may arrive before the driver's Start returns.
	h.setState(Running)
	if err := h.result(SlotStart, h.drv.Start()); err != nil {
		h.setState(BuffersCreated)
		return err
	}
	return nil
}

// Stop suppresses future callbacks. A callback already in progress is not
// preempted. Stopping a stream that is not running is a successful no-op.
func (h *Handle) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch h.State() {
	case Running:
	case BuffersCreated:
		return nil
	default:
		return ErrInvalidMode
	}
	if err := h.result(SlotStop, h.drv.Stop()); err != nil {
		return err
	}
	h.setState(BuffersCreated)
	return nil
}

// CreateBuffers asks the driver for one pair of regions per requested
// channel and registers cb. size must be permitted by BufferSize.
func (h *Handle) CreateBuffers(channels []ChannelRequest, size int32, cb CallbackSet) (*BufferSet, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.require(maskOf(Initialized)); err != nil {
		return nil, err
	}
	if cb.BufferSwitch == nil || len(channels) == 0 {
		return nil, ErrInvalidParameter
	}

	var numIn, numOut int32
	if err := h.result(SlotGetChannels, h.drv.Channels(&numIn, &numOut)); err != nil {
		return nil, err
	}
	var r BufferSizeRange
	if err := h.result(SlotGetBufferSize, h.drv.BufferSize(&r.Min, &r.Max, &r.Preferred, &r.Granularity)); err != nil {
		return nil, err
	}
	if !r.Permits(size) {
		h.log.Warnf("buffer size %d not permitted by %s", size, r)
		return nil, ErrInvalidParameter
	}

	seen := make(map[ChannelRequest]struct{}, len(channels))
	slots := make([]BufferSlot, len(channels))
	infos := make([]BufferInfo, len(channels))
	for i, req := range channels {
		limit := numOut
		if req.Input {
			limit = numIn
		}
		if req.Index < 0 || req.Index >= limit {
			return nil, ErrInvalidParameter
		}
		if _, dup := seen[req]; dup {
			return nil, ErrInvalidParameter
		}
		seen[req] = struct{}{}

		ci := ChannelInfo{Channel: req.Index, IsInput: BoolOf(req.Input)}
		if err := h.result(SlotGetChannelInfo, h.drv.ChannelInfo(&ci)); err != nil {
			return nil, err
		}
		slots[i] = BufferSlot{Input: req.Input, Channel: req.Index, SampleType: ci.SampleType}
		infos[i] = BufferInfo{IsInput: BoolOf(req.Input), ChannelNum: req.Index}
	}

	h.host = cb
	h.counters.reset()
	h.resync.Store(false)

	if err := h.result(SlotCreateBuffers, h.drv.CreateBuffers(infos, size, &h.abi)); err != nil {
		return nil, err
	}
	for i := range infos {
		if infos[i].Buffers[0] == nil || infos[i].Buffers[1] == nil {
			h.log.Errorf("driver returned no region for channel %d (input=%t)", infos[i].ChannelNum, infos[i].IsInput.Bool())
			_ = h.result(SlotDisposeBuffers, h.drv.DisposeBuffers())
			return nil, ErrNoMemory
		}
		slots[i].regions = [2]region{{data: infos[i].Buffers[0]}, {data: infos[i].Buffers[1]}}
	}

	set := newBufferSet(slots, size)
	h.buffers = set
	h.live.Store(set)
	h.setState(BuffersCreated)
	return set, nil
}

// DisposeBuffers releases the regions. A running stream is stopped first.
// Every lease and region address obtained earlier becomes invalid, even if
// the driver reports an error.
func (h *Handle) DisposeBuffers() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.require(bufferStates); err != nil {
		return err
	}
	if h.State() == Running {
		if err := h.result(SlotStop, h.drv.Stop()); err != nil {
			h.log.Warnf("stop before dispose: %v", err)
		}
		h.setState(BuffersCreated)
	}
	return h.disposeLocked()
}

func (h *Handle) disposeLocked() error {
	err := h.result(SlotDisposeBuffers, h.drv.DisposeBuffers())
	h.live.Store(nil)
	if h.buffers != nil {
		h.buffers.invalidate()
		h.buffers = nil
	}
	h.setState(Initialized)
	return err
}

// Buffers returns the live buffer set, or nil.
func (h *Handle) Buffers() *BufferSet {
	return h.live.Load()
}

// Stats returns a snapshot of the switch bookkeeping. It is safe to call
// from any context.
func (h *Handle) Stats() SwitchStats {
	c := &h.counters
	return SwitchStats{
		Switches:            c.switches.Load(),
		TimeInfoSwitches:    c.timeInfo.Load(),
		AlternationFaults:   c.faults.Load(),
		PositionRegressions: c.regressions.Load(),
		RateChanges:         c.rateChanges.Load(),
		LastIndex:           c.lastIndex.Load(),
		LastPosition:        Samples(c.lastPosition.Load()),
	}
}

// OutputReady tells the driver the output half is complete. It may be
// called from BufferSwitch and therefore never locks or logs.
func (h *Handle) OutputReady() error {
	if h.State() != Running {
		return ErrInvalidMode
	}
	return h.drv.OutputReady().Err()
}

// --- driver context trampolines ---

func (h *Handle) advance(set *BufferSet, index int32) Lease {
	c := &h.counters
	prev := c.lastIndex.Swap(index)
	if (index != 0 && index != 1) || index == prev {
		c.faults.Add(1)
	}
	c.switches.Add(1)
	return set.grant(index & 1)
}

func (h *Handle) onBufferSwitch(index int32, direct Bool) {
	set := h.live.Load()
	if set == nil {
		return
	}
	lease := h.advance(set, index)
	h.host.BufferSwitch(lease, direct.Bool())
}

func (h *Handle) onBufferSwitchTimeInfo(t *Time, index int32, direct Bool) *Time {
	set := h.live.Load()
	if set == nil {
		return t
	}
	lease := h.advance(set, index)
	c := &h.counters
	c.timeInfo.Add(1)

	if t != nil && t.TimeInfo.Flags.Has(SamplePositionValid) {
		pos := int64(t.TimeInfo.SamplePosition)
		prev := c.lastPosition.Swap(pos)
		hadPosition := c.havePosition.Swap(true)
		// A resync excuses only the first position reported after it.
		resynced := h.resync.Swap(false)
		if hadPosition && pos < prev && !resynced {
			c.regressions.Add(1)
		}
	}

	if cb := h.host.BufferSwitchTimeInfo; cb != nil {
		return cb(t, lease, direct.Bool())
	}
	h.host.BufferSwitch(lease, direct.Bool())
	return t
}

func (h *Handle) onSampleRateDidChange(rate SampleRate) {
	h.counters.rateChanges.Add(1)
	if cb := h.host.SampleRateDidChange; cb != nil {
		cb(rate)
	}
}

func (h *Handle) onMessage(sel MessageSelector, value int32, message any, opt *float64) int32 {
	switch sel {
	case SelectorSupported:
		switch MessageSelector(value) {
		case SelectorSupported, EngineVersion, SupportsTimeInfo:
			return 1
		}
	case EngineVersion:
		return HostEngineVersion
	case SupportsTimeInfo:
		if h.timeInfo.Load() && h.host.BufferSwitchTimeInfo != nil {
			return 1
		}
		return 0
	case ResyncRequest:
		h.resync.Store(true)
	}
	if cb := h.host.Message; cb != nil {
		return cb(sel, value, message)
	}
	return 0
}

// BufferSizeRange is the driver's buffer size negotiation result.
type BufferSizeRange struct {
	Min, Max, Preferred int32
	// Granularity is -1 for power of two steps, a positive step for linear
	// increments from Min, or 0 when only one size is possible.
	Granularity int32
}

// Permits reports whether n is an acceptable CreateBuffers size.
func (r BufferSizeRange) Permits(n int32) bool {
	if n <= 0 || n < r.Min || n > r.Max {
		return false
	}
	switch {
	case r.Granularity == -1:
		return bitint.IsPowerOfTwo32(n)
	case r.Granularity > 0:
		return (n-r.Min)%r.Granularity == 0
	default:
		return n == r.Min || n == r.Preferred
	}
}

func (r BufferSizeRange) String() string {
	return fmt.Sprintf("min=%d max=%d preferred=%d granularity=%d", r.Min, r.Max, r.Preferred, r.Granularity)
}

func validRate(rate SampleRate) bool {
	f := float64(rate)
	return f >= 0 && !math.IsNaN(f) && !math.IsInf(f, 0)
}
