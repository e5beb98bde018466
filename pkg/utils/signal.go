// SPDX-License-Identifier: MIT
//
// Package utils holds small signal generators shared by the drivers, the
// engine and tests. The Fill methods never allocate and are safe to call
// from a buffer switch.
package utils

import (
	"math"
	"math/rand/v2"
)

// Sine is a phase-accumulating oscillator.
type Sine struct {
	phase float64
	step  float64
	Gain  float32
}

// NewSine returns an oscillator at freq Hz for the given sample rate.
func NewSine(freq, sampleRate float64, gain float32) *Sine {
	s := &Sine{Gain: gain}
	s.SetFrequency(freq, sampleRate)
	return s
}

// SetFrequency retunes the oscillator without resetting its phase.
func (s *Sine) SetFrequency(freq, sampleRate float64) {
	if sampleRate <= 0 {
		s.step = 0
		return
	}
	s.step = 2 * math.Pi * freq / sampleRate
}

// Fill32 writes len(dst) samples.
func (s *Sine) Fill32(dst []float32) {
	for i := range dst {
		dst[i] = s.Gain * float32(math.Sin(s.phase))
		s.phase += s.step
		if s.phase >= 2*math.Pi {
			s.phase -= 2 * math.Pi
		}
	}
}

// FillInt32 writes len(dst) full-scale scaled samples.
func (s *Sine) FillInt32(dst []int32) {
	for i := range dst {
		dst[i] = int32(float64(s.Gain) * math.Sin(s.phase) * math.MaxInt32)
		s.phase += s.step
		if s.phase >= 2*math.Pi {
			s.phase -= 2 * math.Pi
		}
	}
}

// Noise is a uniform white noise source with a fixed seed, so runs are
// reproducible.
type Noise struct {
	rng  *rand.Rand
	Gain float32
}

// NewNoise returns a seeded noise source.
func NewNoise(seed uint64, gain float32) *Noise {
	return &Noise{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)), Gain: gain}
}

// Fill32 writes len(dst) samples in [-Gain, Gain).
func (n *Noise) Fill32(dst []float32) {
	for i := range dst {
		dst[i] = n.Gain * (2*n.rng.Float32() - 1)
	}
}

// FillInt32 writes len(dst) full-scale scaled samples.
func (n *Noise) FillInt32(dst []int32) {
	for i := range dst {
		dst[i] = int32(float64(n.Gain) * (2*n.rng.Float64() - 1) * math.MaxInt32)
	}
}

// PeakFloat32 returns the largest absolute value in buf.
func PeakFloat32(buf []float32) float32 {
	var peak float32
	for _, v := range buf {
		// Branchless absolute value via bit mask.
		a := math.Float32frombits(math.Float32bits(v) &^ (1 << 31))
		peak = max(peak, a)
	}
	return peak
}

// PeakInt32 returns the largest magnitude in buf as a fraction of full
// scale.
func PeakInt32(buf []int32) float32 {
	var peak int64
	for _, v := range buf {
		x := int64(v)
		mask := x >> 63
		peak = max(peak, (x^mask)-mask)
	}
	return float32(float64(peak) / math.MaxInt32)
}

// Justify moves full-scale samples into the low bits significant bits,
// keeping the sign. bits of 32 or more leaves buf unchanged.
func Justify(buf []int32, bits int) {
	if bits <= 0 || bits >= 32 {
		return
	}
	shift := uint(32 - bits)
	for i := range buf {
		buf[i] >>= shift
	}
}

// PeakInt32Bits is PeakInt32 for samples with bits significant LSB-aligned
// bits.
func PeakInt32Bits(buf []int32, bits int) float32 {
	if bits <= 0 || bits >= 32 {
		return PeakInt32(buf)
	}
	return PeakInt32(buf) * float32(uint32(1)<<(32-bits))
}
