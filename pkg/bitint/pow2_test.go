// SPDX-License-Identifier: MIT
package bitint

import (
	"fmt"
	"testing"
)

func TestNextPowerOfTwo32(t *testing.T) {
	tests := []struct {
		n        int32
		expected int32
	}{
		{-10, 1},     // Negative number
		{0, 1},       // Zero
		{16, 16},     // Already power of two
		{31, 32},     // Not power of two
		{1023, 1024}, // Large number
		{1<<30 + 1, 1 << 30},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d→%d", tt.n, tt.expected), func(t *testing.T) {
			result := NextPowerOfTwo32(tt.n)
			if result != tt.expected {
				t.Errorf("NextPowerOfTwo32(%d) = %d, expected %d", tt.n, result, tt.expected)
			}
		})
	}
}

func TestPrevPowerOfTwo32(t *testing.T) {
	tests := []struct {
		n        int32
		expected int32
	}{
		{-4, 0},
		{0, 0},
		{1, 1},
		{2048, 2048},
		{2047, 1024},
		{96, 64},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d→%d", tt.n, tt.expected), func(t *testing.T) {
			result := PrevPowerOfTwo32(tt.n)
			if result != tt.expected {
				t.Errorf("PrevPowerOfTwo32(%d) = %d, expected %d", tt.n, result, tt.expected)
			}
		})
	}
}

func TestIsPowerOfTwo32(t *testing.T) {
	tests := []struct {
		n        int32
		expected bool
	}{
		{-2, false},     // Negative number
		{0, false},      // Zero
		{1, true},       // One
		{64, true},      // Power of two
		{33, false},     // Not power of two
		{1 << 20, true}, // Large power of two
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d→%t", tt.n, tt.expected), func(t *testing.T) {
			result := IsPowerOfTwo32(tt.n)
			if result != tt.expected {
				t.Errorf("IsPowerOfTwo32(%d) = %v, expected %v", tt.n, result, tt.expected)
			}
		})
	}
}

func TestAlignBufferSize(t *testing.T) {
	tests := []struct {
		name                     string
		want, lo, hi, pref, gran int32
		expected                 int32
	}{
		{"pow2 round up", 1000, 64, 2048, 512, -1, 1024},
		{"pow2 exact", 256, 64, 2048, 512, -1, 256},
		{"pow2 above max", 4000, 64, 2048, 512, -1, 2048},
		{"pow2 range without power", 100, 100, 120, 110, -1, 110},
		{"linear snap down", 1000, 48, 4800, 480, 48, 960},
		{"linear below min", 10, 48, 4800, 480, 48, 48},
		{"linear above max", 9000, 48, 4800, 480, 48, 4800},
		{"fixed", 1024, 512, 512, 512, 0, 512},
		{"default", 0, 64, 2048, 512, -1, 512},
		{"inverted range", 256, 2048, 64, 512, -1, 512},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := AlignBufferSize(tt.want, tt.lo, tt.hi, tt.pref, tt.gran)
			if result != tt.expected {
				t.Errorf("AlignBufferSize(%d, %d, %d, %d, %d) = %d, expected %d",
					tt.want, tt.lo, tt.hi, tt.pref, tt.gran, result, tt.expected)
			}
		})
	}
}

func BenchmarkNextPowerOfTwo32(b *testing.B) {
	var i int32
	b.ReportAllocs()
	for b.Loop() {
		NextPowerOfTwo32(i % 10000)
		i++
	}
}

func BenchmarkAlignBufferSize(b *testing.B) {
	var i int32
	b.ReportAllocs()
	for b.Loop() {
		AlignBufferSize(i%10000, 64, 4096, 512, -1)
		i++
	}
}
