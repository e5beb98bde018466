// SPDX-License-Identifier: MIT
package asio

import (
	"fmt"
	"math/bits"
	"strings"
)

// TimeInfoFlags qualify the fields of a TimeInfo. Unknown bits are carried
// through untouched.
type TimeInfoFlags uint32

const (
	SystemTimeValid     TimeInfoFlags = 1 << 0 // must always be valid
	SamplePositionValid TimeInfoFlags = 1 << 1 // must always be valid
	SampleRateValid     TimeInfoFlags = 1 << 2
	SpeedValid          TimeInfoFlags = 1 << 3
	SampleRateChanged   TimeInfoFlags = 1 << 4
	ClockSourceChanged  TimeInfoFlags = 1 << 5
)

var timeInfoFlagNames = []string{
	"SystemTimeValid", "SamplePositionValid", "SampleRateValid",
	"SpeedValid", "SampleRateChanged", "ClockSourceChanged",
}

func (f TimeInfoFlags) Has(mask TimeInfoFlags) bool { return f&mask == mask }
func (f TimeInfoFlags) With(mask TimeInfoFlags) TimeInfoFlags { return f | mask }
func (f TimeInfoFlags) Without(mask TimeInfoFlags) TimeInfoFlags { return f &^ mask }

func (f TimeInfoFlags) String() string {
	return formatFlags(uint32(f), timeInfoFlagNames, nil)
}

// TimeCodeFlags describe the state of an external time code.
type TimeCodeFlags uint32

const (
	TimeCodeValid      TimeCodeFlags = 1 << 0
	TimeCodeRunning    TimeCodeFlags = 1 << 1
	TimeCodeReverse    TimeCodeFlags = 1 << 2
	TimeCodeOnSpeed    TimeCodeFlags = 1 << 3
	TimeCodeStill      TimeCodeFlags = 1 << 4
	TimeCodeSpeedValid TimeCodeFlags = 1 << 8
)

var timeCodeFlagNames = []string{"Valid", "Running", "Reverse", "OnSpeed", "Still"}

func (f TimeCodeFlags) Has(mask TimeCodeFlags) bool { return f&mask == mask }
func (f TimeCodeFlags) With(mask TimeCodeFlags) TimeCodeFlags { return f | mask }
func (f TimeCodeFlags) Without(mask TimeCodeFlags) TimeCodeFlags { return f &^ mask }

func (f TimeCodeFlags) String() string {
	return formatFlags(uint32(f), timeCodeFlagNames, map[int]string{8: "SpeedValid"})
}

// formatFlags renders the named bits of v joined by '|', followed by the
// remaining unknown bits in hex.
func formatFlags(v uint32, low []string, sparse map[int]string) string {
	if v == 0 {
		return "0"
	}
	var parts []string
	rest := v
	for rest != 0 {
		bit := bits.TrailingZeros32(rest)
		rest &^= 1 << bit
		switch {
		case bit < len(low):
			parts = append(parts, low[bit])
			v &^= 1 << bit
		case sparse[bit] != "":
			parts = append(parts, sparse[bit])
			v &^= 1 << bit
		}
	}
	if v != 0 {
		parts = append(parts, fmt.Sprintf("0x%x", v))
	}
	return strings.Join(parts, "|")
}

// TimeInfo is the timing context of one buffer switch.
type TimeInfo struct {
	Speed          float64 // absolute speed (1. = nominal)
	SystemTime     Timestamp
	SamplePosition Samples
	SampleRate     SampleRate
	Flags          TimeInfoFlags
}

// TimeCode is the optional time code sub-record of a Time.
type TimeCode struct {
	Speed           float64
	TimeCodeSamples Samples
	Flags           TimeCodeFlags
}

// Time is delivered with every time-info buffer switch. It is owned by the
// driver and only valid for the duration of the callback.
type Time struct {
	TimeInfo TimeInfo
	TimeCode TimeCode
}
