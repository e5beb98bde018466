// SPDX-License-Identifier: MIT
package asio

import "fmt"

// Scalar types exchanged with the driver.
type (
	Samples    int64   // Sample count or position.
	Timestamp  int64   // System time in nanoseconds.
	SampleRate float64 // Sample rate in Hz.
)

// Bool is the 32-bit protocol boolean. Only Initialize on the handle returns
// a Go bool; everything crossing the dispatch table uses Bool.
type Bool int32

const (
	False Bool = 0
	True  Bool = 1
)

// BoolOf converts a Go bool to a protocol Bool.
func BoolOf(b bool) Bool {
	if b {
		return True
	}
	return False
}

// Bool reports whether b is True. Any non-zero value counts as true, drivers
// are not consistent about emitting exactly 1.
func (b Bool) Bool() bool {
	return b != False
}

func (b Bool) String() string {
	if b.Bool() {
		return "true"
	}
	return "false"
}

const (
	NameCapacity         = 32
	ErrorMessageCapacity = 124
	MaxClockSources      = 16
)

// Name is a fixed 32 byte NUL-terminated text field.
type Name [NameCapacity]byte

// String returns the text up to the first NUL, or the whole capacity when no
// terminator is present.
func (n *Name) String() string {
	return cString(n[:])
}

// SetString copies s into the field, truncating to capacity-1 bytes.
func (n *Name) SetString(s string) {
	setCString(n[:], s)
}

// ErrorMessage is a fixed 124 byte NUL-terminated text field.
type ErrorMessage [ErrorMessageCapacity]byte

func (m *ErrorMessage) String() string {
	return cString(m[:])
}

func (m *ErrorMessage) SetString(s string) {
	setCString(m[:], s)
}

func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

func setCString(dst []byte, s string) {
	n := copy(dst[:len(dst)-1], s)
	clear(dst[n:])
}

// SampleType identifies the sample encoding of a channel.
type SampleType int32

const (
	SampleTypeInt16MSB   SampleType = 0
	SampleTypeInt24MSB   SampleType = 1 // used for 20 bits as well
	SampleTypeInt32MSB   SampleType = 2
	SampleTypeFloat32MSB SampleType = 3
	SampleTypeFloat64MSB SampleType = 4

	// 32 bit containers with different alignment of the data inside.
	SampleTypeInt32MSB16 SampleType = 8
	SampleTypeInt32MSB18 SampleType = 9
	SampleTypeInt32MSB20 SampleType = 10
	SampleTypeInt32MSB24 SampleType = 11

	SampleTypeInt16LSB   SampleType = 16
	SampleTypeInt24LSB   SampleType = 17
	SampleTypeInt32LSB   SampleType = 18
	SampleTypeFloat32LSB SampleType = 19
	SampleTypeFloat64LSB SampleType = 20

	SampleTypeInt32LSB16 SampleType = 24
	SampleTypeInt32LSB18 SampleType = 25
	SampleTypeInt32LSB20 SampleType = 26
	SampleTypeInt32LSB24 SampleType = 27

	// DSD formats.
	SampleTypeDSDInt8LSB1 SampleType = 32 // 8 samples per byte, first sample in LSB
	SampleTypeDSDInt8MSB1 SampleType = 33 // 8 samples per byte, first sample in MSB
	SampleTypeDSDInt8NER8 SampleType = 40 // 1 sample per byte
)

var sampleTypeNames = map[SampleType]string{
	SampleTypeInt16MSB:    "Int16MSB",
	SampleTypeInt24MSB:    "Int24MSB",
	SampleTypeInt32MSB:    "Int32MSB",
	SampleTypeFloat32MSB:  "Float32MSB",
	SampleTypeFloat64MSB:  "Float64MSB",
	SampleTypeInt32MSB16:  "Int32MSB16",
	SampleTypeInt32MSB18:  "Int32MSB18",
	SampleTypeInt32MSB20:  "Int32MSB20",
	SampleTypeInt32MSB24:  "Int32MSB24",
	SampleTypeInt16LSB:    "Int16LSB",
	SampleTypeInt24LSB:    "Int24LSB",
	SampleTypeInt32LSB:    "Int32LSB",
	SampleTypeFloat32LSB:  "Float32LSB",
	SampleTypeFloat64LSB:  "Float64LSB",
	SampleTypeInt32LSB16:  "Int32LSB16",
	SampleTypeInt32LSB18:  "Int32LSB18",
	SampleTypeInt32LSB20:  "Int32LSB20",
	SampleTypeInt32LSB24:  "Int32LSB24",
	SampleTypeDSDInt8LSB1: "DSDInt8LSB1",
	SampleTypeDSDInt8MSB1: "DSDInt8MSB1",
	SampleTypeDSDInt8NER8: "DSDInt8NER8",
}

func (t SampleType) String() string {
	if s, ok := sampleTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("SampleType(%d)", int32(t))
}

// IsKnown reports whether t is part of the closed encoding set.
func (t SampleType) IsKnown() bool {
	_, ok := sampleTypeNames[t]
	return ok
}

// Size returns the number of bytes one sample frame of t occupies in a
// buffer region. The packed DSD formats report 1, buffers for them are sized
// in bytes rather than samples. Unknown types report 0.
func (t SampleType) Size() int {
	switch t {
	case SampleTypeInt16MSB, SampleTypeInt16LSB:
		return 2
	case SampleTypeInt24MSB, SampleTypeInt24LSB:
		return 3
	case SampleTypeFloat64MSB, SampleTypeFloat64LSB:
		return 8
	case SampleTypeDSDInt8LSB1, SampleTypeDSDInt8MSB1, SampleTypeDSDInt8NER8:
		return 1
	case SampleTypeInt32MSB, SampleTypeFloat32MSB,
		SampleTypeInt32MSB16, SampleTypeInt32MSB18, SampleTypeInt32MSB20, SampleTypeInt32MSB24,
		SampleTypeInt32LSB, SampleTypeFloat32LSB,
		SampleTypeInt32LSB16, SampleTypeInt32LSB18, SampleTypeInt32LSB20, SampleTypeInt32LSB24:
		return 4
	default:
		return 0
	}
}

// Int32Bits returns the number of significant, LSB-aligned bits for the
// little-endian 32 bit integer encodings and 0 for every other type.
func (t SampleType) Int32Bits() int {
	switch t {
	case SampleTypeInt32LSB:
		return 32
	case SampleTypeInt32LSB24:
		return 24
	case SampleTypeInt32LSB20:
		return 20
	case SampleTypeInt32LSB18:
		return 18
	case SampleTypeInt32LSB16:
		return 16
	default:
		return 0
	}
}

// ChannelInfo describes one input or output channel. The host fills Channel
// and IsInput; the driver fills the rest.
type ChannelInfo struct {
	Channel      int32
	IsInput      Bool
	IsActive     Bool
	ChannelGroup int32
	SampleType   SampleType
	Name         Name
}

// ClockSource describes one selectable sample clock.
type ClockSource struct {
	Index             int32
	AssociatedChannel int32
	AssociatedGroup   int32
	IsCurrentSource   Bool
	Name              Name
}

// ClockSources is the bounded clock source set. Length is the count the
// driver reported and is independent of the array capacity.
type ClockSources struct {
	Length int32
	Array  [MaxClockSources]ClockSource
}

// Slice returns the reported entries, never more than the capacity.
func (c *ClockSources) Slice() []ClockSource {
	n := int(c.Length)
	if n < 0 {
		n = 0
	}
	if n > MaxClockSources {
		n = MaxClockSources
	}
	return c.Array[:n]
}

// Current returns the source flagged as current, if any.
func (c *ClockSources) Current() (ClockSource, bool) {
	for _, src := range c.Slice() {
		if src.IsCurrentSource.Bool() {
			return src, true
		}
	}
	return ClockSource{}, false
}

// BufferInfo is one entry of the create-buffers channel list. Buffers is an
// output field filled by the driver with the two halves of the channel.
type BufferInfo struct {
	IsInput    Bool
	ChannelNum int32
	Buffers    [2][]byte
}

// InputMonitor routes an input to an output for direct monitoring.
// Input -1 addresses all inputs; Gain is 0 to 0x7fffffff (0 dB at 0x20000000);
// Pan is 0 (left) to 0x7fffffff (right).
type InputMonitor struct {
	Input  int32
	Output int32
	Gain   int32
	State  Bool
	Pan    int32
}

// ChannelControls carries gain and meter values for one channel.
type ChannelControls struct {
	Channel int32
	IsInput Bool
	Gain    int32
	Meter   int32
}

// TransportCommand is the command of a transport extension request.
type TransportCommand int32

const (
	TransportStart      TransportCommand = iota + 1
	TransportStop
	TransportLocate     // to SamplePosition
	TransportPunchIn
	TransportPunchOut
	TransportArmOn      // Track
	TransportArmOff     // Track
	TransportMonitorOn  // Track
	TransportMonitorOff // Track
	TransportArm        // TrackSwitches
	TransportMonitor    // TrackSwitches
)

var transportCommandNames = [...]string{
	"", "Start", "Stop", "Locate", "PunchIn", "PunchOut",
	"ArmOn", "ArmOff", "MonitorOn", "MonitorOff", "Arm", "Monitor",
}

func (c TransportCommand) String() string {
	if c >= TransportStart && c <= TransportMonitor {
		return transportCommandNames[c]
	}
	return fmt.Sprintf("TransportCommand(%d)", int32(c))
}

// TransportParameters is the parameter block of the Transport selector.
type TransportParameters struct {
	Command        TransportCommand
	SamplePosition Samples
	Track          int32
	TrackSwitches  [16]int32
}

// IoFormatType selects between PCM and DSD operation.
type IoFormatType int32

const (
	FormatInvalid IoFormatType = -1
	FormatPCM     IoFormatType = 0
	FormatDSD     IoFormatType = 1
)

func (f IoFormatType) String() string {
	switch f {
	case FormatPCM:
		return "PCM"
	case FormatDSD:
		return "DSD"
	case FormatInvalid:
		return "Invalid"
	default:
		return fmt.Sprintf("IoFormatType(%d)", int32(f))
	}
}

type IoFormat struct {
	FormatType IoFormatType
}

// InternalBufferInfo reports driver-side buffering beyond the double buffer.
type InternalBufferInfo struct {
	InputSamples  int32
	OutputSamples int32
}
