// SPDX-License-Identifier: MIT
package asio

import (
	"errors"
	"fmt"
)

// Error is a protocol result code. It implements error so driver codes can
// travel through ordinary Go error returns and be matched with errors.Is.
type Error int32

const (
	OK               Error = 0          // this value will be returned whenever the call succeeded
	Success          Error = 0x3f4847a0 // unique success return value for Future calls
	NotPresent       Error = -1000      // hardware input or output is not present or available
	HWMalfunction    Error = -999       // hardware is malfunctioning
	InvalidParameter Error = -998       // input parameter invalid
	InvalidMode      Error = -997       // hardware is in a bad mode or used in a bad mode
	SPNotAdvancing   Error = -996       // hardware is not running when sample position is inquired
	NoClock          Error = -995       // sample clock or rate cannot be determined or is not present
	NoMemory         Error = -994       // not enough memory for completing the request
)

// Sentinel aliases for errors.Is.
var (
	ErrNotPresent       error = NotPresent
	ErrHWMalfunction    error = HWMalfunction
	ErrInvalidParameter error = InvalidParameter
	ErrInvalidMode      error = InvalidMode
	ErrSPNotAdvancing   error = SPNotAdvancing
	ErrNoClock          error = NoClock
	ErrNoMemory         error = NoMemory
)

// Activation failures. These never come from a driver.
var (
	ErrDriverNotFound     = errors.New("driver not registered")
	ErrActivationRejected = errors.New("driver rejected instantiation")
	ErrPlatform           = errors.New("platform activation facility unavailable")
)

// IsSuccess reports whether e is either of the two success literals.
func (e Error) IsSuccess() bool {
	return e == OK || e == Success
}

// Err converts e into a Go error, nil for both success literals.
func (e Error) Err() error {
	if e.IsSuccess() {
		return nil
	}
	return e
}

func (e Error) Error() string {
	return "asio: " + e.String()
}

func (e Error) String() string {
	switch e {
	case OK:
		return "ok"
	case Success:
		return "success"
	case NotPresent:
		return "not present"
	case HWMalfunction:
		return "hardware malfunction"
	case InvalidParameter:
		return "invalid parameter"
	case InvalidMode:
		return "invalid mode"
	case SPNotAdvancing:
		return "sample position not advancing"
	case NoClock:
		return "no clock"
	case NoMemory:
		return "no memory"
	default:
		return fmt.Sprintf("asio error(%d)", int32(e))
	}
}

// Class groups result codes by how the host should react to them.
type Class int

const (
	ClassNone             Class = iota // success
	ClassNegotiation                   // fall back to a supported configuration
	ClassHardware                      // surface to the user, do not retry
	ClassResource                      // surface, not retryable with the same parameters
	ClassCapabilityAbsent              // a normal negotiation outcome
	ClassUnknown
)

func (c Class) String() string {
	switch c {
	case ClassNone:
		return "none"
	case ClassNegotiation:
		return "negotiation"
	case ClassHardware:
		return "hardware"
	case ClassResource:
		return "resource"
	case ClassCapabilityAbsent:
		return "capability-absent"
	default:
		return "unknown"
	}
}

func (e Error) Class() Class {
	switch e {
	case OK, Success:
		return ClassNone
	case InvalidParameter, InvalidMode:
		return ClassNegotiation
	case HWMalfunction, NoClock, SPNotAdvancing:
		return ClassHardware
	case NoMemory:
		return ClassResource
	case NotPresent:
		return ClassCapabilityAbsent
	default:
		return ClassUnknown
	}
}

// Recoverable reports whether the host can fall back to another
// configuration after e.
func (e Error) Recoverable() bool {
	return e.Class() == ClassNegotiation
}

// Code extracts the protocol code from err. It returns OK for nil and false
// when err carries no protocol code.
func Code(err error) (Error, bool) {
	if err == nil {
		return OK, true
	}
	var code Error
	if errors.As(err, &code) {
		return code, true
	}
	return 0, false
}

// IsCapabilityAbsent reports whether err is the coded "unsupported" result.
func IsCapabilityAbsent(err error) bool {
	return errors.Is(err, ErrNotPresent)
}
