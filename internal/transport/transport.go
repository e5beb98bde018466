// SPDX-License-Identifier: MIT
package transport

// Transport defines a generic interface for sending meter frames or events.
// Implementations should be thread-safe and must not block the caller.
type Transport interface {
	Send(data any) error
	Close() error
}

// MeterFrame is one snapshot of the per-channel peak meters. Levels are
// linear full-scale values in [0, 1].
type MeterFrame struct {
	Seq      uint32    `json:"seq"`
	Time     int64     `json:"time"`     // nanoseconds since epoch
	Position int64     `json:"position"` // sample position of the last switch
	Inputs   []float32 `json:"inputs"`
	Outputs  []float32 `json:"outputs"`
}

// Event reports a driver notification or a session change.
type Event struct {
	Kind   string `json:"kind"`
	Value  int32  `json:"value,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// MeterSource provides the latest meter levels. MetersInto resizes the
// frame's slices only when the channel count changes.
type MeterSource interface {
	MetersInto(f *MeterFrame) error
}

// Multi fans every Send out to several transports. Errors from individual
// transports are ignored so one broken sink cannot starve the others.
type Multi []Transport

func (m Multi) Send(data any) error {
	for _, t := range m {
		_ = t.Send(data)
	}
	return nil
}

func (m Multi) Close() error {
	var first error
	for _, t := range m {
		if err := t.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

var _ Transport = Multi(nil)
