// SPDX-License-Identifier: MIT
package transport

import (
	applog "asiohost/internal/log"
)

// LoggingTransport implements the Transport interface by logging events.
// Meter frames are logged at debug level only.
type LoggingTransport struct {
	log *applog.Logger
}

// NewLoggingTransport creates a new LoggingTransport instance.
func NewLoggingTransport() *LoggingTransport {
	return &LoggingTransport{log: applog.For("transport")}
}

// Send logs the received data.
func (lt *LoggingTransport) Send(data any) error {
	switch v := data.(type) {
	case Event:
		if v.Detail != "" {
			lt.log.Infof("event %s (%d): %s", v.Kind, v.Value, v.Detail)
		} else {
			lt.log.Infof("event %s (%d)", v.Kind, v.Value)
		}
	case *MeterFrame:
		lt.log.Debugf("meters #%d at %d: in %v out %v", v.Seq, v.Position, v.Inputs, v.Outputs)
	default:
		lt.log.Debugf("%T: %+v", data, data)
	}
	return nil
}

// Close is a no-op for LoggingTransport.
func (lt *LoggingTransport) Close() error {
	return nil
}

// Ensure LoggingTransport satisfies the interface at compile time.
var _ Transport = (*LoggingTransport)(nil)
