// SPDX-License-Identifier: MIT
package asio

import (
	"sync"

	"github.com/google/uuid"
)

// Activator resolves a driver identifier to a bound dispatch table. It stands
// in for the platform's registry lookup plus object activation.
// Implementations return an error wrapping ErrDriverNotFound for unknown
// identifiers and ErrActivationRejected when the driver refuses to load.
type Activator interface {
	Activate(id uuid.UUID) (Driver, error)
}

// ActivatorFunc adapts a function to the Activator interface.
type ActivatorFunc func(id uuid.UUID) (Driver, error)

func (f ActivatorFunc) Activate(id uuid.UUID) (Driver, error) {
	return f(id)
}

// Platform is the process-wide facility that must be held while a driver
// object is alive. Acquire and Release are paired once per handle.
type Platform interface {
	Acquire() error
	Release() error
}

// RefCountedPlatform wraps a process-wide initialize/terminate pair so that
// several handles can share it. The underlying init runs on the first
// Acquire and term on the last Release.
type RefCountedPlatform struct {
	mu   sync.Mutex
	refs int
	init func() error
	term func() error
}

// NewRefCountedPlatform returns a Platform around init and term. Either may
// be nil.
func NewRefCountedPlatform(init, term func() error) *RefCountedPlatform {
	return &RefCountedPlatform{init: init, term: term}
}

func (p *RefCountedPlatform) Acquire() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.refs == 0 && p.init != nil {
		if err := p.init(); err != nil {
			return err
		}
	}
	p.refs++
	return nil
}

func (p *RefCountedPlatform) Release() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.refs == 0 {
		return nil
	}
	p.refs--
	if p.refs == 0 && p.term != nil {
		return p.term()
	}
	return nil
}

// Refs returns the number of outstanding acquisitions.
func (p *RefCountedPlatform) Refs() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refs
}

var _ Platform = (*RefCountedPlatform)(nil)
