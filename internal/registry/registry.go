// SPDX-License-Identifier: MIT
//
// Package registry maps installed driver identifiers to the backends that
// implement them. It plays the part of the platform's driver registry: the
// host lists entries, picks one by name or identifier and asks the registry
// to activate it.
//
// The registry document is read with viper, so YAML, TOML and JSON files
// all work:
//
//	drivers:
//	  - name: Simulated Device
//	    clsid: 6f1b0a34-5e3c-4d1e-9c55-2a4bd0f1a001
//	    backend: sim
//	    options:
//	      inputs: 2
//	      outputs: 2
package registry

import (
	"errors"
	"fmt"
	"io/fs"
	"slices"
	"strings"

	"asiohost/internal/asio"
	applog "asiohost/internal/log"

	"github.com/google/uuid"
	"github.com/spf13/viper"
)

var (
	// ErrUnknownDriver is returned for names and identifiers that are not
	// registered.
	ErrUnknownDriver = fmt.Errorf("registry: unknown driver: %w", asio.ErrDriverNotFound)

	// ErrNoBackend is returned when an entry names a backend that is not
	// built into the host.
	ErrNoBackend = fmt.Errorf("registry: no backend: %w", asio.ErrDriverNotFound)
)

// Well-known identifiers of the built-in entries.
var (
	SimDriverID       = uuid.MustParse("6f1b0a34-5e3c-4d1e-9c55-2a4bd0f1a001")
	PortAudioDriverID = uuid.MustParse("6f1b0a34-5e3c-4d1e-9c55-2a4bd0f1a002")
)

// Entry is one installed driver.
type Entry struct {
	Name    string
	ID      uuid.UUID
	Backend string
	Options map[string]any
}

func (e Entry) String() string {
	return fmt.Sprintf("%s {%s} (%s)", e.Name, e.ID, e.Backend)
}

// Backend creates drivers of one kind.
type Backend struct {
	// New builds an unbound driver from the entry's options.
	New func(e Entry, opts *viper.Viper) (asio.Driver, error)

	// Platform is held for as long as a driver of this backend is alive.
	// Nil when the backend needs no process-wide facility.
	Platform asio.Platform
}

// Registry is an immutable list of entries plus the backends that serve
// them.
type Registry struct {
	entries  []Entry
	backends map[string]Backend
	log      *applog.Logger
}

type rawEntry struct {
	Name    string         `mapstructure:"name"`
	CLSID   string         `mapstructure:"clsid"`
	Backend string         `mapstructure:"backend"`
	Options map[string]any `mapstructure:"options"`
}

// DefaultEntries is the registry used when no document exists.
func DefaultEntries() []Entry {
	return []Entry{
		{Name: "Simulated Device", ID: SimDriverID, Backend: BackendSim},
		{Name: "PortAudio Default", ID: PortAudioDriverID, Backend: BackendPortAudio},
	}
}

func setViperDefaults(v *viper.Viper) {
	defaults := make([]map[string]any, 0, 2)
	for _, e := range DefaultEntries() {
		defaults = append(defaults, map[string]any{
			"name":    e.Name,
			"clsid":   e.ID.String(),
			"backend": e.Backend,
		})
	}
	v.SetDefault("drivers", defaults)
}

// Load reads the registry document at path. An empty path or a missing
// file yields the built-in entries.
func Load(path string, backends map[string]Backend) (*Registry, error) {
	log := applog.For("registry")
	v := viper.New()
	setViperDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read registry %s: %w", path, err)
			}
			log.Infof("no registry at %s, using built-in drivers", path)
		}
	}

	var raw []rawEntry
	if err := v.UnmarshalKey("drivers", &raw); err != nil {
		return nil, fmt.Errorf("failed to decode registry: %w", err)
	}
	entries := make([]Entry, 0, len(raw))
	for i, r := range raw {
		id, err := uuid.Parse(r.CLSID)
		if err != nil {
			return nil, fmt.Errorf("registry entry %d (%q): invalid clsid: %w", i, r.Name, err)
		}
		entries = append(entries, Entry{
			Name:    r.Name,
			ID:      id,
			Backend: strings.ToLower(r.Backend),
			Options: r.Options,
		})
	}
	return New(entries, backends)
}

// New builds a registry from entries. Names and identifiers must be unique.
func New(entries []Entry, backends map[string]Backend) (*Registry, error) {
	seen := make(map[uuid.UUID]string, len(entries))
	for _, e := range entries {
		if e.Name == "" {
			return nil, fmt.Errorf("registry entry %s has no name", e.ID)
		}
		if prev, ok := seen[e.ID]; ok {
			return nil, fmt.Errorf("registry: %q and %q share clsid %s", prev, e.Name, e.ID)
		}
		seen[e.ID] = e.Name
	}
	if backends == nil {
		backends = DefaultBackends()
	}
	return &Registry{
		entries:  slices.Clone(entries),
		backends: backends,
		log:      applog.For("registry"),
	}, nil
}

// Entries returns the registered drivers in document order.
func (r *Registry) Entries() []Entry {
	return slices.Clone(r.entries)
}

// Lookup finds an entry by identifier, or by case-insensitive name when ref
// is not a valid identifier.
func (r *Registry) Lookup(ref string) (Entry, error) {
	if id, err := uuid.Parse(ref); err == nil {
		return r.ByID(id)
	}
	for _, e := range r.entries {
		if strings.EqualFold(e.Name, ref) {
			return e, nil
		}
	}
	return Entry{}, fmt.Errorf("%w: %q", ErrUnknownDriver, ref)
}

// ByID finds an entry by identifier.
func (r *Registry) ByID(id uuid.UUID) (Entry, error) {
	for _, e := range r.entries {
		if e.ID == id {
			return e, nil
		}
	}
	return Entry{}, fmt.Errorf("%w: %s", ErrUnknownDriver, id)
}

// Activate implements asio.Activator.
func (r *Registry) Activate(id uuid.UUID) (asio.Driver, error) {
	e, err := r.ByID(id)
	if err != nil {
		return nil, err
	}
	b, ok := r.backends[e.Backend]
	if !ok || b.New == nil {
		return nil, fmt.Errorf("%w: %q for %s", ErrNoBackend, e.Backend, e.Name)
	}
	drv, err := b.New(e, options(e))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", e.Name, err)
	}
	r.log.Debugf("created %s", e)
	return drv, nil
}

// Open resolves ref and activates the driver it names, holding the
// backend's platform facility for the lifetime of the handle.
func (r *Registry) Open(ref string) (*asio.Handle, Entry, error) {
	e, err := r.Lookup(ref)
	if err != nil {
		return nil, Entry{}, err
	}
	h, err := asio.Activate(e.ID, r, r.backends[e.Backend].Platform)
	if err != nil {
		return nil, e, err
	}
	return h, e, nil
}

var _ asio.Activator = (*Registry)(nil)

// options exposes an entry's option map through viper's typed getters.
func options(e Entry) *viper.Viper {
	v := viper.New()
	for k, val := range e.Options {
		v.Set(k, val)
	}
	return v
}
