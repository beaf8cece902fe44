package device

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sync"
)

// Registry is the process-wide list of known devices, persisted as a
// JSON array. Every mutation rewrites the file and is fanned out
// synchronously to all subscribers. Callers never mutate entries
// directly; connection and print code goes through the mutator methods.
type Registry struct {
	mu        sync.Mutex
	path      string
	devices   []Device
	observers map[int]func(Device)
	nextObs   int
	logger    *log.Logger
}

// Open loads the registry from path. A missing file yields an empty
// registry; any other read failure is an error.
func Open(path string) (*Registry, error) {
	r := &Registry{
		path:      path,
		observers: make(map[int]func(Device)),
		logger:    log.New(os.Stdout, "[REGISTRY] ", log.LstdFlags|log.Lmsgprefix),
	}
	if err := r.load(); err != nil {
		return nil, fmt.Errorf("failed to load device registry: %w", err)
	}
	return r, nil
}

func (r *Registry) load() error {
	data, err := os.ReadFile(r.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, &r.devices)
}

// Flush rewrites the persisted device list.
func (r *Registry) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saveLocked()
}

func (r *Registry) saveLocked() error {
	data, err := json.MarshalIndent(r.devices, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(r.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(r.path, data, 0o644)
}

// List returns a copy of all known devices.
func (r *Registry) List() []Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Device, len(r.devices))
	copy(out, r.devices)
	return out
}

// Get returns the device with the given id.
func (r *Registry) Get(id string) (Device, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.devices {
		if d.ID == id {
			return d, true
		}
	}
	return Device{}, false
}

// Upsert adds or replaces the device keyed by its id, persists the
// list, and notifies subscribers.
func (r *Registry) Upsert(d Device) error {
	r.mu.Lock()
	found := false
	for i := range r.devices {
		if r.devices[i].ID == d.ID {
			r.devices[i] = d
			found = true
			break
		}
	}
	if !found {
		r.devices = append(r.devices, d)
	}
	err := r.saveLocked()
	obs := r.observersLocked()
	r.mu.Unlock()

	r.notify(obs, d)
	return err
}

// Remove deletes the device with the given id. Removing an unknown id
// is a no-op.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	var removed Device
	found := false
	for i, d := range r.devices {
		if d.ID == id {
			removed = d
			r.devices = append(r.devices[:i], r.devices[i+1:]...)
			found = true
			break
		}
	}
	if !found {
		r.mu.Unlock()
		return nil
	}
	err := r.saveLocked()
	obs := r.observersLocked()
	r.mu.Unlock()

	r.notify(obs, removed)
	return err
}

// SetStatus updates the status of a known device.
func (r *Registry) SetStatus(id string, status Status) error {
	return r.mutate(id, func(d *Device) { d.Status = status })
}

// SetConnected updates the connected flag of a known device.
func (r *Registry) SetConnected(id string, connected bool) error {
	return r.mutate(id, func(d *Device) { d.Connected = connected })
}

func (r *Registry) mutate(id string, fn func(*Device)) error {
	r.mu.Lock()
	var updated Device
	found := false
	for i := range r.devices {
		if r.devices[i].ID == id {
			fn(&r.devices[i])
			updated = r.devices[i]
			found = true
			break
		}
	}
	if !found {
		r.mu.Unlock()
		return fmt.Errorf("unknown device id %q", id)
	}
	err := r.saveLocked()
	obs := r.observersLocked()
	r.mu.Unlock()

	r.notify(obs, updated)
	return err
}

// Subscribe registers an observer called after every mutation with the
// affected device. The returned function unsubscribes it.
func (r *Registry) Subscribe(fn func(Device)) (unsubscribe func()) {
	r.mu.Lock()
	id := r.nextObs
	r.nextObs++
	r.observers[id] = fn
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.observers, id)
		r.mu.Unlock()
	}
}

// observersLocked snapshots the observer list so fan-out can run
// outside the lock (observers may call back into the registry).
func (r *Registry) observersLocked() []func(Device) {
	obs := make([]func(Device), 0, len(r.observers))
	for _, fn := range r.observers {
		obs = append(obs, fn)
	}
	return obs
}

func (r *Registry) notify(obs []func(Device), d Device) {
	for _, fn := range obs {
		fn(d)
	}
}
