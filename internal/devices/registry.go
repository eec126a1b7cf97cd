// Package devices keeps the account's device list, refreshed from the
// cloud and cached on disk.
package devices

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/smazurov/doorbell/internal/cloud"
	"github.com/smazurov/doorbell/internal/events"
	"github.com/smazurov/doorbell/internal/logging"
)

// ErrDeviceNotFound is returned by Resolve for an unknown id.
var ErrDeviceNotFound = errors.New("device not found")

// Lister fetches the current device list.
type Lister interface {
	ListDevices(ctx context.Context) ([]cloud.Device, error)
}

// Store persists the device list.
type Store interface {
	Load() ([]cloud.Device, error)
	Save(devices []cloud.Device) error
}

// Registry is the in-memory device list. Safe for concurrent use.
type Registry struct {
	lister Lister
	store  Store
	bus    *events.Bus
	logger *slog.Logger

	mu          sync.RWMutex
	devices     []cloud.Device
	lastRefresh time.Time
}

// NewRegistry creates a Registry. store and bus may be nil.
func NewRegistry(lister Lister, store Store, bus *events.Bus) *Registry {
	return &Registry{
		lister: lister,
		store:  store,
		bus:    bus,
		logger: logging.GetLogger("devices"),
	}
}

// Load seeds the registry from the store without contacting the cloud.
func (r *Registry) Load() error {
	if r.store == nil {
		return nil
	}
	cached, err := r.store.Load()
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.devices = cached
	r.mu.Unlock()

	r.logger.Debug("Loaded cached devices", "count", len(cached))
	return nil
}

// Refresh fetches the device list. When the cloud is unreachable the last
// known list is returned instead, and the error only surfaces if there is
// nothing known.
func (r *Registry) Refresh(ctx context.Context) ([]cloud.Device, error) {
	fresh, err := r.lister.ListDevices(ctx)
	if err != nil {
		known := r.List()
		if len(known) == 0 {
			return nil, fmt.Errorf("refresh devices: %w", err)
		}
		r.logger.Warn("Device refresh failed, using last known devices", "count", len(known), "error", err)
		return known, nil
	}

	r.mu.Lock()
	previous := r.devices
	r.devices = slices.Clone(fresh)
	r.lastRefresh = time.Now()
	r.mu.Unlock()

	r.publishChanges(previous, fresh)

	if r.store != nil {
		if err := r.store.Save(fresh); err != nil {
			r.logger.Warn("Failed to save device cache", "error", err)
		}
	}
	return slices.Clone(fresh), nil
}

// List returns the known devices.
func (r *Registry) List() []cloud.Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.devices)
}

// LastRefresh is the time of the last successful refresh.
func (r *Registry) LastRefresh() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastRefresh
}

// Resolve looks up a device by id.
func (r *Registry) Resolve(id string) (cloud.Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, d := range r.devices {
		if d.ID == id {
			return d, nil
		}
	}
	return cloud.Device{}, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
}

// Run refreshes every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Refresh(ctx); err != nil {
				r.logger.Warn("Periodic device refresh failed", "error", err)
			}
		}
	}
}

func (r *Registry) publishChanges(previous, current []cloud.Device) {
	now := time.Now().UTC().Format(time.RFC3339)

	seen := make(map[string]bool, len(previous))
	for _, d := range previous {
		seen[d.ID] = true
	}
	still := make(map[string]bool, len(current))
	for _, d := range current {
		still[d.ID] = true
		if !seen[d.ID] {
			r.logger.Info("Device added", "device_id", d.ID, "name", d.Name)
			r.bus.Publish(events.DeviceDiscoveryEvent{DeviceID: d.ID, Name: d.Name, Action: "added", Timestamp: now})
		}
	}
	for _, d := range previous {
		if !still[d.ID] {
			r.logger.Info("Device removed", "device_id", d.ID, "name", d.Name)
			r.bus.Publish(events.DeviceDiscoveryEvent{DeviceID: d.ID, Name: d.Name, Action: "removed", Timestamp: now})
		}
	}
}
