// Package registry maintains the live in-memory map of known devices:
// connection state, discovery provenance and session-scoped flags.
package registry

import (
	"context"
	"sync"
	"time"

	"github.com/HerbHall/sidekick/internal/event"
	"github.com/HerbHall/sidekick/pkg/models"
	"go.uber.org/zap"
)

// DefaultMaxAge is how long a disconnected device stays in the registry
// after it was last found by a discovery pass.
const DefaultMaxAge = 10 * time.Minute

// Registry is the device registry. All mutation goes through its
// accessor methods; orchestration code never mutates entries directly.
type Registry struct {
	mu      sync.RWMutex
	devices map[models.DeviceID]models.Device
	bus     *event.Bus
	logger  *zap.Logger
}

// New creates an empty registry.
func New(bus *event.Bus, logger *zap.Logger) *Registry {
	return &Registry{
		devices: make(map[models.DeviceID]models.Device),
		bus:     bus,
		logger:  logger,
	}
}

// Upsert merges a discovery result into the registry, keyed by device
// ID. A connected entry is never overwritten by a disconnected one:
// demotion happens only through MarkDisconnected after a failed probe.
// When a connected device arrives, any disconnected entry sharing the
// same salt ID is removed (the device was re-registered under a new
// primary id, e.g. after a re-flash).
func (r *Registry) Upsert(ctx context.Context, d models.Device) {
	r.mu.Lock()

	if existing, ok := r.devices[d.ID]; ok && existing.Connected && !d.Connected {
		r.mu.Unlock()
		return
	}

	if d.Connected && d.SaltID != "" {
		for id, other := range r.devices {
			if id != d.ID && !other.Connected && other.SaltID == d.SaltID {
				delete(r.devices, id)
				r.logger.Info("removed stale entry with matching salt id",
					zap.String("old_id", string(id)),
					zap.String("new_id", string(d.ID)),
					zap.String("salt_id", d.SaltID),
				)
				break
			}
		}
	}

	_, known := r.devices[d.ID]
	r.devices[d.ID] = d
	r.mu.Unlock()

	if d.Connected {
		r.logger.Info("device connected",
			zap.String("id", string(d.ID)),
			zap.String("name", d.Name),
			zap.String("url", d.URL),
			zap.Bool("known", known),
		)
		r.bus.Publish(ctx, event.Event{Topic: event.TopicDeviceConnected, Source: "registry", Payload: d})
	}
}

// MarkDisconnected demotes a device after a confirmed failed probe.
// Session-scoped flags (LocationSet) reset with the session.
func (r *Registry) MarkDisconnected(ctx context.Context, id models.DeviceID) {
	r.mu.Lock()
	d, ok := r.devices[id]
	if !ok || !d.Connected {
		r.mu.Unlock()
		return
	}
	d.Connected = false
	d.LocationSet = false
	r.devices[id] = d
	r.mu.Unlock()

	r.logger.Info("device disconnected", zap.String("id", string(id)))
	r.bus.Publish(ctx, event.Event{Topic: event.TopicDeviceDisconnected, Source: "registry", Payload: d})
}

// SetLocationSet flips the session-scoped location flag.
func (r *Registry) SetLocationSet(id models.DeviceID, set bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.devices[id]; ok {
		d.LocationSet = set
		r.devices[id] = d
	}
}

// SetGroup records a successful group re-registration.
func (r *Registry) SetGroup(id models.DeviceID, group string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.devices[id]; ok {
		d.Group = group
		r.devices[id] = d
	}
}

// Get returns the device for id, if known.
func (r *Registry) Get(id models.DeviceID) (models.Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[id]
	return d, ok
}

// Connected returns the device only if it is currently connected.
func (r *Registry) Connected(id models.DeviceID) (models.Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[id]
	if !ok || !d.Connected {
		return models.Device{}, false
	}
	return d, true
}

// Values returns a snapshot of all known devices.
func (r *Registry) Values() []models.Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, d)
	}
	return out
}

// Len returns the number of known devices.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// EvictStale removes disconnected devices whose discovery timestamp
// predates now-maxAge. Connected devices are never evicted.
func (r *Registry) EvictStale(ctx context.Context, maxAge time.Duration) {
	cutoff := time.Now().Add(-maxAge)

	r.mu.Lock()
	var evicted []models.Device
	for id, d := range r.devices {
		if !d.Connected && d.TimeFound.Before(cutoff) {
			delete(r.devices, id)
			evicted = append(evicted, d)
		}
	}
	r.mu.Unlock()

	for _, d := range evicted {
		r.logger.Debug("evicted stale device", zap.String("id", string(d.ID)))
		r.bus.Publish(ctx, event.Event{Topic: event.TopicDeviceEvicted, Source: "registry", Payload: d})
	}
}

// Clear wipes the registry (discovery restart-with-clear).
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices = make(map[models.DeviceID]models.Device)
}
