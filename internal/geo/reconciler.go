package geo

import (
	"context"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/HerbHall/sidekick/internal/deviceapi"
	"github.com/HerbHall/sidekick/internal/registry"
	"github.com/HerbHall/sidekick/internal/storage"
	"github.com/HerbHall/sidekick/pkg/models"
)

// Status is the location agreement state for one device.
type Status string

const (
	// StatusLoading is the initial state before a check completes.
	StatusLoading Status = "loading"
	// StatusCurrent means the device's position agrees with the phone.
	StatusCurrent Status = "current"
	// StatusNeedsUpdate means the phone has moved far enough that the
	// device's recorded position is likely stale, or the device has no
	// position at all.
	StatusNeedsUpdate Status = "needsUpdate"
	// StatusUnavailable means location permission is denied or no fix
	// can be obtained.
	StatusUnavailable Status = "unavailable"
)

// Reconciler compares device positions against the phone and stored
// stations.
type Reconciler struct {
	locator   Geolocator
	clients   deviceapi.Factory
	registry  *registry.Registry
	store     *storage.LocalStore
	threshold float64
	logger    *zap.Logger
}

// NewReconciler builds a Reconciler. A non-positive threshold falls
// back to DefaultMovementThreshold.
func NewReconciler(locator Geolocator, clients deviceapi.Factory, reg *registry.Registry, store *storage.LocalStore, threshold float64, logger *zap.Logger) *Reconciler {
	if threshold <= 0 {
		threshold = DefaultMovementThreshold
	}
	return &Reconciler{
		locator:   locator,
		clients:   clients,
		registry:  reg,
		store:     store,
		threshold: threshold,
		logger:    logger,
	}
}

// Status fetches the device's live position and compares it with the
// phone's. A device that has never been given a position reports
// needsUpdate.
func (r *Reconciler) Status(ctx context.Context, device models.Device) (Status, error) {
	perm, err := r.locator.Permission(ctx)
	if err != nil {
		return StatusUnavailable, fmt.Errorf("location permission: %w", err)
	}
	if perm != PermissionGranted {
		return StatusUnavailable, nil
	}

	pos, err := r.locator.Current(ctx)
	if err != nil {
		return StatusUnavailable, fmt.Errorf("gps fix: %w", err)
	}

	loc, err := r.clients(device.URL).Location(ctx)
	if err != nil {
		return StatusLoading, fmt.Errorf("device location: %w", err)
	}
	if loc.Latitude == 0 && loc.Longitude == 0 {
		return StatusNeedsUpdate, nil
	}

	d := Distance(pos.Coords, models.Coords{Lat: loc.Latitude, Lng: loc.Longitude})
	if d > r.threshold {
		r.logger.Debug("device position stale",
			zap.String("device", string(device.ID)),
			zap.Float64("distance_m", d))
		return StatusNeedsUpdate, nil
	}
	return StatusCurrent, nil
}

// SetToCurrentPosition pushes the phone's position to the device. On
// success the registry's session flag is set; the flag resets on
// reconnect because the device gives no receipt across sessions.
func (r *Reconciler) SetToCurrentPosition(ctx context.Context, device models.Device) (Position, error) {
	pos, err := r.locator.Current(ctx)
	if err != nil {
		return Position{}, fmt.Errorf("gps fix: %w", err)
	}
	err = r.clients(device.URL).SetLocation(ctx, deviceapi.Coordinates{
		Latitude:  pos.Coords.Lat,
		Longitude: pos.Coords.Lng,
		Accuracy:  pos.Accuracy,
		Timestamp: strconv.FormatInt(pos.Timestamp.Unix(), 10),
	})
	if err != nil {
		return Position{}, fmt.Errorf("push location to %s: %w", device.Name, err)
	}
	r.registry.SetLocationSet(device.ID, true)
	return pos, nil
}

// NearbyStation returns the stored station the position falls inside,
// scoped to the device's group and backend, or nil.
func (r *Reconciler) NearbyStation(ctx context.Context, device models.Device, p models.Coords) (*models.Location, error) {
	locs, err := r.store.Locations(ctx, device.IsProd)
	if err != nil {
		return nil, err
	}
	return MatchingStation(locs, p, device.Group, device.IsProd), nil
}
