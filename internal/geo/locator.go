package geo

import (
	"context"
	"errors"
	"time"

	"github.com/HerbHall/sidekick/pkg/models"
)

// Permission is the platform location-permission state.
type Permission string

const (
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
	PermissionPrompt  Permission = "prompt"
)

// Position is one GPS fix.
type Position struct {
	Coords    models.Coords
	Accuracy  float64
	Timestamp time.Time
}

// Geolocator is the platform positioning primitive. The OS permission
// flow itself lives outside this module; implementations surface only
// the resulting state.
type Geolocator interface {
	// Permission returns the current permission state without
	// prompting.
	Permission(ctx context.Context) (Permission, error)
	// Current returns a fresh GPS fix. Implementations should fail
	// rather than block indefinitely when no fix is available.
	Current(ctx context.Context) (Position, error)
}

// ErrNoPosition is returned by a FixedLocator with no configured
// position.
var ErrNoPosition = errors.New("no position configured")

// FixedLocator serves a configured operator position, for running
// headless where no platform positioning exists. Without a position
// it reports PermissionDenied rather than claiming a fix at 0,0.
type FixedLocator struct {
	Coords   models.Coords
	Accuracy float64
}

func (f *FixedLocator) configured() bool {
	return f.Coords.Lat != 0 || f.Coords.Lng != 0
}

// Permission implements Geolocator.
func (f *FixedLocator) Permission(ctx context.Context) (Permission, error) {
	if !f.configured() {
		return PermissionDenied, nil
	}
	return PermissionGranted, nil
}

// Current implements Geolocator. The fix is stamped with the call
// time: the configured position is treated as where the operator is
// right now.
func (f *FixedLocator) Current(ctx context.Context) (Position, error) {
	if !f.configured() {
		return Position{}, ErrNoPosition
	}
	return Position{
		Coords:    f.Coords,
		Accuracy:  f.Accuracy,
		Timestamp: time.Now(),
	}, nil
}
