package geo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HerbHall/sidekick/pkg/models"
)

func TestFixedLocator_Configured(t *testing.T) {
	l := &FixedLocator{Coords: models.Coords{Lat: -43.5, Lng: 172.6}, Accuracy: 25}
	ctx := context.Background()

	perm, err := l.Permission(ctx)
	require.NoError(t, err)
	assert.Equal(t, PermissionGranted, perm)

	pos, err := l.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, -43.5, pos.Coords.Lat)
	assert.Equal(t, 25.0, pos.Accuracy)
	assert.WithinDuration(t, time.Now(), pos.Timestamp, time.Minute)
}

func TestFixedLocator_Unconfigured(t *testing.T) {
	l := &FixedLocator{}
	ctx := context.Background()

	perm, err := l.Permission(ctx)
	require.NoError(t, err)
	assert.Equal(t, PermissionDenied, perm)

	_, err = l.Current(ctx)
	assert.ErrorIs(t, err, ErrNoPosition)
}
