package geo

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/HerbHall/sidekick/pkg/models"
)

// metresPerDegreeLat at the equator; close enough for offsets of tens
// of metres anywhere.
const metresPerDegreeLat = 111194.93

func offsetNorth(p models.Coords, metres float64) models.Coords {
	return models.Coords{Lat: p.Lat + metres/metresPerDegreeLat, Lng: p.Lng}
}

func TestDistance(t *testing.T) {
	a := models.Coords{Lat: -43.5, Lng: 172.6}

	assert.Zero(t, Distance(a, a))

	// One degree of latitude is ~111.2 km.
	b := models.Coords{Lat: -44.5, Lng: 172.6}
	got := Distance(a, b)
	assert.InDelta(t, 111194.93, got, 50)

	assert.Equal(t, Distance(a, b), Distance(b, a))
}

func TestWithinStationRadius(t *testing.T) {
	station := models.Coords{Lat: -43.5, Lng: 172.6}

	assert.True(t, WithinStationRadius(station, station))
	assert.True(t, WithinStationRadius(offsetNorth(station, 29.9), station))
	assert.False(t, WithinStationRadius(offsetNorth(station, 30.5), station))

	if r := StationRadius; math.Abs(r-30.0) > 1e-9 {
		t.Errorf("StationRadius = %v, want half the minimum separation", r)
	}
}

func TestMatchingStation(t *testing.T) {
	base := models.Coords{Lat: -43.5, Lng: 172.6}
	now := time.Now()

	locations := []models.Location{
		{ID: "1", Name: "wrong group", GroupName: "other", Coords: base, IsProd: true, UpdatedAt: now},
		{ID: "2", Name: "wrong scope", GroupName: "forest", Coords: base, IsProd: false, UpdatedAt: now},
		{ID: "3", Name: "too far", GroupName: "forest", Coords: offsetNorth(base, 100), IsProd: true, UpdatedAt: now},
		{ID: "4", Name: "older", GroupName: "forest", Coords: base, IsProd: true, UpdatedAt: now.Add(-time.Hour)},
		{ID: "5", Name: "newest", GroupName: "forest", Coords: offsetNorth(base, 10), IsProd: true, UpdatedAt: now},
	}

	got := MatchingStation(locations, base, "forest", true)
	if assert.NotNil(t, got) {
		assert.Equal(t, "5", got.ID, "most recently updated match wins")
	}

	assert.Nil(t, MatchingStation(locations, offsetNorth(base, 500), "forest", true))
	assert.Nil(t, MatchingStation(nil, base, "forest", true))
}
