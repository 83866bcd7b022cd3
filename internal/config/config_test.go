package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSectionDefaults(t *testing.T) {
	v, err := Load("")
	require.NoError(t, err)

	d, err := DiscoverySection(v)
	require.NoError(t, err)
	require.Equal(t, "_cacophonator-management._tcp", d.ServiceType)
	require.Equal(t, 3, d.ProbeRetries)
	require.Equal(t, 10*time.Minute, d.MaxDeviceAge)

	s, err := SyncSection(v)
	require.NoError(t, err)
	require.Equal(t, time.Minute, s.UploadInterval)
	require.Equal(t, 5*time.Minute, s.ModemKeepAlive)
	require.Equal(t, 5, s.ModemOnMinutes)
	require.Equal(t, 200.0, s.LocationThreshold)

	c, err := CloudSection(v)
	require.NoError(t, err)
	require.Equal(t, "https://api.cacophony.org.nz/api/v1", c.ProdURL)
	require.Equal(t, 120*time.Second, c.Timeout)
	require.Empty(t, c.Email)
	require.False(t, c.UseTest)

	l, err := LocationSection(v)
	require.NoError(t, err)
	require.Zero(t, l.Latitude)
	require.Equal(t, 30.0, l.AccuracyM)
	require.False(t, l.AutoUpdate)
}

func TestSectionOverrides(t *testing.T) {
	v, err := Load("")
	require.NoError(t, err)
	v.Set("sync.upload_interval", "30s")
	v.Set("cloud.email", "ops@example.org")
	v.Set("cloud.use_test", true)
	v.Set("location.latitude", -43.5)
	v.Set("location.longitude", 172.6)

	s, err := SyncSection(v)
	require.NoError(t, err)
	require.Equal(t, 30*time.Second, s.UploadInterval)

	c, err := CloudSection(v)
	require.NoError(t, err)
	require.Equal(t, "ops@example.org", c.Email)
	require.True(t, c.UseTest)

	l, err := LocationSection(v)
	require.NoError(t, err)
	require.Equal(t, -43.5, l.Latitude)
	require.Equal(t, 172.6, l.Longitude)
}
