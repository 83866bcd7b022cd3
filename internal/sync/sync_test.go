package sync

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/HerbHall/sidekick/internal/cloud"
	"github.com/HerbHall/sidekick/internal/deviceapi"
	"github.com/HerbHall/sidekick/internal/event"
	"github.com/HerbHall/sidekick/internal/registry"
	"github.com/HerbHall/sidekick/internal/storage"
	"github.com/HerbHall/sidekick/internal/store"
	"github.com/HerbHall/sidekick/pkg/models"
)

// fakeDevice is a scriptable device HTTP API.
type fakeDevice struct {
	mu         chan struct{} // download gate, nil means open
	recordings []string
	eventKeys  []int
	events     map[int]map[string]any

	listHits       atomic.Int64
	downloadHits   atomic.Int64
	deleteHits     atomic.Int64
	failDelete     bool
	deletedNames   []string
	downloadedName []string
}

func (d *fakeDevice) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/recordings", func(w http.ResponseWriter, _ *http.Request) {
		d.listHits.Add(1)
		json.NewEncoder(w).Encode(d.recordings)
	})
	mux.HandleFunc("/api/event-keys", func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(d.eventKeys)
	})
	mux.HandleFunc("/api/events", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			return
		}
		out := make(map[string]any)
		for k, ev := range d.events {
			out[jsonKey(k)] = map[string]any{"event": ev, "success": true}
		}
		json.NewEncoder(w).Encode(out)
	})
	mux.HandleFunc("/api/recording/", func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(r.URL.Path, "/api/recording/")
		if r.Method == http.MethodDelete {
			d.deleteHits.Add(1)
			if d.failDelete {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			d.deletedNames = append(d.deletedNames, name)
			return
		}
		d.downloadHits.Add(1)
		d.downloadedName = append(d.downloadedName, name)
		if d.mu != nil {
			<-d.mu
		}
		w.Write([]byte("data-" + name))
	})
	return mux
}

func jsonKey(k int) string {
	b, _ := json.Marshal(k)
	return string(b)
}

type harness struct {
	orch   *Orchestrator
	reg    *registry.Registry
	store  *storage.LocalStore
	bus    *event.Bus
	device models.Device
}

func newHarness(t *testing.T, d *fakeDevice) *harness {
	t.Helper()
	srv := httptest.NewServer(d.handler())
	t.Cleanup(srv.Close)

	s, err := store.New(filepath.Join(t.TempDir(), "sync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	ls, err := storage.NewLocalStore(context.Background(), s)
	require.NoError(t, err)

	bus := event.NewBus(zap.NewNop())
	reg := registry.New(bus, zap.NewNop())
	clients := deviceapi.NewFactory(5*time.Second, zap.NewNop())
	orch := New(reg, clients, ls, bus, t.TempDir(), zap.NewNop())

	device := models.Device{
		ID: "123", Name: "cam-01", Group: "forest", URL: srv.URL,
		IsProd: true, Connected: true, TimeFound: time.Now(),
	}
	reg.Upsert(context.Background(), device)
	return &harness{orch: orch, reg: reg, store: ls, bus: bus, device: device}
}

func freshSessionToken(t *testing.T) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()})
	s, err := tok.SignedString([]byte("k"))
	require.NoError(t, err)
	return "JWT " + s
}

func cloudClient(t *testing.T, handler http.Handler) *cloud.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cc := cloud.NewClient(srv.URL, 5*time.Second, zap.NewNop())
	cc.SetSession(freshSessionToken(t), "refresh")
	return cc
}

func TestSaveItems_DownloadsAndIsIdempotent(t *testing.T) {
	d := &fakeDevice{
		recordings: []string{"r1.cptv"},
		eventKeys:  []int{1},
		events: map[int]map[string]any{
			1: {"Type": "powered-on", "Timestamp": "2026-08-01T10:00:00Z", "Details": map[string]any{"v": 1}},
		},
	}
	h := newHarness(t, d)
	ctx := context.Background()

	require.NoError(t, h.orch.SaveItems(ctx, h.device))

	recs, err := h.store.Recordings(ctx, "123")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "r1.cptv", recs[0].Name)
	assert.False(t, recs[0].IsUploaded)

	content, err := os.ReadFile(recs[0].Path)
	require.NoError(t, err)
	assert.Equal(t, "data-r1.cptv", string(content))

	events, err := h.store.Events(ctx, "123")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "1", events[0].Key)
	assert.Equal(t, "powered-on", events[0].Type)

	// A second pass over the same device state must not duplicate rows
	// or re-download.
	require.NoError(t, h.orch.SaveItems(ctx, h.device))
	recs, _ = h.store.Recordings(ctx, "123")
	events, _ = h.store.Events(ctx, "123")
	assert.Len(t, recs, 1)
	assert.Len(t, events, 1)
	assert.Equal(t, int64(1), d.downloadHits.Load())
}

func TestSaveItems_CleanupDeletesDeviceCopyFirst(t *testing.T) {
	d := &fakeDevice{recordings: []string{"r1.cptv"}}
	h := newHarness(t, d)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "r1.cptv")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	_, err := h.store.SaveRecording(ctx, models.Recording{
		Name: "r1.cptv", Path: path, Device: "123", IsProd: true, IsUploaded: true, UploadID: "999",
	})
	require.NoError(t, err)

	require.NoError(t, h.orch.SaveItems(ctx, h.device))

	assert.Equal(t, []string{"r1.cptv"}, d.deletedNames)
	recs, _ := h.store.Recordings(ctx, "123")
	assert.Empty(t, recs, "local row purged after device delete succeeded")
	assert.Zero(t, d.downloadHits.Load(), "cleaned recording must not be re-downloaded")
	assert.NoFileExists(t, path)
}

func TestSaveItems_KeepsLocalRowWhenDeviceDeleteFails(t *testing.T) {
	d := &fakeDevice{recordings: []string{"r1.cptv"}, failDelete: true}
	h := newHarness(t, d)
	ctx := context.Background()

	_, err := h.store.SaveRecording(ctx, models.Recording{
		Name: "r1.cptv", Path: "", Device: "123", IsProd: true, IsUploaded: true,
	})
	require.NoError(t, err)

	require.NoError(t, h.orch.SaveItems(ctx, h.device))

	recs, _ := h.store.Recordings(ctx, "123")
	require.Len(t, recs, 1, "local row must survive a failed device delete")
}

func TestSaveItems_OverlappingCallsCoalesce(t *testing.T) {
	gate := make(chan struct{})
	d := &fakeDevice{recordings: []string{"r1.cptv"}, mu: gate}
	h := newHarness(t, d)

	done := make(chan error, 1)
	go func() { done <- h.orch.SaveItems(context.Background(), h.device) }()

	require.Eventually(t, func() bool { return d.downloadHits.Load() == 1 }, 3*time.Second, 10*time.Millisecond)
	assert.True(t, h.orch.Downloading("123"))

	// Second trigger while the first pass is mid-download is a no-op.
	require.NoError(t, h.orch.SaveItems(context.Background(), h.device))
	assert.Equal(t, int64(1), d.listHits.Load(), "coalesced call must not re-inventory")

	close(gate)
	require.NoError(t, <-done)
	assert.False(t, h.orch.Downloading("123"))
}

func TestStopSaveItems_StopsBeforeNextItem(t *testing.T) {
	gate := make(chan struct{})
	d := &fakeDevice{recordings: []string{"r1.cptv", "r2.cptv"}, mu: gate}
	h := newHarness(t, d)

	done := make(chan error, 1)
	go func() { done <- h.orch.SaveItems(context.Background(), h.device) }()

	require.Eventually(t, func() bool { return d.downloadHits.Load() == 1 }, 3*time.Second, 10*time.Millisecond)
	h.orch.StopSaveItems("123")
	close(gate)
	require.NoError(t, <-done)

	assert.Equal(t, int64(1), d.downloadHits.Load(), "second item must not be attempted after stop")
}

func TestUploadItems_HappyPath(t *testing.T) {
	d := &fakeDevice{}
	h := newHarness(t, d)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "r1.cptv")
	require.NoError(t, os.WriteFile(path, []byte("cptv"), 0o644))
	_, err := h.store.SaveRecording(ctx, models.Recording{
		Name: "r1.cptv", Path: path, Device: "123", IsProd: true,
	})
	require.NoError(t, err)
	_, err = h.store.SaveEvent(ctx, models.Event{
		Key: "1", Device: "123", Type: "powered-on", Timestamp: "2026-08-01T10:00:00Z", IsProd: true,
	})
	require.NoError(t, err)

	var eventUploads atomic.Int64
	cc := cloudClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/recordings/device/"):
			json.NewEncoder(w).Encode(map[string]any{"recordingId": 999, "success": true})
		case strings.HasPrefix(r.URL.Path, "/events/device/"):
			eventUploads.Add(1)
			json.NewEncoder(w).Encode(map[string]any{"success": true})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	require.NoError(t, h.orch.UploadItems(ctx, cc))

	recs, _ := h.store.UploadedRecordings(ctx, "123")
	require.Len(t, recs, 1)
	assert.Equal(t, "999", recs[0].UploadID)
	assert.Equal(t, int64(1), d.deleteHits.Load(), "device copy delete must be attempted after upload")
	assert.Equal(t, int64(1), eventUploads.Load())

	pending, _ := h.store.UnuploadedEvents(ctx, true)
	assert.Empty(t, pending)

	// Re-running must not re-upload.
	require.NoError(t, h.orch.UploadItems(ctx, cc))
	recs, _ = h.store.UploadedRecordings(ctx, "123")
	assert.Len(t, recs, 1)
}

func TestUploadItems_AuthFailureShortCircuitsDevice(t *testing.T) {
	d := &fakeDevice{}
	h := newHarness(t, d)
	ctx := context.Background()

	dir := t.TempDir()
	for _, name := range []string{"a.cptv", "b.cptv"} {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
		_, err := h.store.SaveRecording(ctx, models.Recording{
			Name: name, Path: path, Device: "123", IsProd: true,
		})
		require.NoError(t, err)
	}

	var attempts atomic.Int64
	cc := cloudClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/recordings/device/") {
			attempts.Add(1)
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))

	var warnings []string
	h.bus.Subscribe(event.TopicSyncWarning, func(_ context.Context, e event.Event) {
		warnings = append(warnings, e.Payload.(string))
	})

	require.NoError(t, h.orch.UploadItems(ctx, cc))

	assert.Equal(t, int64(1), attempts.Load(), "second item for the device must never be attempted")
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "123", "warning must name the affected device")

	pending, _ := h.store.UnuploadedRecordings(ctx, true)
	assert.Len(t, pending, 2, "nothing marked uploaded after auth failure")
}

func TestUploadItems_ScopeFilter(t *testing.T) {
	d := &fakeDevice{}
	h := newHarness(t, d)
	ctx := context.Background()

	_, err := h.store.SaveRecording(ctx, models.Recording{
		Name: "t.cptv", Path: "/nope", Device: "123", IsProd: false,
	})
	require.NoError(t, err)

	var attempts atomic.Int64
	prod := cloudClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))

	require.NoError(t, h.orch.UploadItems(ctx, prod))
	assert.Zero(t, attempts.Load(), "test-scope recordings must not reach a prod client")
}

func TestSyncLocations_RefreshPreservesQueuedRename(t *testing.T) {
	d := &fakeDevice{}
	h := newHarness(t, d)
	ctx := context.Background()

	require.NoError(t, h.store.SaveLocation(ctx, models.Location{
		ID: "9", Name: "renamed ridge", GroupName: "forest",
		IsProd: true, UpdatedAt: time.Now().UTC(), UpdateName: true,
	}))

	var patched atomic.Int64
	cc := cloudClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/stations" && r.Method == http.MethodGet:
			json.NewEncoder(w).Encode(map[string]any{
				"stations": []map[string]any{{
					"id": 9, "name": "old ridge", "groupName": "forest",
					"location":  map[string]float64{"lat": -43.5, "lng": 172.6},
					"updatedAt": "2026-08-01T10:00:00Z",
				}},
				"success": true,
			})
		case r.URL.Path == "/stations/9" && r.Method == http.MethodPatch:
			var body map[string]string
			json.NewDecoder(r.Body).Decode(&body)
			assert.Contains(t, body["station-updates"], "renamed ridge")
			patched.Add(1)
			json.NewEncoder(w).Encode(map[string]any{"success": true})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	require.NoError(t, h.orch.SyncLocations(ctx, cc))

	assert.Equal(t, int64(1), patched.Load())
	got, err := h.store.Location(ctx, "9")
	require.NoError(t, err)
	assert.Equal(t, "renamed ridge", got.Name, "queued rename outranks the server name")
	assert.False(t, got.UpdateName)
	assert.Equal(t, -43.5, got.Coords.Lat, "server coordinates merged in")
}

func TestSyncLocations_UnauthorizedPhotoUploadPersistsQueue(t *testing.T) {
	d := &fakeDevice{}
	h := newHarness(t, d)
	ctx := context.Background()

	photoA := filepath.Join(t.TempDir(), "a.jpg")
	photoB := filepath.Join(t.TempDir(), "b.jpg")
	require.NoError(t, os.WriteFile(photoA, []byte("jpeg-a"), 0o644))
	require.NoError(t, os.WriteFile(photoB, []byte("jpeg-b"), 0o644))

	require.NoError(t, h.store.SaveLocation(ctx, models.Location{
		ID: "9", Name: "ridge", GroupName: "forest",
		IsProd: true, UpdatedAt: time.Now().UTC(),
		UploadImages: []string{photoA, photoB},
	}))

	cc := cloudClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/stations" && r.Method == http.MethodGet:
			json.NewEncoder(w).Encode(map[string]any{"stations": []any{}, "success": true})
		case r.URL.Path == "/stations/9/reference-photo" && r.Method == http.MethodPost:
			w.WriteHeader(http.StatusUnauthorized)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	err := h.orch.SyncLocations(ctx, cc)
	assert.ErrorIs(t, err, cloud.ErrUnauthorized)

	got, err := h.store.Location(ctx, "9")
	require.NoError(t, err)
	assert.Equal(t, []string{photoA, photoB}, got.UploadImages,
		"queue must survive the aborted pass for the next attempt")
	assert.Empty(t, got.ReferenceImages)
}

func TestSyncLocations_CreatesOfflineStation(t *testing.T) {
	d := &fakeDevice{}
	h := newHarness(t, d)
	ctx := context.Background()

	provisionalID := models.NewProvisionalLocationID()
	require.NoError(t, h.store.SaveLocation(ctx, models.Location{
		ID: provisionalID, Name: "new site", GroupName: "forest",
		Coords: models.Coords{Lat: -43.6, Lng: 172.7},
		IsProd: true, UpdatedAt: time.Now().UTC(), NeedsCreation: true,
	}))

	cc := cloudClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/stations":
			json.NewEncoder(w).Encode(map[string]any{"stations": []any{}, "success": true})
		case r.URL.Path == "/groups/forest/station" && r.Method == http.MethodPost:
			json.NewEncoder(w).Encode(map[string]any{"stationId": 11, "success": true})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	require.NoError(t, h.orch.SyncLocations(ctx, cc))

	_, err := h.store.Location(ctx, provisionalID)
	assert.Error(t, err, "provisional row must be gone")

	got, err := h.store.Location(ctx, "11")
	require.NoError(t, err)
	assert.Equal(t, "new site", got.Name)
	assert.False(t, got.NeedsCreation)
}
