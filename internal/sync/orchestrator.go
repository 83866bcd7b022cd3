// Package sync moves recordings and events from devices to local
// storage and on to the cloud. Every phase is safe to re-run: local
// inserts are keyed by device+name (or device+key) and uploads are
// guarded by the stored upload flag, so overlapping or repeated passes
// never duplicate data.
package sync

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	gosync "sync"

	"go.uber.org/zap"

	"github.com/HerbHall/sidekick/internal/deviceapi"
	"github.com/HerbHall/sidekick/internal/event"
	"github.com/HerbHall/sidekick/internal/registry"
	"github.com/HerbHall/sidekick/internal/storage"
	"github.com/HerbHall/sidekick/pkg/models"
)

// Orchestrator runs the per-device sync pipeline.
type Orchestrator struct {
	registry *registry.Registry
	clients  deviceapi.Factory
	store    *storage.LocalStore
	bus      *event.Bus
	logger   *zap.Logger
	dataDir  string

	mu          gosync.Mutex
	downloading map[models.DeviceID]bool
	cancels     map[models.DeviceID]context.CancelFunc
}

// New builds an Orchestrator. Downloaded recordings land under
// dataDir/<deviceID>/.
func New(reg *registry.Registry, clients deviceapi.Factory, store *storage.LocalStore, bus *event.Bus, dataDir string, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		registry:    reg,
		clients:     clients,
		store:       store,
		bus:         bus,
		logger:      logger,
		dataDir:     dataDir,
		downloading: make(map[models.DeviceID]bool),
		cancels:     make(map[models.DeviceID]context.CancelFunc),
	}
}

// inventory is what the device reports it currently holds.
type inventory struct {
	Recordings []string
	EventKeys  []int
}

// SaveItems runs inventory, cleanup and download for one device.
// Overlapping calls for the same device coalesce: the second caller
// observes the in-flight marker and returns immediately.
func (o *Orchestrator) SaveItems(ctx context.Context, device models.Device) error {
	o.mu.Lock()
	if o.downloading[device.ID] {
		o.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	o.downloading[device.ID] = true
	o.cancels[device.ID] = cancel
	o.mu.Unlock()
	defer func() {
		cancel()
		o.mu.Lock()
		delete(o.downloading, device.ID)
		delete(o.cancels, device.ID)
		o.mu.Unlock()
	}()

	client := o.clients(device.URL)
	inv, err := o.fetchInventory(runCtx, client)
	if err != nil {
		return fmt.Errorf("inventory for %s: %w", device.Name, err)
	}

	inv = o.cleanupUploaded(runCtx, device, client, inv)
	o.downloadRecordings(runCtx, device, client, inv.Recordings)
	o.downloadEvents(runCtx, device, client, inv.EventKeys)

	o.bus.Publish(runCtx, event.Event{
		Topic:   event.TopicInventoryUpdated,
		Source:  "sync",
		Payload: device.ID,
	})
	return nil
}

// StopSaveItems cancels an in-flight download pass for the device. The
// pass stops before the next item; items already saved stay saved.
func (o *Orchestrator) StopSaveItems(id models.DeviceID) {
	o.mu.Lock()
	cancel := o.cancels[id]
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Downloading reports whether a pass is in flight for the device.
func (o *Orchestrator) Downloading(id models.DeviceID) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.downloading[id]
}

// fetchInventory pulls the recording-name and event-key lists
// concurrently.
func (o *Orchestrator) fetchInventory(ctx context.Context, client *deviceapi.Client) (inventory, error) {
	var (
		inv     inventory
		recErr  error
		keysErr error
		wg      gosync.WaitGroup
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		inv.Recordings, recErr = client.Recordings(ctx)
	}()
	go func() {
		defer wg.Done()
		inv.EventKeys, keysErr = client.EventKeys(ctx)
	}()
	wg.Wait()
	if recErr != nil {
		return inv, recErr
	}
	return inv, keysErr
}

// cleanupUploaded purges items the cloud has already confirmed that
// still sit on the device or in the local cache. The device copy goes
// first; the local row is only dropped once the device delete
// succeeded, so a flaky device call never costs the last copy.
func (o *Orchestrator) cleanupUploaded(ctx context.Context, device models.Device, client *deviceapi.Client, inv inventory) inventory {
	onDevice := make(map[string]bool, len(inv.Recordings))
	for _, name := range inv.Recordings {
		onDevice[name] = true
	}

	uploaded, err := o.store.UploadedRecordings(ctx, device.ID)
	if err != nil {
		o.logger.Warn("cleanup: list uploaded recordings", zap.Error(err))
		uploaded = nil
	}
	cleaned := make(map[string]bool)
	for _, rec := range uploaded {
		if ctx.Err() != nil {
			return inv
		}
		if !onDevice[rec.Name] {
			continue
		}
		if err := client.DeleteRecording(ctx, rec.Name); err != nil {
			o.logger.Warn("cleanup: device delete failed, keeping local copy",
				zap.String("device", string(device.ID)),
				zap.String("name", rec.Name),
				zap.Error(err))
			syncFailures.WithLabelValues("cleanup").Inc()
			continue
		}
		if err := o.store.DeleteRecording(ctx, device.ID, rec.Name); err != nil {
			o.logger.Warn("cleanup: local delete failed", zap.Error(err))
			continue
		}
		if rec.Path != "" {
			os.Remove(rec.Path)
		}
		cleaned[rec.Name] = true
	}

	uploadedEvents, err := o.store.UploadedEvents(ctx, device.ID)
	if err == nil && len(uploadedEvents) > 0 {
		onDeviceKey := make(map[string]bool, len(inv.EventKeys))
		for _, k := range inv.EventKeys {
			onDeviceKey[strconv.Itoa(k)] = true
		}
		var deviceKeys []int
		var localKeys []string
		for _, ev := range uploadedEvents {
			if !onDeviceKey[ev.Key] {
				continue
			}
			if k, err := strconv.Atoi(ev.Key); err == nil {
				deviceKeys = append(deviceKeys, k)
				localKeys = append(localKeys, ev.Key)
			}
		}
		if len(deviceKeys) > 0 {
			if err := client.DeleteEvents(ctx, deviceKeys); err != nil {
				o.logger.Warn("cleanup: device event delete failed",
					zap.String("device", string(device.ID)),
					zap.Error(err))
				syncFailures.WithLabelValues("cleanup").Inc()
			} else if err := o.store.DeleteEvents(ctx, device.ID, localKeys); err != nil {
				o.logger.Warn("cleanup: local event delete failed", zap.Error(err))
			}
		}
	}

	// Cleaned recordings must not be re-downloaded in the same pass.
	remaining := inv.Recordings[:0]
	for _, name := range inv.Recordings {
		if !cleaned[name] {
			remaining = append(remaining, name)
		}
	}
	inv.Recordings = remaining
	return inv
}

// downloadRecordings pulls recordings the local store has not seen.
// Failures are per-item; the stop signal is checked before each item.
func (o *Orchestrator) downloadRecordings(ctx context.Context, device models.Device, client *deviceapi.Client, names []string) {
	dir := filepath.Join(o.dataDir, string(device.ID))
	for _, name := range names {
		if ctx.Err() != nil {
			return
		}
		has, err := o.store.HasRecording(ctx, device.ID, name)
		if err != nil {
			o.logger.Warn("download: existence check failed", zap.Error(err))
			continue
		}
		if has {
			continue
		}
		size, path, err := o.downloadToFile(ctx, client, dir, name)
		if err != nil {
			if ctx.Err() == nil {
				o.logger.Warn("download failed",
					zap.String("device", string(device.ID)),
					zap.String("name", name),
					zap.Error(err))
				syncFailures.WithLabelValues("download").Inc()
			}
			continue
		}
		inserted, err := o.store.SaveRecording(ctx, models.Recording{
			Name:       name,
			Path:       path,
			Device:     device.ID,
			DeviceName: device.Name,
			GroupName:  device.Group,
			Size:       size,
			IsProd:     device.IsProd,
		})
		if err != nil {
			o.logger.Warn("download: save failed", zap.String("name", name), zap.Error(err))
			continue
		}
		if inserted {
			recordingsDownloaded.Inc()
			o.bus.Publish(ctx, event.Event{
				Topic:   event.TopicRecordingSaved,
				Source:  "sync",
				Payload: name,
			})
		}
	}
}

func (o *Orchestrator) downloadToFile(ctx context.Context, client *deviceapi.Client, dir, name string) (int64, string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, "", err
	}
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		return 0, "", err
	}
	size, err := client.DownloadRecording(ctx, name, f)
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(path)
		return 0, "", err
	}
	return size, path, nil
}

// downloadEvents fetches event bodies for keys the local store has not
// seen and inserts them.
func (o *Orchestrator) downloadEvents(ctx context.Context, device models.Device, client *deviceapi.Client, keys []int) {
	if len(keys) == 0 || ctx.Err() != nil {
		return
	}
	existing, err := o.store.Events(ctx, device.ID)
	if err != nil {
		o.logger.Warn("events: list local failed", zap.Error(err))
		return
	}
	have := make(map[string]bool, len(existing))
	for _, ev := range existing {
		have[ev.Key] = true
	}
	var missing []int
	for _, k := range keys {
		if !have[strconv.Itoa(k)] {
			missing = append(missing, k)
		}
	}
	if len(missing) == 0 {
		return
	}

	fetched, err := client.Events(ctx, missing)
	if err != nil {
		if ctx.Err() == nil {
			o.logger.Warn("events: fetch failed",
				zap.String("device", string(device.ID)),
				zap.Error(err))
			syncFailures.WithLabelValues("download").Inc()
		}
		return
	}
	for _, ev := range fetched {
		if ctx.Err() != nil {
			return
		}
		inserted, err := o.store.SaveEvent(ctx, models.Event{
			Key:       strconv.Itoa(ev.Key),
			Device:    device.ID,
			Type:      ev.Type,
			Details:   string(ev.Details),
			Timestamp: ev.Timestamp,
			IsProd:    device.IsProd,
		})
		if err != nil {
			o.logger.Warn("events: save failed", zap.Int("key", ev.Key), zap.Error(err))
			continue
		}
		if inserted {
			eventsDownloaded.Inc()
			o.bus.Publish(ctx, event.Event{
				Topic:   event.TopicEventSaved,
				Source:  "sync",
				Payload: ev.Key,
			})
		}
	}
}
