package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"

	"go.uber.org/zap"

	"github.com/HerbHall/sidekick/internal/cloud"
	"github.com/HerbHall/sidekick/internal/event"
	"github.com/HerbHall/sidekick/pkg/models"
)

// UploadItems pushes every unsynced recording and event in the
// client's backend scope to the cloud. An authorization failure for a
// device skips its remaining items in this pass: the error is not
// transient and retrying would only repeat it. Other failures skip the
// single item and leave it queued for the next pass.
func (o *Orchestrator) UploadItems(ctx context.Context, cc *cloud.Client) error {
	if err := cc.EnsureSession(ctx); err != nil {
		return fmt.Errorf("upload items: %w", err)
	}
	isProd := cc.IsProd()

	skipped := make(map[models.DeviceID]bool)
	o.uploadRecordings(ctx, cc, isProd, skipped)
	o.uploadEvents(ctx, cc, isProd, skipped)

	if len(skipped) > 0 {
		names := make([]string, 0, len(skipped))
		for id := range skipped {
			names = append(names, string(id))
		}
		sort.Strings(names)
		o.bus.Publish(ctx, event.Event{
			Topic:   event.TopicSyncWarning,
			Source:  "sync",
			Payload: fmt.Sprintf("authorization failed for devices: %v", names),
		})
	}
	return nil
}

func (o *Orchestrator) uploadRecordings(ctx context.Context, cc *cloud.Client, isProd bool, skipped map[models.DeviceID]bool) {
	recs, err := o.store.UnuploadedRecordings(ctx, isProd)
	if err != nil {
		o.logger.Warn("upload: list recordings failed", zap.Error(err))
		return
	}
	for _, rec := range recs {
		if ctx.Err() != nil {
			return
		}
		if skipped[rec.Device] {
			continue
		}
		res, err := cc.UploadRecording(ctx, string(rec.Device), rec.Path)
		if errors.Is(err, cloud.ErrUnauthorized) {
			skipped[rec.Device] = true
			o.logger.Warn("upload: authorization failed, skipping device",
				zap.String("device", string(rec.Device)))
			syncFailures.WithLabelValues("upload").Inc()
			continue
		}
		if err != nil {
			o.logger.Warn("upload failed",
				zap.String("device", string(rec.Device)),
				zap.String("name", rec.Name),
				zap.Error(err))
			syncFailures.WithLabelValues("upload").Inc()
			continue
		}
		uploadID := strconv.FormatInt(res.RecordingID, 10)
		if err := o.store.MarkRecordingUploaded(ctx, rec.ID, uploadID); err != nil {
			o.logger.Error("upload: mark failed", zap.String("name", rec.Name), zap.Error(err))
			continue
		}
		recordingsUploaded.Inc()
		o.bus.Publish(ctx, event.Event{
			Topic:   event.TopicRecordingUploaded,
			Source:  "sync",
			Payload: rec.Name,
		})
		o.deleteDeviceCopy(ctx, rec)
	}
}

// deleteDeviceCopy removes the now-redundant on-device recording.
// Best effort: the uploaded flag already protects against re-upload,
// and the next sync pass cleans up anything left behind.
func (o *Orchestrator) deleteDeviceCopy(ctx context.Context, rec models.Recording) {
	device, ok := o.registry.Connected(rec.Device)
	if !ok {
		return
	}
	if err := o.clients(device.URL).DeleteRecording(ctx, rec.Name); err != nil {
		o.logger.Debug("device-side delete deferred",
			zap.String("device", string(rec.Device)),
			zap.String("name", rec.Name),
			zap.Error(err))
	}
}

func (o *Orchestrator) uploadEvents(ctx context.Context, cc *cloud.Client, isProd bool, skipped map[models.DeviceID]bool) {
	events, err := o.store.UnuploadedEvents(ctx, isProd)
	if err != nil {
		o.logger.Warn("upload: list events failed", zap.Error(err))
		return
	}
	for _, ev := range events {
		if ctx.Err() != nil {
			return
		}
		if skipped[ev.Device] {
			continue
		}
		var details json.RawMessage
		if ev.Details != "" {
			details = json.RawMessage(ev.Details)
		}
		err := cc.UploadEvent(ctx, string(ev.Device), ev.Type, details, []string{ev.Timestamp})
		if errors.Is(err, cloud.ErrUnauthorized) {
			skipped[ev.Device] = true
			o.logger.Warn("upload: authorization failed, skipping device",
				zap.String("device", string(ev.Device)))
			syncFailures.WithLabelValues("upload").Inc()
			continue
		}
		if err != nil {
			o.logger.Warn("event upload failed",
				zap.String("device", string(ev.Device)),
				zap.String("key", ev.Key),
				zap.Error(err))
			syncFailures.WithLabelValues("upload").Inc()
			continue
		}
		if err := o.store.MarkEventsUploaded(ctx, ev.Device, []string{ev.Key}); err != nil {
			o.logger.Error("upload: mark event failed", zap.String("key", ev.Key), zap.Error(err))
		} else {
			eventsUploaded.Inc()
		}
	}
}

// RemoveUploadedFiles deletes local files for recordings the cloud has
// confirmed, reclaiming space without waiting for the next device
// session.
func (o *Orchestrator) RemoveUploadedFiles(ctx context.Context, device models.DeviceID) error {
	uploaded, err := o.store.UploadedRecordings(ctx, device)
	if err != nil {
		return err
	}
	for _, rec := range uploaded {
		if rec.Path == "" {
			continue
		}
		if err := os.Remove(rec.Path); err != nil && !os.IsNotExist(err) {
			o.logger.Warn("remove uploaded file", zap.String("path", rec.Path), zap.Error(err))
		}
	}
	return nil
}
