package sync

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/HerbHall/sidekick/internal/cloud"
	"github.com/HerbHall/sidekick/pkg/models"
)

// SyncLocations refreshes the station cache from the cloud and flushes
// pending local changes: offline-created stations, queued renames, and
// reference-photo upload/delete queues. Authorization failures abort
// the pass; anything else defers the item to the next pass.
func (o *Orchestrator) SyncLocations(ctx context.Context, cc *cloud.Client) error {
	if err := cc.EnsureSession(ctx); err != nil {
		return fmt.Errorf("sync locations: %w", err)
	}
	isProd := cc.IsProd()

	if err := o.refreshStations(ctx, cc, isProd); err != nil {
		if errors.Is(err, cloud.ErrUnauthorized) {
			return err
		}
		o.logger.Warn("station refresh failed, flushing pending changes anyway", zap.Error(err))
	}

	pending, err := o.store.PendingLocations(ctx, isProd)
	if err != nil {
		return fmt.Errorf("sync locations: %w", err)
	}
	for _, loc := range pending {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := o.flushLocation(ctx, cc, loc); err != nil {
			if errors.Is(err, cloud.ErrUnauthorized) {
				return err
			}
			o.logger.Warn("location flush deferred",
				zap.String("location", loc.ID),
				zap.Error(err))
		}
	}
	return nil
}

// refreshStations merges the server's station list into the cache,
// preserving local pending queues on rows that have them.
func (o *Orchestrator) refreshStations(ctx context.Context, cc *cloud.Client, isProd bool) error {
	stations, err := cc.ListStations(ctx)
	if err != nil {
		return err
	}
	for _, st := range stations {
		id := strconv.FormatInt(st.ID, 10)
		loc := models.Location{
			ID:              id,
			Name:            st.Name,
			GroupName:       st.GroupName,
			Coords:          models.Coords{Lat: st.Location.Lat, Lng: st.Location.Lng},
			IsProd:          isProd,
			UpdatedAt:       st.UpdatedAt,
			ReferenceImages: st.ReferenceImages(),
		}
		if existing, err := o.store.Location(ctx, id); err == nil {
			// A queued rename outranks the server's copy of the name.
			if existing.UpdateName {
				loc.Name = existing.Name
				loc.UpdateName = true
			}
			loc.UploadImages = existing.UploadImages
			loc.DeleteImages = existing.DeleteImages
		}
		if err := o.store.SaveLocation(ctx, loc); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) flushLocation(ctx context.Context, cc *cloud.Client, loc models.Location) error {
	if loc.NeedsCreation {
		created, err := o.createStation(ctx, cc, loc)
		if err != nil {
			return err
		}
		loc = created
	}

	if loc.UpdateName {
		stationID, err := strconv.ParseInt(loc.ID, 10, 64)
		if err != nil {
			return fmt.Errorf("location %s: bad id: %w", loc.ID, err)
		}
		if err := cc.RenameStation(ctx, stationID, loc.Name); err != nil {
			return err
		}
		loc.UpdateName = false
		if err := o.store.UpdateLocation(ctx, loc); err != nil {
			return err
		}
	}

	if len(loc.UploadImages) > 0 {
		if err := o.flushPhotoUploads(ctx, cc, &loc); err != nil {
			return err
		}
	}
	if len(loc.DeleteImages) > 0 {
		if err := o.flushPhotoDeletes(ctx, cc, &loc); err != nil {
			return err
		}
	}
	return nil
}

// createStation materializes an offline-created station on the server
// and rewrites the local row under the server-assigned id.
func (o *Orchestrator) createStation(ctx context.Context, cc *cloud.Client, loc models.Location) (models.Location, error) {
	id, err := cc.CreateStation(ctx, loc.GroupName, loc.Name, loc.Coords.Lat, loc.Coords.Lng, loc.UpdatedAt)
	if err != nil {
		return loc, err
	}
	if err := o.store.DeleteLocation(ctx, loc.ID); err != nil {
		return loc, err
	}
	loc.ID = strconv.FormatInt(id, 10)
	loc.NeedsCreation = false
	if err := o.store.SaveLocation(ctx, loc); err != nil {
		return loc, err
	}
	o.logger.Info("offline station created on server",
		zap.String("name", loc.Name),
		zap.String("station", loc.ID))
	return loc, nil
}

func (o *Orchestrator) flushPhotoUploads(ctx context.Context, cc *cloud.Client, loc *models.Location) error {
	stationID, err := strconv.ParseInt(loc.ID, 10, 64)
	if err != nil {
		return fmt.Errorf("location %s: bad id: %w", loc.ID, err)
	}
	var remaining []string
	for i, path := range loc.UploadImages {
		key, err := cc.UploadReferencePhoto(ctx, stationID, path)
		if err != nil {
			remaining = append(remaining, path)
			if errors.Is(err, cloud.ErrUnauthorized) {
				loc.UploadImages = append(remaining, loc.UploadImages[i+1:]...)
				if uerr := o.store.UpdateLocation(ctx, *loc); uerr != nil {
					o.logger.Warn("saving photo upload queue failed",
						zap.String("location", loc.ID),
						zap.Error(uerr))
				}
				return err
			}
			o.logger.Warn("reference photo upload deferred",
				zap.String("location", loc.ID),
				zap.Error(err))
			continue
		}
		loc.ReferenceImages = append(loc.ReferenceImages, key)
	}
	loc.UploadImages = remaining
	return o.store.UpdateLocation(ctx, *loc)
}

func (o *Orchestrator) flushPhotoDeletes(ctx context.Context, cc *cloud.Client, loc *models.Location) error {
	stationID, err := strconv.ParseInt(loc.ID, 10, 64)
	if err != nil {
		return fmt.Errorf("location %s: bad id: %w", loc.ID, err)
	}
	var remaining []string
	for i, key := range loc.DeleteImages {
		deleted, err := cc.DeleteReferencePhoto(ctx, stationID, key)
		if err != nil {
			remaining = append(remaining, key)
			if errors.Is(err, cloud.ErrUnauthorized) {
				loc.DeleteImages = append(remaining, loc.DeleteImages[i+1:]...)
				if uerr := o.store.UpdateLocation(ctx, *loc); uerr != nil {
					o.logger.Warn("saving photo delete queue failed",
						zap.String("location", loc.ID),
						zap.Error(uerr))
				}
				return err
			}
			continue
		}
		if !deleted {
			remaining = append(remaining, key)
			continue
		}
		loc.ReferenceImages = removeString(loc.ReferenceImages, key)
	}
	loc.DeleteImages = remaining
	return o.store.UpdateLocation(ctx, *loc)
}

func removeString(list []string, s string) []string {
	out := list[:0]
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}
