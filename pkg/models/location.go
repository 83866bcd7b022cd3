package models

import (
	"time"

	"github.com/google/uuid"
)

// Coords is a WGS84 position.
type Coords struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Location is a named station: a geo-tagged place a device is presumed
// to be recording at. Recordings are attributed to it by proximity.
//
// A location created while offline carries NeedsCreation until the
// cloud materializes it. UpdateName, UploadImages and DeleteImages are
// pending-sync queues flushed opportunistically whenever connectivity
// and authentication allow.
type Location struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	GroupName string    `json:"group_name"`
	Coords    Coords    `json:"coords"`
	IsProd    bool      `json:"is_prod"`
	UpdatedAt time.Time `json:"updated_at"`

	NeedsCreation bool `json:"needs_creation"`
	UpdateName    bool `json:"update_name"`

	ReferenceImages []string `json:"reference_images,omitempty"`
	UploadImages    []string `json:"upload_images,omitempty"`
	DeleteImages    []string `json:"delete_images,omitempty"`
}

// NewProvisionalLocationID mints an id for a location created offline.
// The row is re-keyed under the server-assigned station id once the
// creation syncs; the prefix keeps provisional ids from ever colliding
// with (numeric) server ids.
func NewProvisionalLocationID() string {
	return "pending-" + uuid.NewString()
}
