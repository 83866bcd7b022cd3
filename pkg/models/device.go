package models

import "time"

// DeviceID is the stable identifier a device reports about itself.
// It is not the network endpoint: the same device may reappear at a
// different host/URL across sessions.
type DeviceID string

// DeviceType categorizes the hardware variant. The variant decides
// which device APIs are valid (e.g. modem routes exist only on tc2).
type DeviceType string

const (
	DeviceTypePi  DeviceType = "pi"
	DeviceTypeTC2 DeviceType = "tc2"
)

// Device represents a physical recording unit known to the registry.
type Device struct {
	ID     DeviceID `json:"id"`
	SaltID string   `json:"salt_id,omitempty"`
	Name   string   `json:"name"`
	Group  string   `json:"group"`

	// Network-discovery identifiers. These may change between sessions.
	Host     string `json:"host"`
	Endpoint string `json:"endpoint"`
	URL      string `json:"url"`

	Type      DeviceType `json:"type"`
	IsProd    bool       `json:"is_prod"`
	TimeFound time.Time  `json:"time_found"`

	// Connected discriminates a live session (URL answers probes) from
	// a known-but-unreachable device. Data downloaded from a device
	// outlives the session: a disconnected device may still have
	// unsynced rows in local storage.
	Connected bool `json:"connected"`

	// LocationSet records that a location push succeeded this session.
	// It is never persisted; reconnecting resets it because the device
	// gives no receipt guarantee across network interruptions.
	LocationSet bool `json:"location_set"`
}
