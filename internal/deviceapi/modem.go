package deviceapi

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
)

// ModemStatus is the tc2 modem state. All blocks are optional; older
// firmware omits fields freely.
type ModemStatus struct {
	Modem *struct {
		ConnectedTime string      `json:"connectedTime"`
		Manufacturer  string      `json:"manufacturer"`
		Model         string      `json:"model"`
		Name          string      `json:"name"`
		Netdev        string      `json:"netdev"`
		Serial        string      `json:"serial"`
		Temp          json.Number `json:"temp"`
		Vendor        string      `json:"vendor"`
		Voltage       json.Number `json:"voltage"`
	} `json:"modem,omitempty"`
	OnOffReason string `json:"onOffReason,omitempty"`
	Powered     bool   `json:"powered,omitempty"`
	Signal      *struct {
		AccessTechnology string `json:"accessTechnology"`
		Band             string `json:"band"`
		Provider         string `json:"provider"`
		Strength         string `json:"strength"`
	} `json:"signal,omitempty"`
	SimCard *struct {
		ICCID         string `json:"ICCID"`
		Provider      string `json:"provider"`
		SimCardStatus string `json:"simCardStatus"`
	} `json:"simCard,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// Modem fetches the modem status block. Only valid on tc2 hardware.
func (c *Client) Modem(ctx context.Context) (*ModemStatus, error) {
	var status ModemStatus
	if err := c.getJSON(ctx, "/api/modem", &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// TurnOnModem asks the device to keep its modem powered for the given
// number of minutes. Called periodically to keep the uplink alive while
// the app holds a session.
func (c *Client) TurnOnModem(ctx context.Context, minutes int) error {
	form := url.Values{"minutes": {strconv.Itoa(minutes)}}
	return c.postForm(ctx, "/api/modem", form)
}

// SignalStrength returns the raw signal-strength payload.
func (c *Client) SignalStrength(ctx context.Context) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.getJSON(ctx, "/api/signal-strength", &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// ModemInternetConnected reports whether the device has internet access
// over its modem.
func (c *Client) ModemInternetConnected(ctx context.Context) (bool, error) {
	var res struct {
		Connected bool `json:"connected"`
	}
	if err := c.getJSON(ctx, "/api/modem-check", &res); err != nil {
		return false, err
	}
	return res.Connected, nil
}
