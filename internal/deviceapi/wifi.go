package deviceapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// WifiNetwork is one network the device can see. Quality arrives as a
// string of the form "xx/70"; it is normalized to a 0-100 percentage.
type WifiNetwork struct {
	SSID        string
	Quality     int
	SignalLevel string
	IsSecured   bool
}

type rawWifiNetwork struct {
	SSID        string `json:"SSID"`
	Quality     string `json:"Quality"`
	SignalLevel string `json:"Signal Level,omitempty"`
	Security    string `json:"Security,omitempty"`
}

func (r rawWifiNetwork) normalize() WifiNetwork {
	quality := 0
	if q, err := strconv.Atoi(strings.SplitN(r.Quality, "/", 2)[0]); err == nil {
		quality = int(float64(q)/70.0*100.0 + 0.5)
	}
	return WifiNetwork{
		SSID:        r.SSID,
		Quality:     quality,
		SignalLevel: r.SignalLevel,
		IsSecured:   r.Security == "" || r.Security != "Unknown",
	}
}

// WifiNetworks scans for visible networks, de-duplicated by SSID.
func (c *Client) WifiNetworks(ctx context.Context) ([]WifiNetwork, error) {
	var raw []rawWifiNetwork
	if err := c.getJSON(ctx, "/api/network/wifi", &raw); err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	networks := make([]WifiNetwork, 0, len(raw))
	for _, r := range raw {
		if r.SSID == "" || seen[r.SSID] {
			continue
		}
		seen[r.SSID] = true
		networks = append(networks, r.normalize())
	}
	return networks, nil
}

// CurrentWifiNetwork returns the SSID the device is connected to, or
// an error if it has none.
func (c *Client) CurrentWifiNetwork(ctx context.Context) (string, error) {
	var cur struct {
		SSID string `json:"SSID"`
	}
	if err := c.getJSON(ctx, "/api/network/wifi/current", &cur); err != nil {
		return "", err
	}
	return cur.SSID, nil
}

// SavedWifiNetworks lists SSIDs the device has stored credentials for.
// Older firmware returns bare strings, newer returns objects.
func (c *Client) SavedWifiNetworks(ctx context.Context) ([]string, error) {
	var raw []json.RawMessage
	if err := c.getJSON(ctx, "/api/network/wifi/saved", &raw); err != nil {
		return nil, err
	}
	ssids := make([]string, 0, len(raw))
	for _, m := range raw {
		var s string
		if err := json.Unmarshal(m, &s); err == nil {
			ssids = append(ssids, s)
			continue
		}
		var obj struct {
			SSID string `json:"SSID"`
		}
		if err := json.Unmarshal(m, &obj); err == nil && obj.SSID != "" {
			ssids = append(ssids, obj.SSID)
		}
	}
	return ssids, nil
}

// SaveWifiNetwork stores credentials on the device without connecting.
func (c *Client) SaveWifiNetwork(ctx context.Context, ssid, password string) error {
	return c.postWifiJSON(ctx, "/api/network/wifi/save", ssid, password)
}

// ConnectWifi asks the device to join the given network. The device
// drops off its hotspot while switching, so the caller is expected to
// rediscover it afterwards.
func (c *Client) ConnectWifi(ctx context.Context, ssid, password string) error {
	return c.postWifiJSON(ctx, "/api/network/wifi", ssid, password)
}

// DisconnectWifi drops the device's current network.
func (c *Client) DisconnectWifi(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/api/network/wifi/current", nil)
}

// ForgetWifi removes stored credentials for the given SSID.
func (c *Client) ForgetWifi(ctx context.Context, ssid string) error {
	body, _ := json.Marshal(map[string]string{"ssid": ssid})
	req, err := c.newRequest(ctx, http.MethodDelete, "/api/network/wifi/forget", strings.NewReader(string(body)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("forget wifi: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("forget wifi: status %d", resp.StatusCode)
	}
	return nil
}

// Interface is one of the device's network interfaces.
type Interface struct {
	Name       string   `json:"name"`
	Addresses  []string `json:"addresses"`
	MTU        int      `json:"mtu"`
	MACAddress string   `json:"macAddress"`
	Flags      string   `json:"flags"`
}

// Interfaces lists the device's network interfaces.
func (c *Client) Interfaces(ctx context.Context) ([]Interface, error) {
	var ifaces []Interface
	if err := c.getJSON(ctx, "/api/network/interfaces", &ifaces); err != nil {
		return nil, err
	}
	return ifaces, nil
}

// WifiInternetConnected reports whether the device has internet access
// over Wi-Fi.
func (c *Client) WifiInternetConnected(ctx context.Context) (bool, error) {
	var res struct {
		Connected bool `json:"connected"`
	}
	if err := c.getJSON(ctx, "/api/wifi-check", &res); err != nil {
		return false, err
	}
	return res.Connected, nil
}

func (c *Client) postWifiJSON(ctx context.Context, path, ssid, password string) error {
	body, _ := json.Marshal(map[string]string{"ssid": ssid, "password": password})
	req, err := c.newRequest(ctx, http.MethodPost, path, strings.NewReader(string(body)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("POST %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("POST %s: status %d", path, resp.StatusCode)
	}
	return nil
}
