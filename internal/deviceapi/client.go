// Package deviceapi is the HTTP façade for one device's local
// management API. Every method issues a single request against the
// device URL, validates the JSON body into a typed struct, and returns
// an explicit error; nothing panics past this boundary.
//
// Devices ship a fixed shared-secret basic-auth credential; this is a
// device-class secret, not a per-user one.
package deviceapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Static device credential (admin:feathers), shared by all firmware.
const authHeader = "Basic YWRtaW46ZmVhdGhlcnM="

// ErrParse marks a response that arrived but failed schema validation.
// Parse failures are permanent for the item in question; callers skip
// rather than retry.
var ErrParse = errors.New("device response failed validation")

// Factory builds a session client for a device URL. Injected into the
// discovery coordinator and sync orchestrator so tests can substitute
// doubles.
type Factory func(baseURL string) *Client

// NewFactory returns a Factory with a shared timeout and logger.
func NewFactory(timeout time.Duration, logger *zap.Logger) Factory {
	return func(baseURL string) *Client {
		return NewClient(baseURL, timeout, logger)
	}
}

// Client is a session client scoped to one device base URL.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

// NewClient creates a client for the device reachable at baseURL.
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DisableKeepAlives: true,
			},
		},
		logger: logger,
	}
}

// URL returns the device base URL this client is bound to.
func (c *Client) URL() string {
	return c.baseURL
}

// DeviceInfo is the identity payload served by /api/device-info.
type DeviceInfo struct {
	ServerURL  string `json:"serverURL"`
	GroupName  string `json:"groupname"`
	DeviceName string `json:"devicename"`
	DeviceID   int    `json:"deviceID"`
	SaltID     string `json:"saltID,omitempty"`
	Type       string `json:"type,omitempty"`
}

// IsProd reports whether the device targets the production backend.
func (i DeviceInfo) IsProd() bool {
	return !strings.Contains(i.ServerURL, "test")
}

// Info fetches and validates the device identity.
func (c *Client) Info(ctx context.Context) (*DeviceInfo, error) {
	var info DeviceInfo
	if err := c.getJSON(ctx, "/api/device-info", &info); err != nil {
		return nil, err
	}
	if info.DeviceID == 0 || info.DeviceName == "" {
		return nil, fmt.Errorf("%w: device-info missing id or name", ErrParse)
	}
	if info.Type == "" {
		info.Type = "pi"
	}
	return &info, nil
}

// RecordingWindows is the subset of device config the app uses.
type RecordingWindows struct {
	StartRecording string `json:"StartRecording"`
	StopRecording  string `json:"StopRecording"`
	PowerOn        string `json:"PowerOn"`
	PowerOff       string `json:"PowerOff"`
}

// Config is the device configuration: firmware defaults plus any
// explicitly set values (values may be partial).
type Config struct {
	Defaults struct {
		Windows RecordingWindows `json:"windows"`
	} `json:"defaults"`
	Values struct {
		Windows *RecordingWindows `json:"windows,omitempty"`
	} `json:"values"`
}

// GetConfig fetches the device configuration.
func (c *Client) GetConfig(ctx context.Context) (*Config, error) {
	var cfg Config
	if err := c.getJSON(ctx, "/api/config", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Coordinates is the device's last-set location.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Altitude  float64 `json:"altitude"`
	Accuracy  float64 `json:"accuracy"`
	Timestamp string  `json:"timestamp"`
}

// Location fetches the device's stored location.
func (c *Client) Location(ctx context.Context) (*Coordinates, error) {
	var loc Coordinates
	if err := c.getJSON(ctx, "/api/location", &loc); err != nil {
		return nil, err
	}
	return &loc, nil
}

// SetLocation pushes a new location to the device. The device accepts
// form-encoded string fields; accuracy is rounded to a whole metre.
func (c *Client) SetLocation(ctx context.Context, loc Coordinates) error {
	form := url.Values{
		"latitude":  {strconv.FormatFloat(loc.Latitude, 'f', -1, 64)},
		"longitude": {strconv.FormatFloat(loc.Longitude, 'f', -1, 64)},
		"altitude":  {strconv.FormatFloat(loc.Altitude, 'f', -1, 64)},
		"accuracy":  {strconv.Itoa(int(loc.Accuracy + 0.5))},
		"timestamp": {loc.Timestamp},
	}
	return c.postForm(ctx, "/api/location", form)
}

// Recordings lists the recording filenames currently on the device.
func (c *Client) Recordings(ctx context.Context) ([]string, error) {
	var names []string
	if err := c.getJSON(ctx, "/api/recordings", &names); err != nil {
		return nil, err
	}
	// Firmware occasionally reports null entries for in-flight files.
	out := names[:0]
	for _, n := range names {
		if n != "" {
			out = append(out, n)
		}
	}
	return out, nil
}

// DownloadRecording streams the named recording into w, returning the
// number of bytes written. The body is never buffered whole in memory.
func (c *Client) DownloadRecording(ctx context.Context, name string, w io.Writer) (int64, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/recording/"+url.PathEscape(name), nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("download %s: %w", name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("download %s: status %d", name, resp.StatusCode)
	}
	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("download %s: %w", name, err)
	}
	return n, nil
}

// DeleteRecording removes the named recording from the device.
func (c *Client) DeleteRecording(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, "/api/recording/"+url.PathEscape(name), nil)
}

// EventKeys lists the device-assigned event ids present on the device.
func (c *Client) EventKeys(ctx context.Context) ([]int, error) {
	var keys []int
	if err := c.getJSON(ctx, "/api/event-keys", &keys); err != nil {
		return nil, err
	}
	return keys, nil
}

// DeviceEvent is one event fetched from the device, keyed by the
// device-assigned id.
type DeviceEvent struct {
	Key       int
	Type      string
	Timestamp string
	Details   json.RawMessage
}

type rawEvent struct {
	Event struct {
		Type      string          `json:"Type"`
		Timestamp string          `json:"Timestamp"`
		Details   json.RawMessage `json:"Details"`
	} `json:"event"`
	Success bool `json:"success"`
}

// Events fetches the given event keys. Keys the device fails to serve
// are omitted from the result rather than failing the batch.
func (c *Client) Events(ctx context.Context, keys []int) ([]DeviceEvent, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	q := url.Values{"keys": {encodeKeys(keys)}}
	req, err := c.newRequest(ctx, http.MethodGet, "/api/events?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	var raw map[string]rawEvent
	if err := c.doJSON(req, &raw); err != nil {
		return nil, err
	}

	events := make([]DeviceEvent, 0, len(raw))
	for key, re := range raw {
		if !re.Success {
			continue
		}
		k, err := strconv.Atoi(key)
		if err != nil {
			c.logger.Warn("skipping event with non-numeric key", zap.String("key", key))
			continue
		}
		events = append(events, DeviceEvent{
			Key:       k,
			Type:      re.Event.Type,
			Timestamp: re.Event.Timestamp,
			Details:   re.Event.Details,
		})
	}
	return events, nil
}

// DeleteEvents removes the given event keys from the device.
func (c *Client) DeleteEvents(ctx context.Context, keys []int) error {
	if len(keys) == 0 {
		return nil
	}
	q := url.Values{"keys": {encodeKeys(keys)}}
	return c.do(ctx, http.MethodDelete, "/api/events?"+q.Encode(), nil)
}

// Reregister moves the device into another group under a new name.
func (c *Client) Reregister(ctx context.Context, group, name string) error {
	form := url.Values{"group": {group}, "name": {name}}
	return c.postForm(ctx, "/api/reregister", form)
}

// SetRecordingWindow updates the device's recording window.
func (c *Client) SetRecordingWindow(ctx context.Context, on, off string) error {
	form := url.Values{"start-recording": {on}, "stop-recording": {off}}
	return c.postForm(ctx, "/api/recording-window", form)
}

// encodeKeys renders keys as the JSON array string the firmware expects.
func encodeKeys(keys []int) string {
	b, _ := json.Marshal(keys)
	return string(b)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request %s %s: %w", method, path, err)
	}
	req.Header.Set("Authorization", authHeader)
	return req, nil
}

// do issues a request and checks only for a 2xx status.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body) //nolint:errcheck // drain for connection reuse
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}
	return nil
}

func (c *Client) postForm(ctx context.Context, path string, form url.Values) error {
	req, err := c.newRequest(ctx, http.MethodPost, path, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("POST %s: %w", path, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body) //nolint:errcheck
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("POST %s: status %d", path, resp.StatusCode)
	}
	return nil
}

// getJSON issues a GET and decodes the body into target, wrapping
// decode failures with ErrParse.
func (c *Client) getJSON(ctx context.Context, path string, target any) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	return c.doJSON(req, target)
}

func (c *Client) doJSON(req *http.Request, target any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s %s: status %d", req.Method, req.URL.Path, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("%s %s: read body: %w", req.Method, req.URL.Path, err)
	}
	if err := json.Unmarshal(body, target); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrParse, req.URL.Path, err)
	}
	return nil
}
