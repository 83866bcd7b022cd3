// Package cloud is the client for the Cacophony API server. One Client
// is bound to a single backend (production or test) and carries the
// bearer token for the signed-in user; callers needing both scopes hold
// two clients.
package cloud

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// Default backend URLs. The test backend is recognised anywhere by the
// substring "test" in its URL.
const (
	ProdURL = "https://api.cacophony.org.nz/api/v1"
	TestURL = "https://api-test.cacophony.org.nz/api/v1"
)

// ErrUnauthorized marks a request the server rejected for credential
// reasons (401 or 403). Upload loops short-circuit on it rather than
// hammering the server with doomed requests.
var ErrUnauthorized = errors.New("cloud credentials rejected")

// Client talks to one Cacophony API backend.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger

	mu           sync.Mutex
	token        string
	refreshToken string
	userID       int
	email        string
}

// NewClient creates a client for the backend at baseURL.
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// BaseURL returns the backend URL this client is bound to.
func (c *Client) BaseURL() string { return c.baseURL }

// IsProd reports whether this client targets the production backend.
func (c *Client) IsProd() bool { return !strings.Contains(c.baseURL, "test") }

type userData struct {
	ID    int    `json:"id"`
	Email string `json:"email"`
}

type authResponse struct {
	Token        string   `json:"token"`
	RefreshToken string   `json:"refreshToken"`
	UserData     userData `json:"userData"`
	Success      bool     `json:"success"`
}

// Authenticate signs in and stores the session tokens on the client.
func (c *Client) Authenticate(ctx context.Context, email, password string) error {
	var res authResponse
	body := map[string]string{"email": email, "password": password}
	if err := c.postJSON(ctx, "/users/authenticate", body, &res); err != nil {
		return err
	}
	c.mu.Lock()
	c.token = res.Token
	c.refreshToken = res.RefreshToken
	c.userID = res.UserData.ID
	c.email = res.UserData.Email
	c.mu.Unlock()
	return nil
}

// RefreshSession exchanges the stored refresh token for a fresh access
// token.
func (c *Client) RefreshSession(ctx context.Context) error {
	c.mu.Lock()
	refresh := c.refreshToken
	c.mu.Unlock()
	if refresh == "" {
		return fmt.Errorf("refresh session: %w: no session", ErrUnauthorized)
	}
	var res authResponse
	body := map[string]string{"refreshToken": refresh}
	if err := c.postJSON(ctx, "/users/refresh-session-token", body, &res); err != nil {
		return err
	}
	c.mu.Lock()
	c.token = res.Token
	if res.RefreshToken != "" {
		c.refreshToken = res.RefreshToken
	}
	c.mu.Unlock()
	return nil
}

// SetSession restores tokens persisted from a previous run.
func (c *Client) SetSession(token, refreshToken string) {
	c.mu.Lock()
	c.token = token
	c.refreshToken = refreshToken
	c.mu.Unlock()
}

// Token returns the current access token, empty if not signed in.
func (c *Client) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// UserID returns the signed-in user's id, zero if not signed in.
func (c *Client) UserID() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// TokenValid reports whether the stored access token exists and is not
// within 30 seconds of its expiry.
func (c *Client) TokenValid() bool {
	return tokenFresh(c.Token(), time.Now())
}

// EnsureSession refreshes the access token if it is missing or about to
// expire.
func (c *Client) EnsureSession(ctx context.Context) error {
	if c.TokenValid() {
		return nil
	}
	return c.RefreshSession(ctx)
}

// tokenFresh checks the exp claim without verifying the signature; the
// server is the authority, this only avoids sending requests that are
// certain to bounce. Tokens arrive with a "JWT " prefix.
func tokenFresh(token string, now time.Time) bool {
	raw := strings.TrimPrefix(token, "JWT ")
	if raw == "" {
		return false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return exp.After(now.Add(30 * time.Second))
}

// RecordingType is the server-side classification of an upload.
type RecordingType string

const (
	TypeThermalRaw RecordingType = "thermalRaw"
	TypeAudio      RecordingType = "audio"
)

// RecordingTypeForName maps a recording filename to its upload type.
func RecordingTypeForName(name string) RecordingType {
	if strings.EqualFold(filepath.Ext(name), ".cptv") {
		return TypeThermalRaw
	}
	return TypeAudio
}

// UploadResponse is the server's answer to a recording upload.
type UploadResponse struct {
	RecordingID int64    `json:"recordingId"`
	Messages    []string `json:"messages"`
	Success     bool     `json:"success"`
}

// UploadRecording uploads the recording file at path on behalf of the
// named device. The file is hashed first so the server can reject
// truncated uploads, then streamed; it is never held in memory whole.
func (c *Client) UploadRecording(ctx context.Context, deviceID, path string) (*UploadResponse, error) {
	hash, err := fileSHA1(path)
	if err != nil {
		return nil, fmt.Errorf("upload recording: %w", err)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("upload recording: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(map[string]string{
		"type":     string(RecordingTypeForName(path)),
		"fileHash": hash,
	})
	if err != nil {
		return nil, fmt.Errorf("upload recording: %w", err)
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		err := func() error {
			if err := mw.WriteField("data", string(data)); err != nil {
				return err
			}
			part, err := mw.CreateFormFile("file", filepath.Base(path))
			if err != nil {
				return err
			}
			if _, err := io.Copy(part, f); err != nil {
				return err
			}
			return mw.Close()
		}()
		pw.CloseWithError(err)
	}()

	endpoint := "/recordings/device/" + url.PathEscape(deviceID)
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, pr)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var res UploadResponse
	if err := c.doJSON(req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

type eventDescription struct {
	Type    string          `json:"type"`
	Details json.RawMessage `json:"details,omitempty"`
}

type uploadEventBody struct {
	DateTimes   []string         `json:"dateTimes"`
	Description eventDescription `json:"description"`
}

// UploadEvent reports a device event (or a batch sharing one type and
// detail payload) at the given timestamps.
func (c *Client) UploadEvent(ctx context.Context, deviceID, eventType string, details json.RawMessage, timestamps []string) error {
	body := uploadEventBody{
		DateTimes:   timestamps,
		Description: eventDescription{Type: eventType, Details: details},
	}
	return c.postJSON(ctx, "/events/device/"+url.PathEscape(deviceID), body, nil)
}

func fileSHA1(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha1.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request %s %s: %w", method, path, err)
	}
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", token)
	}
	return req, nil
}

func (c *Client) postJSON(ctx context.Context, path string, body, target any) error {
	return c.sendJSON(ctx, http.MethodPost, path, body, target)
}

func (c *Client) patchJSON(ctx context.Context, path string, body, target any) error {
	return c.sendJSON(ctx, http.MethodPatch, path, body, target)
}

func (c *Client) sendJSON(ctx context.Context, method, path string, body, target any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%s %s: encode body: %w", method, path, err)
	}
	req, err := c.newRequest(ctx, method, path, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.doJSON(req, target)
}

func (c *Client) getJSON(ctx context.Context, path string, target any) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	return c.doJSON(req, target)
}

// doJSON issues the request, maps credential rejections to
// ErrUnauthorized, and decodes the body into target when given.
func (c *Client) doJSON(req *http.Request, target any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("%s %s: read body: %w", req.Method, req.URL.Path, err)
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, ErrUnauthorized)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("%s %s: status %d: %s", req.Method, req.URL.Path, resp.StatusCode, firstLine(body))
	}
	if target == nil {
		return nil
	}
	if err := json.Unmarshal(body, target); err != nil {
		return fmt.Errorf("%s %s: decode body: %w", req.Method, req.URL.Path, err)
	}
	return nil
}

// firstLine trims a response body down to something loggable.
func firstLine(b []byte) string {
	s := strings.TrimSpace(string(b))
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
