package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Station is a named site a group records at. The server tracks which
// reference photos are attached via settings.
type Station struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	GroupName string `json:"groupName"`
	Location  struct {
		Lat float64 `json:"lat"`
		Lng float64 `json:"lng"`
	} `json:"location"`
	UpdatedAt time.Time        `json:"updatedAt"`
	Settings  *StationSettings `json:"settings,omitempty"`
}

// StationSettings is the subset of station settings the app uses.
type StationSettings struct {
	ReferenceImages []string `json:"referenceImages,omitempty"`
}

// ReferenceImages returns the station's reference photo keys, nil-safe.
func (s Station) ReferenceImages() []string {
	if s.Settings == nil {
		return nil
	}
	return s.Settings.ReferenceImages
}

// ListStations returns the stations visible to the signed-in user.
func (c *Client) ListStations(ctx context.Context) ([]Station, error) {
	var res struct {
		Stations []Station `json:"stations"`
		Success  bool      `json:"success"`
	}
	if err := c.getJSON(ctx, "/stations", &res); err != nil {
		return nil, err
	}
	return res.Stations, nil
}

// RenameStation changes a station's name. The server takes the update
// set as a JSON string inside the patch body.
func (c *Client) RenameStation(ctx context.Context, id int64, name string) error {
	updates, err := json.Marshal(map[string]string{"name": name})
	if err != nil {
		return fmt.Errorf("rename station: %w", err)
	}
	body := map[string]string{"station-updates": string(updates)}
	return c.patchJSON(ctx, "/stations/"+strconv.FormatInt(id, 10), body, nil)
}

type createStationBody struct {
	Station struct {
		Name string  `json:"name"`
		Lat  float64 `json:"lat"`
		Lng  float64 `json:"lng"`
	} `json:"station"`
}

// CreateStation registers a new station in the group, active from
// fromDate, and returns its server-assigned id.
func (c *Client) CreateStation(ctx context.Context, groupName, name string, lat, lng float64, fromDate time.Time) (int64, error) {
	var body createStationBody
	body.Station.Name = name
	body.Station.Lat = lat
	body.Station.Lng = lng

	q := url.Values{
		"from-date": {fromDate.UTC().Format(time.RFC3339)},
		"automatic": {"true"},
	}
	path := "/groups/" + url.PathEscape(groupName) + "/station?" + q.Encode()

	var res struct {
		StationID int64 `json:"stationId"`
		Success   bool  `json:"success"`
	}
	if err := c.postJSON(ctx, path, body, &res); err != nil {
		return 0, err
	}
	return res.StationID, nil
}

// UploadReferencePhoto attaches the image at path to the station and
// returns the server-assigned file key.
func (c *Client) UploadReferencePhoto(ctx context.Context, stationID int64, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("upload reference photo: %w", err)
	}
	defer f.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		err := func() error {
			if err := mw.WriteField("data", "{}"); err != nil {
				return err
			}
			hdr := textproto.MIMEHeader{}
			hdr.Set("Content-Disposition", `form-data; name="file"; filename="blob"`)
			hdr.Set("Content-Type", "image/jpeg")
			part, err := mw.CreatePart(hdr)
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

	endpoint := "/stations/" + strconv.FormatInt(stationID, 10) + "/reference-photo"
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, pr)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var res struct {
		FileKey string `json:"fileKey"`
		Success bool   `json:"success"`
	}
	if err := c.doJSON(req, &res); err != nil {
		return "", err
	}
	return res.FileKey, nil
}

// DeleteReferencePhoto removes a reference photo from the station.
// Returns true when the server confirmed the delete; false with a nil
// error means the caller should keep the delete queued and retry later.
func (c *Client) DeleteReferencePhoto(ctx context.Context, stationID int64, fileKey string) (bool, error) {
	key := strings.ReplaceAll(fileKey, "/", "_")
	endpoint := "/stations/" + strconv.FormatInt(stationID, 10) + "/reference-photo/" + url.PathEscape(key)
	req, err := c.newRequest(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return false, err
	}
	var res struct {
		Success bool `json:"success"`
	}
	if err := c.doJSON(req, &res); err != nil {
		if errors.Is(err, ErrUnauthorized) {
			return false, err
		}
		c.logger.Warn("reference photo delete deferred",
			zap.Int64("station", stationID),
			zap.Error(err))
		return false, nil
	}
	return true, nil
}
