package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/fleetcam/console/internal/camstate"
)

// API is the surface of the external tracker service the console
// depends on. Satisfied by *Client; mocked in tests.
type API interface {
	ListCameras(ctx context.Context) ([]camstate.Camera, error)
	Status(ctx context.Context) (camstate.TrackerStatus, error)
	Settings(ctx context.Context) (map[string]any, error)
	StartTracker(ctx context.Context) error
	StopTracker(ctx context.Context) error
	StartCamera(ctx context.Context, id int) error
	StopCamera(ctx context.Context, id int) error
}

// Client talks to the tracker service's REST API.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
}

// ListCameras fetches the camera descriptors from the config service.
func (c *Client) ListCameras(ctx context.Context) ([]camstate.Camera, error) {
	var cams []camstate.Camera
	if err := c.getJSON(ctx, "/api/v1/cameras/configs", &cams); err != nil {
		return nil, fmt.Errorf("list cameras: %w", err)
	}
	return cams, nil
}

// Status fetches the wholesale tracker status payload.
func (c *Client) Status(ctx context.Context) (camstate.TrackerStatus, error) {
	var st camstate.TrackerStatus
	if err := c.getJSON(ctx, "/api/v1/tracker/status", &st); err != nil {
		return camstate.TrackerStatus{}, fmt.Errorf("tracker status: %w", err)
	}
	return st, nil
}

// Settings fetches the opaque settings mapping. Callers treat failure
// as best-effort and substitute an empty map.
func (c *Client) Settings(ctx context.Context) (map[string]any, error) {
	var s map[string]any
	if err := c.getJSON(ctx, "/api/v1/settings", &s); err != nil {
		return nil, fmt.Errorf("settings: %w", err)
	}
	if s == nil {
		s = map[string]any{}
	}
	return s, nil
}

func (c *Client) StartTracker(ctx context.Context) error {
	return c.command(ctx, "tracker.start", "/api/v1/tracker/start")
}

func (c *Client) StopTracker(ctx context.Context) error {
	return c.command(ctx, "tracker.stop", "/api/v1/tracker/stop")
}

func (c *Client) StartCamera(ctx context.Context, id int) error {
	return c.command(ctx, "camera.start", fmt.Sprintf("/api/v1/cameras/%d/start", id))
}

func (c *Client) StopCamera(ctx context.Context, id int) error {
	return c.command(ctx, "camera.stop", fmt.Sprintf("/api/v1/cameras/%d/stop", id))
}

// command POSTs to a command-only endpoint. Success means the command
// was accepted, not that the service has transitioned; convergence is
// confirmed by subsequent status fetches.
func (c *Client) command(ctx context.Context, name, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, nil)
	if err != nil {
		return &CommandError{Command: name, Err: err}
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return &CommandError{Command: name, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &CommandError{Command: name, StatusCode: resp.StatusCode}
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return err
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
