package inventory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const UserAgent = "netavail/1.0"

// HTTPClient talks to a REST device inventory:
//
//	GET {base}/devices       -> {"devices":[{"id","name","connected"}]}
//	GET {base}/devices/{id}  -> {"id","connected"}
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

type wireDevice struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Address   string `json:"address"`
	Connected *bool  `json:"connected"`
}

type wireDeviceList struct {
	Devices []wireDevice `json:"devices"`
}

func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) ListDevices(ctx context.Context, cred Credential) ([]Device, error) {
	var list wireDeviceList
	if err := c.get(ctx, cred, "/devices", &list); err != nil {
		return nil, err
	}

	devices := make([]Device, 0, len(list.Devices))
	for _, wd := range list.Devices {
		device := Device{ID: wd.ID, Name: wd.Name, Address: wd.Address}
		if wd.Connected == nil {
			device.Err = fmt.Errorf("device %s: connectivity not reported", wd.ID)
		} else {
			device.Connected = *wd.Connected
		}
		devices = append(devices, device)
	}
	return devices, nil
}

func (c *HTTPClient) GetDevice(ctx context.Context, cred Credential, id string) (*Device, error) {
	var wd wireDevice
	if err := c.get(ctx, cred, "/devices/"+url.PathEscape(id), &wd); err != nil {
		return nil, err
	}
	if wd.Connected == nil {
		return nil, fmt.Errorf("device %s: connectivity not reported", id)
	}
	if wd.ID == "" {
		wd.ID = id
	}
	return &Device{ID: wd.ID, Name: wd.Name, Address: wd.Address, Connected: *wd.Connected}, nil
}

func (c *HTTPClient) get(ctx context.Context, cred Credential, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+cred.Token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s: %w", path, ErrDeviceNotFound)
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: credential rejected (%d)", ErrUpstreamUnavailable, resp.StatusCode)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: server error (%d)", ErrUpstreamUnavailable, resp.StatusCode)
	default:
		return fmt.Errorf("unexpected inventory response %d for %s", resp.StatusCode, path)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode inventory response: %w", err)
	}
	return nil
}
