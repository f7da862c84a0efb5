package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const clientTimeout = 5 * time.Second

// DiscoveryMessage mirrors the discovery collaborator's endpoint payload.
type DiscoveryMessage struct {
	ContainerID string         `json:"container_id"`
	Image       string         `json:"image"`
	Name        string         `json:"name,omitempty"`
	Host        string         `json:"host"`
	Ports       map[string]int `json:"ports,omitempty"`
	Status      string         `json:"status,omitempty"`
	Event       string         `json:"event,omitempty"`
}

// BillingEvent is one usage event for the billing collaborator.
type BillingEvent struct {
	Image       string    `json:"image"`
	ContainerID string    `json:"container_id"`
	EventType   string    `json:"event_type"`
	Timestamp   time.Time `json:"timestamp"`
	Host        string    `json:"host"`
}

// DiscoveryClient talks to the service-discovery collaborator. A nil
// client is valid and silently does nothing (discovery unset).
type DiscoveryClient struct {
	base string
	hc   *http.Client
}

// NewDiscoveryClient returns a client for baseURL, or nil when baseURL is
// empty.
func NewDiscoveryClient(baseURL string) *DiscoveryClient {
	if baseURL == "" {
		return nil
	}
	return &DiscoveryClient{base: baseURL, hc: &http.Client{Timeout: clientTimeout}}
}

// RegisterEndpoint registers or refreshes a container endpoint.
func (c *DiscoveryClient) RegisterEndpoint(ctx context.Context, msg DiscoveryMessage) error {
	if c == nil {
		return nil
	}
	return postJSON(ctx, c.hc, c.base+"/registry/endpoints", msg)
}

// SetStatus marks an endpoint UP or DOWN.
func (c *DiscoveryClient) SetStatus(ctx context.Context, containerID, status string) error {
	if c == nil {
		return nil
	}
	u := fmt.Sprintf("%s/registry/endpoints/%s/status", c.base, url.PathEscape(containerID))
	return putJSON(ctx, c.hc, u, map[string]string{"status": status})
}

// DeleteEndpoint removes an endpoint after its container is gone.
func (c *DiscoveryClient) DeleteEndpoint(ctx context.Context, containerID string) error {
	if c == nil {
		return nil
	}
	u := fmt.Sprintf("%s/registry/endpoints/%s", c.base, url.PathEscape(containerID))
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, u, nil)
	if err != nil {
		return err
	}
	return do(c.hc, req)
}

// BillingClient reports container usage events. A nil client is valid and
// silently does nothing.
type BillingClient struct {
	base string
	hc   *http.Client
}

// NewBillingClient returns a client for baseURL, or nil when baseURL is
// empty.
func NewBillingClient(baseURL string) *BillingClient {
	if baseURL == "" {
		return nil
	}
	return &BillingClient{base: baseURL, hc: &http.Client{Timeout: clientTimeout}}
}

// AppendEvent records one started/stopped/removed event.
func (c *BillingClient) AppendEvent(ctx context.Context, ev BillingEvent) error {
	if c == nil {
		return nil
	}
	return postJSON(ctx, c.hc, c.base+"/billing/events", ev)
}

func postJSON(ctx context.Context, hc *http.Client, url string, body any) error {
	return sendJSON(ctx, hc, http.MethodPost, url, body)
}

func putJSON(ctx context.Context, hc *http.Client, url string, body any) error {
	return sendJSON(ctx, hc, http.MethodPut, url, body)
}

func sendJSON(ctx context.Context, hc *http.Client, method, url string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return do(hc, req)
}

func do(hc *http.Client, req *http.Request) error {
	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: status %d", req.Method, req.URL.Path, resp.StatusCode)
	}
	return nil
}
