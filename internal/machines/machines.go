// Package machines holds the HTTP clients for the two machine-inventory
// collaborators the authorization rules consult: the physical-server
// inventory and the VM metadata service.
package machines

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// ErrNotFound distinguishes a clean "no such machine" from a lookup
// failure. Any other error from these clients is a fatal internal error,
// never an authorization denial.
var ErrNotFound = fmt.Errorf("machine not found")

// VM is the slice of VM metadata authorization needs.
type VM struct {
	UUID       string `json:"uuid"`
	OwnerUUID  string `json:"owner_uuid"`
	ServerUUID string `json:"server_uuid"`
}

// Config holds the collaborator endpoints.
type Config struct {
	InventoryURL  string
	VMMetadataURL string
}

// Client talks to both collaborators.
type Client struct {
	httpClient    *http.Client
	inventoryURL  string
	vmMetadataURL string
	logger        *zap.Logger
}

// New creates a machines client.
func New(cfg Config, logger *zap.Logger) *Client {
	return &Client{
		httpClient:    &http.Client{Timeout: 10 * time.Second},
		inventoryURL:  cfg.InventoryURL,
		vmMetadataURL: cfg.VMMetadataURL,
		logger:        logger,
	}
}

// ServerExists reports whether uuid names a physical server in the
// inventory.
func (c *Client) ServerExists(ctx context.Context, uuid string) (bool, error) {
	url := fmt.Sprintf("%s/servers/%s", c.inventoryURL, uuid)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, fmt.Errorf("inventory request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("inventory lookup %s: %w", uuid, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("inventory lookup %s: status %d", uuid, resp.StatusCode)
	}
}

// GetVM fetches VM metadata by uuid. Returns ErrNotFound when the VM does
// not exist.
func (c *Client) GetVM(ctx context.Context, uuid string) (*VM, error) {
	url := fmt.Sprintf("%s/vms/%s", c.vmMetadataURL, uuid)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("vm metadata request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("vm lookup %s: %w", uuid, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var vm VM
		if err := json.NewDecoder(resp.Body).Decode(&vm); err != nil {
			return nil, fmt.Errorf("vm lookup %s: decode: %w", uuid, err)
		}
		return &vm, nil
	case http.StatusNotFound:
		return nil, ErrNotFound
	default:
		return nil, fmt.Errorf("vm lookup %s: status %d", uuid, resp.StatusCode)
	}
}
