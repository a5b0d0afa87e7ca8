package syncclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/driverhelper/internal/syncqueue"
	"go.uber.org/zap"
)

const maxResponseBytes = 1 << 20

var (
	// ErrSyncTransport marks failures to reach the endpoint at all.
	ErrSyncTransport = errors.New("sync transport error")
	// ErrSyncRemoteRejected marks non-success responses and unreadable bodies.
	ErrSyncRemoteRejected = errors.New("sync rejected by remote")

	errMissingEndpoint = errors.New("sync endpoint is required")
)

// TransportError wraps a network-level failure.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("sync transport error: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Is(target error) bool {
	return target == ErrSyncTransport
}

// StatusError reports a non-success HTTP status from the endpoint.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("sync failed with status %d", e.StatusCode)
	}
	return fmt.Sprintf("sync failed with status %d: %s", e.StatusCode, e.Message)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrSyncRemoteRejected
}

// Acknowledgment is the remote's answer to one batch.
type Acknowledgment struct {
	IDs []string
	// Listed is false when the response carried no syncedIds field at all.
	Listed bool
}

type batchRequest struct {
	Items []syncqueue.Item `json:"items"`
}

type batchResponse struct {
	SyncedIDs *[]string `json:"syncedIds"`
	Error     string    `json:"error"`
}

// Config configures the HTTP sync client.
type Config struct {
	Endpoint   string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client posts queue batches to a remote sync endpoint.
type Client struct {
	mu         sync.RWMutex
	endpoint   string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
}

// New constructs a Client. A zero Timeout leaves the transport's own limits in place.
func New(cfg Config) (*Client, error) {
	if err := validateEndpoint(cfg.Endpoint); err != nil {
		return nil, err
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		endpoint:   strings.TrimSpace(cfg.Endpoint),
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// Reconfigure swaps the endpoint and credential used by subsequent pushes.
func (c *Client) Reconfigure(endpoint, apiKey string) error {
	if err := validateEndpoint(endpoint); err != nil {
		return err
	}
	c.mu.Lock()
	c.endpoint = strings.TrimSpace(endpoint)
	c.apiKey = apiKey
	c.mu.Unlock()
	return nil
}

// Endpoint returns the currently configured endpoint.
func (c *Client) Endpoint() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.endpoint
}

// Push transmits items as one batch, preserving their order.
func (c *Client) Push(ctx context.Context, items []syncqueue.Item) (Acknowledgment, error) {
	c.mu.RLock()
	endpoint, apiKey := c.endpoint, c.apiKey
	c.mu.RUnlock()

	if items == nil {
		items = []syncqueue.Item{}
	}
	body, err := json.Marshal(batchRequest{Items: items})
	if err != nil {
		return Acknowledgment{}, err
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Acknowledgment{}, &TransportError{Err: err}
	}
	request.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		request.Header.Set("Authorization", "Bearer "+apiKey)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		c.logger.Warn("sync request failed", zap.String("endpoint", endpoint), zap.Error(err))
		return Acknowledgment{}, &TransportError{Err: err}
	}
	defer response.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBytes))
	if err != nil {
		return Acknowledgment{}, &TransportError{Err: err}
	}

	if response.StatusCode < 200 || response.StatusCode > 299 {
		var decoded batchResponse
		_ = json.Unmarshal(raw, &decoded)
		c.logger.Warn("sync endpoint rejected batch",
			zap.String("endpoint", endpoint),
			zap.Int("status", response.StatusCode),
			zap.Int("items", len(items)))
		return Acknowledgment{}, &StatusError{StatusCode: response.StatusCode, Message: decoded.Error}
	}

	if len(bytes.TrimSpace(raw)) == 0 {
		return Acknowledgment{Listed: false}, nil
	}
	var decoded batchResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return Acknowledgment{}, fmt.Errorf("%w: malformed response: %v", ErrSyncRemoteRejected, err)
	}
	// "syncedIds": [] is Listed with no ids, which is not the same as omitting it.
	if decoded.SyncedIDs == nil {
		return Acknowledgment{Listed: false}, nil
	}
	return Acknowledgment{IDs: *decoded.SyncedIDs, Listed: true}, nil
}

func validateEndpoint(endpoint string) error {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return errMissingEndpoint
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return fmt.Errorf("invalid sync endpoint: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("invalid sync endpoint scheme %q", parsed.Scheme)
	}
	return nil
}
