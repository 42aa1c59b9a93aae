package a2a

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/bcgov/nr-ai-form/core"
	"github.com/bcgov/nr-ai-form/logging"
)

// DefaultTimeout bounds every client operation unless overridden.
const DefaultTimeout = 30 * time.Second

const maxErrorBody = 512

// Options configure a Client.
type Options struct {
	// Timeout bounds each operation (manifest, invoke, health).
	Timeout time.Duration
	// HTTPClient overrides the transport. Its own Timeout is left untouched.
	HTTPClient *http.Client
	// InvokePath is used when the manifest cannot be fetched.
	InvokePath string
	// DiscoveryPath is where the manifest is fetched from.
	DiscoveryPath string
	// HealthPath is queried by Health.
	HealthPath string
	Logger     logging.Logger
}

// Client talks to one remote skill service. The manifest is fetched lazily
// and cached for the lifetime of the client. There is no retry here.
type Client struct {
	baseURL    string
	httpClient *http.Client
	opts       Options

	mu        sync.RWMutex
	manifest  *Manifest
	discovery singleflight.Group
}

// NewClient creates a client for the service rooted at baseURL.
func NewClient(baseURL string, optFns ...func(o *Options)) *Client {
	opts := Options{
		Timeout:       DefaultTimeout,
		InvokePath:    DefaultInvokePath,
		DiscoveryPath: DefaultDiscoveryPath,
		HealthPath:    DefaultHealthPath,
		Logger:        logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	opts.Logger = logging.OrNoOp(opts.Logger)

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: opts.HTTPClient,
		opts:       opts,
	}
}

// BaseURL returns the service root this client targets.
func (c *Client) BaseURL() string { return c.baseURL }

// GetManifest returns the cached manifest, fetching it on first use. A failed
// fetch is not cached so later calls try again. Concurrent callers share one
// fetch; each waits on it only until its own context is done.
func (c *Client) GetManifest(ctx context.Context) (*Manifest, error) {
	c.mu.RLock()
	cached := c.manifest
	c.mu.RUnlock()
	if cached != nil {
		return cached, nil
	}

	url := c.resolve(c.opts.DiscoveryPath)
	ch := c.discovery.DoChan(url, func() (any, error) {
		m, err := c.fetchManifest(context.WithoutCancel(ctx), url)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.manifest = m
		c.mu.Unlock()
		c.opts.Logger.Debug("Manifest cached", "agent", m.Identity.Name, "version", m.Identity.Version, "url", url)
		return m, nil
	})

	select {
	case <-ctx.Done():
		return nil, &core.DiscoveryError{URL: url, Err: ctx.Err()}
	case res := <-ch:
		if res.Err != nil {
			return nil, &core.DiscoveryError{URL: url, Err: res.Err}
		}
		return res.Val.(*Manifest), nil
	}
}

func (c *Client) fetchManifest(ctx context.Context, url string) (*Manifest, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var m Manifest
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		return nil, fmt.Errorf("decoding manifest: %w", err)
	}
	if err := m.validate(c.baseURL); err != nil {
		return nil, err
	}
	return &m, nil
}

// Invoke sends query to the remote service and returns its response payload.
// The invoke path comes from the manifest, or from Options.InvokePath when
// discovery fails. Params are sent alongside query and session_id.
func (c *Client) Invoke(ctx context.Context, query, sessionID string, params map[string]any) (core.Payload, error) {
	path := c.opts.InvokePath
	if m, err := c.GetManifest(ctx); err != nil {
		c.opts.Logger.Warn("Manifest unavailable, using static invoke path", "path", path, "error", err)
	} else {
		path = m.InvokePath()
	}
	url := c.resolve(path)

	body := make(map[string]any, len(params)+2)
	for k, v := range params {
		body[k] = v
	}
	body["query"] = query
	if sessionID != "" {
		body["session_id"] = sessionID
	}
	data, err := json.Marshal(body)
	if err != nil {
		return core.Payload{}, &core.InvocationError{URL: url, Err: fmt.Errorf("encoding request: %w", err)}
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return core.Payload{}, &core.InvocationError{URL: url, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return core.Payload{}, &core.InvocationError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return core.Payload{}, &core.InvocationError{
			URL:        url,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%s", strings.TrimSpace(string(snippet))),
		}
	}

	var out map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return core.Payload{}, &core.InvocationError{URL: url, StatusCode: resp.StatusCode, Err: fmt.Errorf("decoding response: %w", err)}
	}
	raw, ok := out["response"]
	if !ok {
		return core.Payload{}, &core.InvocationError{URL: url, StatusCode: resp.StatusCode, Err: errors.New("response field missing")}
	}

	var payload core.Payload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return core.Payload{}, &core.InvocationError{URL: url, StatusCode: resp.StatusCode, Err: fmt.Errorf("decoding response field: %w", err)}
	}
	return payload, nil
}

// HealthStatus is the outcome of a liveness check.
type HealthStatus struct {
	Healthy    bool   `json:"healthy"`
	Status     string `json:"status"`
	StatusCode int    `json:"status_code,omitempty"`
	Detail     string `json:"detail,omitempty"`
}

// Health checks the remote service. Failures are reported in the status,
// never returned as errors.
func (c *Client) Health(ctx context.Context) HealthStatus {
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	url := c.resolve(c.opts.HealthPath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return HealthStatus{Status: "unhealthy", Detail: err.Error()}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return HealthStatus{Status: "unreachable", Detail: err.Error()}
	}
	defer resp.Body.Close()

	var body struct {
		Status string `json:"status"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return HealthStatus{Status: "unhealthy", StatusCode: resp.StatusCode, Detail: body.Status}
	}
	status := body.Status
	if status == "" {
		status = "healthy"
	}
	return HealthStatus{Healthy: status == "healthy", Status: status, StatusCode: resp.StatusCode}
}

func (c *Client) resolve(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.baseURL + path
}
