// Package registry announces this instance to an optional service
// registry. Registration is best effort: the registry being down never
// affects serving.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/deckview/deckview/internal/logging"
)

// DefaultHeartbeatInterval is how often a heartbeat is sent.
const DefaultHeartbeatInterval = 30 * time.Second

// Registrar announces service presence. Start is non-blocking; Stop
// deregisters and waits for the heartbeat loop to exit.
type Registrar interface {
	Start(ctx context.Context)
	Stop()
}

// Config configures a registry Client.
type Config struct {
	// BaseURL is the registry endpoint, e.g. http://localhost:9000.
	BaseURL string
	// ServiceID uniquely identifies this instance.
	ServiceID string
	// ServiceName is the human-readable service name.
	ServiceName string
	// AdvertiseURL is the URL other services should use to reach us.
	AdvertiseURL string
	// HeartbeatInterval overrides DefaultHeartbeatInterval when positive.
	HeartbeatInterval time.Duration
}

type registration struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Client registers with an HTTP service registry and keeps the
// registration alive with periodic heartbeats.
type Client struct {
	cfg        Config
	httpClient *http.Client

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// New creates a registry client.
func New(cfg Config) *Client {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Start registers the service and launches the heartbeat loop. A failed
// initial registration is logged and retried by the loop.
func (c *Client) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.running = true

	if err := c.register(ctx); err != nil {
		logging.Warn("service registration failed",
			zap.String("registry", c.cfg.BaseURL), zap.Error(err))
	} else {
		logging.Info("registered with service registry",
			zap.String("registry", c.cfg.BaseURL),
			zap.String("service_id", c.cfg.ServiceID))
	}

	c.wg.Add(1)
	go c.heartbeatLoop(ctx)
}

// Stop halts heartbeats and deregisters.
func (c *Client) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	c.cancel()
	c.mu.Unlock()

	c.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.deregister(ctx); err != nil {
		logging.Warn("deregistration failed", zap.Error(err))
	}
}

func (c *Client) heartbeatLoop(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.heartbeat(ctx); err != nil {
				logging.Warn("registry heartbeat failed", zap.Error(err))
				// A lost registration comes back on the next re-register.
				if err := c.register(ctx); err != nil {
					logging.Debug("re-registration failed", zap.Error(err))
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) register(ctx context.Context) error {
	body, err := json.Marshal(registration{
		ID:   c.cfg.ServiceID,
		Name: c.cfg.ServiceName,
		URL:  c.cfg.AdvertiseURL,
	})
	if err != nil {
		return err
	}
	return c.post(ctx, "POST", c.cfg.BaseURL+"/api/v1/services", body)
}

func (c *Client) heartbeat(ctx context.Context) error {
	url := fmt.Sprintf("%s/api/v1/services/%s/heartbeat", c.cfg.BaseURL, c.cfg.ServiceID)
	return c.post(ctx, "POST", url, nil)
}

func (c *Client) deregister(ctx context.Context) error {
	url := fmt.Sprintf("%s/api/v1/services/%s", c.cfg.BaseURL, c.cfg.ServiceID)
	return c.post(ctx, "DELETE", url, nil)
}

func (c *Client) post(ctx context.Context, method, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("registry returned %d", resp.StatusCode)
	}
	return nil
}

// Noop is the registrar used when no registry is configured.
type Noop struct{}

func (Noop) Start(context.Context) {}
func (Noop) Stop()                 {}

// Select returns an HTTP registrar when enabled with a base URL, and
// Noop otherwise.
func Select(enabled bool, cfg Config) Registrar {
	if !enabled || cfg.BaseURL == "" {
		return Noop{}
	}
	return New(cfg)
}
