// internal/pilot/sync.go
package pilot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/scalpel-pilot/api/schemas"
	"github.com/xkilldash9x/scalpel-pilot/internal/pilot/bus"
)

// ErrBreakerOpen is returned by Sync while the circuit breaker is cooling
// down after repeated failures.
var ErrBreakerOpen = errors.New("sync circuit breaker is open")

// Sync defaults.
const (
	DefaultPollInterval     = time.Second
	DefaultMinPollInterval  = 100 * time.Millisecond
	DefaultFailureThreshold = 5
	DefaultBreakerCooldown  = 10 * time.Second
	DefaultSyncTimeout      = 15 * time.Second

	clientHeader = "X-Gasoline-Client"
)

// SyncSettings configure the sync client. Zero fields take the defaults.
type SyncSettings struct {
	ServerURL        string
	SessionID        string
	ExtensionVersion string
	PollInterval     time.Duration
	MinPollInterval  time.Duration
	FailureThreshold int
	BreakerCooldown  time.Duration
	RequestTimeout   time.Duration
}

// SyncOption configures a SyncClient.
type SyncOption func(*SyncClient)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(h *http.Client) SyncOption { return func(c *SyncClient) { c.http = h } }

// WithStateProvider sets the function that reports pilot state on every
// sync.
func WithStateProvider(fn func() schemas.SyncSettings) SyncOption {
	return func(c *SyncClient) { c.state = fn }
}

// SyncClient polls the server's /sync endpoint. Each round carries the
// results published on bus.TopicResult since the last round, and every
// command the server returns is published on bus.TopicQuery.
type SyncClient struct {
	settings SyncSettings
	bus      *bus.Bus
	http     *http.Client
	state    func() schemas.SyncSettings
	limiter  *rate.Limiter
	logger   *zap.Logger
	now      func() time.Time

	mu        sync.Mutex
	pending   []schemas.SyncCommandResult
	lastAck   string
	failures  int
	openUntil time.Time
}

// NewSyncClient creates a sync client. An empty session id is replaced by
// a random one.
func NewSyncClient(settings SyncSettings, b *bus.Bus, logger *zap.Logger, opts ...SyncOption) *SyncClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	if settings.SessionID == "" {
		settings.SessionID = uuid.NewString()
	}
	if settings.PollInterval <= 0 {
		settings.PollInterval = DefaultPollInterval
	}
	if settings.MinPollInterval <= 0 {
		settings.MinPollInterval = DefaultMinPollInterval
	}
	if settings.FailureThreshold <= 0 {
		settings.FailureThreshold = DefaultFailureThreshold
	}
	if settings.BreakerCooldown <= 0 {
		settings.BreakerCooldown = DefaultBreakerCooldown
	}
	if settings.RequestTimeout <= 0 {
		settings.RequestTimeout = DefaultSyncTimeout
	}
	settings.ServerURL = strings.TrimRight(settings.ServerURL, "/")

	c := &SyncClient{
		settings: settings,
		bus:      b,
		limiter:  rate.NewLimiter(rate.Every(settings.PollInterval), 1),
		logger:   logger.Named("sync").With(zap.String("session_id", settings.SessionID)),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: settings.RequestTimeout}
	}
	return c
}

// SessionID returns the session id sent on every sync.
func (c *SyncClient) SessionID() string { return c.settings.SessionID }

// Enqueue queues a command result for the next sync.
func (c *SyncClient) Enqueue(r schemas.SyncCommandResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = append(c.pending, r)
}

// Pending returns how many results wait for the next sync.
func (c *SyncClient) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Run polls until ctx ends. Poll spacing follows the server's next_poll_ms
// hint, never faster than the minimum interval.
func (c *SyncClient) Run(ctx context.Context) error {
	results, unsubscribe := c.bus.Subscribe(bus.TopicResult)
	defer unsubscribe()

	var wg sync.WaitGroup
	collectCtx, stopCollect := context.WithCancel(ctx)
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.collect(collectCtx, results)
	}()
	defer func() {
		stopCollect()
		wg.Wait()
	}()

	c.logger.Info("Sync loop started.", zap.String("server", c.settings.ServerURL))
	for {
		if err := c.limiter.Wait(ctx); err != nil {
			c.logger.Info("Sync loop stopped.")
			return ctx.Err()
		}
		resp, err := c.Sync(ctx)
		switch {
		case errors.Is(err, ErrBreakerOpen):
			if !c.sleepUntilClosed(ctx) {
				c.logger.Info("Sync loop stopped.")
				return ctx.Err()
			}
		case err != nil:
			if ctx.Err() != nil {
				c.logger.Info("Sync loop stopped.")
				return ctx.Err()
			}
			c.logger.Warn("Sync failed.", zap.Error(err))
		default:
			c.adjustInterval(resp.NextPollMs)
		}
	}
}

func (c *SyncClient) collect(ctx context.Context, results <-chan bus.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-results:
			if !ok {
				return
			}
			if r, ok := msg.Payload.(schemas.SyncCommandResult); ok {
				c.Enqueue(r)
			}
			c.bus.Ack(msg)
		}
	}
}

func (c *SyncClient) sleepUntilClosed(ctx context.Context) bool {
	c.mu.Lock()
	wait := c.openUntil.Sub(c.now())
	c.mu.Unlock()
	if wait <= 0 {
		return true
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *SyncClient) adjustInterval(nextPollMs int) {
	interval := c.settings.PollInterval
	if nextPollMs > 0 {
		interval = time.Duration(nextPollMs) * time.Millisecond
	}
	interval = max(interval, c.settings.MinPollInterval)
	c.limiter.SetLimit(rate.Every(interval))
}

// Sync runs one round trip. Queued results are sent and only dropped once
// the server acknowledges them. Returned commands are published as queries.
func (c *SyncClient) Sync(ctx context.Context) (schemas.SyncResponse, error) {
	c.mu.Lock()
	if c.now().Before(c.openUntil) {
		c.mu.Unlock()
		return schemas.SyncResponse{}, ErrBreakerOpen
	}
	sent := c.pending
	c.pending = nil
	req := schemas.SyncRequest{
		SessionID:        c.settings.SessionID,
		ExtensionVersion: c.settings.ExtensionVersion,
		LastCommandAck:   c.lastAck,
		CommandResults:   sent,
	}
	c.mu.Unlock()
	if c.state != nil {
		st := c.state()
		req.Settings = &st
	}

	resp, err := c.post(ctx, req)
	if err != nil {
		c.mu.Lock()
		c.pending = append(sent, c.pending...)
		c.failures++
		if c.failures >= c.settings.FailureThreshold {
			c.openUntil = c.now().Add(c.settings.BreakerCooldown)
			c.logger.Warn("Opening sync circuit breaker.",
				zap.Int("failures", c.failures),
				zap.Duration("cooldown", c.settings.BreakerCooldown))
			c.failures = 0
		}
		c.mu.Unlock()
		return schemas.SyncResponse{}, err
	}

	c.mu.Lock()
	c.failures = 0
	if n := len(resp.Commands); n > 0 {
		c.lastAck = resp.Commands[n-1].ID
	}
	c.mu.Unlock()

	if len(sent) > 0 || len(resp.Commands) > 0 {
		c.logger.Debug("Synced.", zap.Int("results_sent", len(sent)), zap.Int("commands", len(resp.Commands)))
	}
	for _, cmd := range resp.Commands {
		if err := c.bus.Publish(ctx, bus.TopicQuery, cmd.Query()); err != nil {
			return resp, fmt.Errorf("failed to queue command %s: %w", cmd.ID, err)
		}
	}
	return resp, nil
}

func (c *SyncClient) post(ctx context.Context, body schemas.SyncRequest) (schemas.SyncResponse, error) {
	var out schemas.SyncResponse
	payload, err := json.Marshal(body)
	if err != nil {
		return out, fmt.Errorf("failed to encode sync request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.settings.ServerURL+"/sync", bytes.NewReader(payload))
	if err != nil {
		return out, fmt.Errorf("failed to build sync request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(clientHeader, c.settings.SessionID)

	resp, err := c.http.Do(req)
	if err != nil {
		return out, fmt.Errorf("sync request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return out, fmt.Errorf("failed to read sync response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return out, fmt.Errorf("sync returned %s: %s", resp.Status, strings.TrimSpace(string(raw)))
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("failed to decode sync response: %w", err)
	}
	return out, nil
}
