package pilot

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/scalpel-pilot/api/schemas"
	"github.com/xkilldash9x/scalpel-pilot/internal/mocks"
	"github.com/xkilldash9x/scalpel-pilot/internal/pilot/bus"
)

// fakeServer is a scripted /sync endpoint.
type fakeServer struct {
	mu       sync.Mutex
	requests []schemas.SyncRequest
	clients  []string
	queue    []schemas.SyncCommand
	failNext int
	seen     chan schemas.SyncRequest
}

func newFakeServer(t *testing.T) (*fakeServer, *httptest.Server) {
	f := &fakeServer{seen: make(chan schemas.SyncRequest, 64)}
	srv := httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/sync" || r.Method != http.MethodPost {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	raw, _ := io.ReadAll(r.Body)
	var req schemas.SyncRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	if f.failNext > 0 {
		f.failNext--
		f.mu.Unlock()
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
		return
	}
	f.requests = append(f.requests, req)
	f.clients = append(f.clients, r.Header.Get("X-Gasoline-Client"))
	cmds := f.queue
	f.queue = nil
	f.mu.Unlock()

	select {
	case f.seen <- req:
	default:
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(schemas.SyncResponse{Ack: true, Commands: cmds, NextPollMs: 20, ServerTime: time.Now().UTC().Format(time.RFC3339)})
}

func (f *fakeServer) push(cmds ...schemas.SyncCommand) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = append(f.queue, cmds...)
}

func (f *fakeServer) fail(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failNext = n
}

func TestSyncRound(t *testing.T) {
	f, srv := newFakeServer(t)
	b := bus.New(zaptest.NewLogger(t), 8)
	defer b.Close()
	queries, unsubscribe := b.Subscribe(bus.TopicQuery)
	defer unsubscribe()

	c := NewSyncClient(SyncSettings{ServerURL: srv.URL + "/", SessionID: "sess-1", ExtensionVersion: "1.2.3"}, b,
		zaptest.NewLogger(t),
		WithStateProvider(func() schemas.SyncSettings {
			return schemas.SyncSettings{PilotEnabled: true, TrackedTabID: 4, TrackedTabURL: "https://shop.test/"}
		}))

	f.push(schemas.SyncCommand{ID: "cmd-1", Type: schemas.QueryTypeDOMAction, TabID: 4, CorrelationID: "corr-1", Params: []byte(`{"action":"click","selector":"#buy"}`)})
	c.Enqueue(schemas.SyncCommandResult{ID: "old", Status: schemas.StatusComplete})

	resp, err := c.Sync(context.Background())
	require.NoError(t, err)
	assert.True(t, resp.Ack)
	assert.Equal(t, 20, resp.NextPollMs)
	assert.Zero(t, c.Pending())

	select {
	case msg := <-queries:
		q := msg.Payload.(schemas.PendingQuery)
		assert.Equal(t, "cmd-1", q.ID)
		assert.Equal(t, 4, q.TabID)
		assert.Equal(t, "corr-1", q.CorrelationID)
		assert.JSONEq(t, `{"action":"click","selector":"#buy"}`, string(q.Params))
		b.Ack(msg)
	case <-time.After(time.Second):
		t.Fatal("command was not published")
	}

	_, err = c.Sync(context.Background())
	require.NoError(t, err)

	f.mu.Lock()
	defer f.mu.Unlock()
	require.Len(t, f.requests, 2)
	first := f.requests[0]
	assert.Equal(t, "sess-1", first.SessionID)
	assert.Equal(t, "1.2.3", first.ExtensionVersion)
	require.NotNil(t, first.Settings)
	assert.True(t, first.Settings.PilotEnabled)
	assert.Equal(t, 4, first.Settings.TrackedTabID)
	require.Len(t, first.CommandResults, 1)
	assert.Equal(t, "old", first.CommandResults[0].ID)
	assert.Equal(t, "cmd-1", f.requests[1].LastCommandAck)
	assert.Empty(t, f.requests[1].CommandResults)
	assert.Equal(t, []string{"sess-1", "sess-1"}, f.clients)
}

func TestSyncFailuresAndBreaker(t *testing.T) {
	f, srv := newFakeServer(t)
	b := bus.New(zaptest.NewLogger(t), 8)
	defer b.Close()

	c := NewSyncClient(SyncSettings{ServerURL: srv.URL, FailureThreshold: 2, BreakerCooldown: time.Minute}, b, zaptest.NewLogger(t))
	assert.NotEmpty(t, c.SessionID(), "a session id is generated")
	base := time.Now()
	c.now = func() time.Time { return base }

	c.Enqueue(schemas.SyncCommandResult{ID: "r1", Status: schemas.StatusComplete})
	f.fail(2)

	_, err := c.Sync(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.Equal(t, 1, c.Pending(), "results survive a failed sync")

	_, err = c.Sync(context.Background())
	require.Error(t, err)

	_, err = c.Sync(context.Background())
	assert.ErrorIs(t, err, ErrBreakerOpen)

	c.now = func() time.Time { return base.Add(2 * time.Minute) }
	_, err = c.Sync(context.Background())
	require.NoError(t, err, "the breaker closes after the cooldown")
	assert.Zero(t, c.Pending())

	f.mu.Lock()
	defer f.mu.Unlock()
	require.Len(t, f.requests, 1)
	require.Len(t, f.requests[0].CommandResults, 1)
	assert.Equal(t, "r1", f.requests[0].CommandResults[0].ID)
}

func TestSyncAdjustInterval(t *testing.T) {
	b := bus.New(zaptest.NewLogger(t), 1)
	defer b.Close()
	c := NewSyncClient(SyncSettings{ServerURL: "http://127.0.0.1:0", PollInterval: time.Second, MinPollInterval: 50 * time.Millisecond}, b, nil)

	c.adjustInterval(10)
	assert.InDelta(t, 20.0, float64(c.limiter.Limit()), 0.01, "clamped to the minimum interval")
	c.adjustInterval(0)
	assert.InDelta(t, 1.0, float64(c.limiter.Limit()), 0.01, "falls back to the poll interval")
	c.adjustInterval(500)
	assert.InDelta(t, 2.0, float64(c.limiter.Limit()), 0.01)
}

func TestSyncLoopEndToEnd(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"))

	f, srv := newFakeServer(t)
	logger := zaptest.NewLogger(t)
	b := bus.New(logger, 8)

	d := new(mocks.MockDispatcher)
	d.On("Dispatch", mock.Anything, 9, mock.Anything).
		Return(schemas.ActionResult{Success: true, Action: schemas.ActionGetValue, Value: "42"})
	svc := NewService(d, b, ServiceSettings{}, logger)
	client := NewSyncClient(SyncSettings{ServerURL: srv.URL, MinPollInterval: 10 * time.Millisecond}, b, logger,
		WithHTTPClient(&http.Client{Timeout: time.Second}))

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _ = svc.Run(ctx) }()
	// Let the service subscribe before the first command arrives.
	time.Sleep(20 * time.Millisecond)
	go func() { defer wg.Done(); _ = client.Run(ctx) }()

	f.push(schemas.SyncCommand{ID: "cmd-9", Type: schemas.QueryTypeDOMAction, TabID: 9, Params: []byte(`"{\"action\":\"get_value\",\"selector\":\"#qty\"}"`)})

	deadline := time.After(3 * time.Second)
	var got *schemas.SyncCommandResult
	for got == nil {
		select {
		case req := <-f.seen:
			for _, r := range req.CommandResults {
				if r.ID == "cmd-9" {
					got = &r
				}
			}
		case <-deadline:
			t.Fatal("the command result never reached the server")
		}
	}
	assert.Equal(t, schemas.StatusComplete, got.Status)
	var res schemas.ActionResult
	require.NoError(t, json.Unmarshal(got.Result, &res))
	assert.Equal(t, "42", res.Value)

	cancel()
	wg.Wait()
	b.Close()
	client.http.CloseIdleConnections()
	srv.Close()
}
