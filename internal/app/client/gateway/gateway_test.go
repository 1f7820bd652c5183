package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	"edudesk/internal/app/client/cache"
	"edudesk/internal/app/client/connectivity"
	"edudesk/internal/app/client/queue"
	"edudesk/internal/app/client/storage"
	"edudesk/internal/domain/action"
	"edudesk/internal/domain/envelope"
)

type staticToken string

func (s staticToken) Token() (string, bool) {
	return string(s), s != ""
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	gw      *Gateway
	cache   *cache.Cache
	queue   *queue.Queue
	monitor *connectivity.Monitor
	clock   *fakeClock
	hits    *atomic.Int32
	server  *httptest.Server
}

func newFixture(t *testing.T, online bool, handler http.HandlerFunc) *fixture {
	t.Helper()

	hits := &atomic.Int32{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if handler != nil {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	log := slog.Default()
	clk := &fakeClock{t: time.UnixMilli(1700000000000)}
	store := storage.NewMemoryStorage()
	c := cache.New(store, time.Minute, log, cache.WithClock(clk.Now))
	q := queue.New(store, log, queue.WithClock(clk.Now))
	m := connectivity.NewMonitor(online)
	tr := NewTransport(srv.URL+"/api/v1", time.Second, staticToken("secret"), log)

	return &fixture{
		gw:      New(tr, c, q, m, log),
		cache:   c,
		queue:   q,
		monitor: m,
		clock:   clk,
		hits:    hits,
		server:  srv,
	}
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func TestOfflineReadServedFromCache(t *testing.T) {
	f := newFixture(t, false, nil)
	ctx := context.Background()
	require.NoError(t, f.cache.Put(ctx, "courses:list", json.RawMessage(`[{"id":"c1"}]`)))

	res := f.gw.Request(ctx, "get", "courses", nil, WithCacheKey("courses:list"))

	assert.True(t, res.Success)
	assert.True(t, res.FromCache)
	assert.False(t, res.Stale)
	assert.JSONEq(t, `[{"id":"c1"}]`, string(res.Data))
	assert.Zero(t, f.hits.Load(), "чтение вне сети не должно обращаться к серверу")
}

func TestOfflineReadMiss(t *testing.T) {
	f := newFixture(t, false, nil)

	res := f.gw.Request(context.Background(), "get", "courses", nil, WithCacheKey("courses:list"))

	assert.False(t, res.Success)
	assert.Equal(t, envelope.CodeOffline, res.Code())
	assert.Zero(t, f.hits.Load())
}

func TestOfflineReadExpiredEntryIsMiss(t *testing.T) {
	f := newFixture(t, false, nil)
	ctx := context.Background()
	require.NoError(t, f.cache.Put(ctx, "courses:list", json.RawMessage(`[]`)))
	f.clock.Advance(time.Minute)

	res := f.gw.Request(ctx, "get", "courses", nil, WithCacheKey("courses:list"))

	assert.Equal(t, envelope.CodeOffline, res.Code())
	_, ok, err := f.cache.Peek(ctx, "courses:list")
	require.NoError(t, err)
	assert.False(t, ok, "просроченная запись удаляется при чтении")
}

func TestOfflineReadWithoutCacheKey(t *testing.T) {
	f := newFixture(t, false, nil)

	res := f.gw.Request(context.Background(), "GET", "courses", nil)

	assert.Equal(t, envelope.CodeOffline, res.Code())
}

func TestOfflineWriteIsQueued(t *testing.T) {
	f := newFixture(t, false, nil)
	ctx := context.Background()

	res := f.gw.Request(ctx, "post", "messages", map[string]string{"content": "hi"})

	assert.True(t, res.Success)
	assert.True(t, res.Queued)
	assert.NotEmpty(t, res.ActionID)
	assert.Zero(t, f.hits.Load())

	pending, err := f.queue.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, res.ActionID, pending[0].ID)
	assert.Equal(t, action.MethodPost, pending[0].Method)
	assert.Equal(t, "messages", pending[0].Path)
	assert.JSONEq(t, `{"content":"hi"}`, string(pending[0].Body))
	assert.True(t, pending[0].RequiresAuth)
}

func TestOnlineReadRefreshesCache(t *testing.T) {
	f := newFixture(t, true, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/v1/courses/c1", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		writeJSON(w, http.StatusOK, `{"success":true,"data":{"id":"c1","title":"Go"}}`)
	})
	ctx := context.Background()

	res := f.gw.Request(ctx, "get", "courses/c1", nil, WithCacheKey("courses:c1"))

	require.True(t, res.Success)
	assert.False(t, res.FromCache)
	assert.Equal(t, http.StatusOK, res.Status)
	assert.JSONEq(t, `{"id":"c1","title":"Go"}`, string(res.Data))

	cached, ok, err := f.cache.Get(ctx, "courses:c1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"id":"c1","title":"Go"}`, string(cached))
}

func TestOnlineReadWithCacheDisabled(t *testing.T) {
	f := newFixture(t, true, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"success":true,"data":1}`)
	})
	ctx := context.Background()

	res := f.gw.Request(ctx, "get", "courses", nil, WithCacheKey("courses:list"), WithCache(false))

	require.True(t, res.Success)
	_, ok, err := f.cache.Peek(ctx, "courses:list")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBarePayloadIsNormalized(t *testing.T) {
	f := newFixture(t, true, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `[{"id":"e1"}]`)
	})

	res := f.gw.Request(context.Background(), "get", "events", nil)

	assert.True(t, res.Success)
	assert.JSONEq(t, `[{"id":"e1"}]`, string(res.Data))
}

func TestNetworkFailureFallsBackToStaleCache(t *testing.T) {
	f := newFixture(t, true, nil)
	f.server.Close()
	ctx := context.Background()

	require.NoError(t, f.cache.Put(ctx, "courses:list", json.RawMessage(`[{"id":"c1"}]`)))
	// Даже просроченная запись лучше пустого экрана
	f.clock.Advance(time.Hour)

	res := f.gw.Request(ctx, "get", "courses", nil, WithCacheKey("courses:list"))

	assert.True(t, res.Success)
	assert.True(t, res.FromCache)
	assert.True(t, res.Stale)
	assert.NotEmpty(t, res.Message)
	assert.JSONEq(t, `[{"id":"c1"}]`, string(res.Data))
}

func TestNetworkFailureWithoutCache(t *testing.T) {
	f := newFixture(t, true, nil)
	f.server.Close()

	res := f.gw.Request(context.Background(), "get", "courses", nil, WithCacheKey("courses:list"))

	assert.False(t, res.Success)
	assert.Equal(t, envelope.CodeNetwork, res.Code())
	assert.Zero(t, res.Status)
}

func TestServerErrorIsNotMaskedByCache(t *testing.T) {
	f := newFixture(t, true, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusInternalServerError, `{"success":false,"error":{"code":"DB_DOWN","message":"database unavailable"}}`)
	})
	ctx := context.Background()
	require.NoError(t, f.cache.Put(ctx, "courses:list", json.RawMessage(`[]`)))

	res := f.gw.Request(ctx, "get", "courses", nil, WithCacheKey("courses:list"))

	assert.False(t, res.Success)
	assert.False(t, res.FromCache)
	assert.Equal(t, "DB_DOWN", res.Code())
	assert.Equal(t, http.StatusInternalServerError, res.Status)
}

func TestOnlineMutationInvalidatesCacheKey(t *testing.T) {
	var gotBody []byte
	f := newFixture(t, true, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/messages", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		gotBody, _ = io.ReadAll(r.Body)
		writeJSON(w, http.StatusCreated, `{"success":true,"data":{"id":"m1"}}`)
	})
	ctx := context.Background()
	require.NoError(t, f.cache.Put(ctx, "messages:list", json.RawMessage(`[]`)))

	res := f.gw.Request(ctx, "POST", "messages", map[string]string{"content": "hi"}, WithCacheKey("messages:list"))

	require.True(t, res.Success)
	assert.False(t, res.Queued)
	assert.JSONEq(t, `{"content":"hi"}`, string(gotBody))
	assert.JSONEq(t, `{"id":"m1"}`, string(res.Data))

	_, ok, err := f.cache.Peek(ctx, "messages:list")
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := f.queue.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "онлайн изменение не ставится в очередь")
}

func TestOnlineMutationFailureIsNotQueued(t *testing.T) {
	f := newFixture(t, true, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnprocessableEntity, `{"message":"content is required"}`)
	})
	ctx := context.Background()

	res := f.gw.Request(ctx, "post", "messages", json.RawMessage(`{}`))

	assert.False(t, res.Success)
	assert.Equal(t, envelope.CodeValidation, res.Code())
	assert.Equal(t, int32(1), f.hits.Load())

	n, err := f.queue.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestWithoutToken(t *testing.T) {
	f := newFixture(t, true, func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		writeJSON(w, http.StatusOK, `{"success":true}`)
	})

	res := f.gw.Request(context.Background(), "get", "courses", nil, WithToken(false))

	assert.True(t, res.Success)
}

func TestTokenIsNotSentToForeignHost(t *testing.T) {
	var foreignAuth atomic.Value
	foreign := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		foreignAuth.Store(r.Header.Get("Authorization"))
		writeJSON(w, http.StatusOK, `{"success":true}`)
	}))
	t.Cleanup(foreign.Close)

	f := newFixture(t, true, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		writeJSON(w, http.StatusOK, `{"success":true}`)
	})
	ctx := context.Background()

	res := f.gw.Request(ctx, "get", foreign.URL+"/courses", nil)
	require.True(t, res.Success)
	assert.Equal(t, "", foreignAuth.Load())

	// абсолютный адрес самого API токен сохраняет
	res = f.gw.Request(ctx, "get", f.server.URL+"/api/v1/courses", nil)
	require.True(t, res.Success)
	assert.EqualValues(t, 1, f.hits.Load())
}

func TestUnsupportedMethod(t *testing.T) {
	f := newFixture(t, true, nil)

	res := f.gw.Request(context.Background(), "trace", "courses", nil)

	assert.Equal(t, envelope.CodeValidation, res.Code())
	assert.Zero(t, f.hits.Load())
}

func TestSendReplaysActionAsIs(t *testing.T) {
	f := newFixture(t, true, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/api/v1/messages/m1", r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusNoContent)
	})

	res := f.gw.Send(context.Background(), &action.PendingAction{
		ID:     "1-abc",
		Method: action.MethodDelete,
		Path:   "messages/m1",
	})

	assert.True(t, res.Success)
	assert.Equal(t, http.StatusNoContent, res.Status)
}

type panicDoer struct{}

func (panicDoer) Do(context.Context, string, string, []byte, bool) envelope.Result {
	panic("boom")
}

func TestPanicIsConvertedToUnknownError(t *testing.T) {
	log := slog.Default()
	store := storage.NewMemoryStorage()
	gw := New(panicDoer{}, cache.New(store, time.Minute, log), queue.New(store, log), connectivity.NewMonitor(true), log)

	res := gw.Request(context.Background(), "get", "courses", nil)
	assert.Equal(t, envelope.CodeUnknown, res.Code())

	res = gw.Send(context.Background(), &action.PendingAction{ID: "x", Method: action.MethodPost, Path: "courses"})
	assert.Equal(t, envelope.CodeUnknown, res.Code())
}

func TestHealthCheck(t *testing.T) {
	f := newFixture(t, true, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/health", r.URL.Path)
		writeJSON(w, http.StatusOK, `{"status":"ok"}`)
	})
	require.NoError(t, f.gw.HealthCheck(context.Background()))

	f.server.Close()
	assert.Error(t, f.gw.HealthCheck(context.Background()))
}

func TestQueuedActionReplaysThroughGateway(t *testing.T) {
	var paths []string
	var mu sync.Mutex
	f := newFixture(t, false, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()
		writeJSON(w, http.StatusCreated, `{"success":true}`)
	})
	ctx := context.Background()

	for _, p := range []string{"messages", "assignments/a1/submissions", "events"} {
		res := f.gw.Request(ctx, "post", p, map[string]string{"k": "v"})
		require.True(t, res.Queued)
	}

	r := queue.NewReplayer(f.queue, f.gw, queue.Policy{}, slog.Default())
	f.monitor.Set(true)
	report := r.ReplayAll(ctx)

	assert.Equal(t, 3, report.Replayed)
	assert.Equal(t, []string{
		"/api/v1/messages",
		"/api/v1/assignments/a1/submissions",
		"/api/v1/events",
	}, paths)
}
