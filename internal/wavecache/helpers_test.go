package wavecache

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testOrigin = "https://radiowave.example"

var errOffline = errors.New("network unreachable")

type fetchCall struct {
	URL  string
	Mode FetchMode
}

// fakeFetcher answers through respond and records every call. With gate set,
// fetches block until the gate is closed or the context ends.
type fakeFetcher struct {
	mu      sync.Mutex
	calls   []fetchCall
	respond func(req Request, mode FetchMode) (*Response, error)
	gate    chan struct{}
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{respond: func(Request, FetchMode) (*Response, error) { return nil, errOffline }}
}

func (f *fakeFetcher) Fetch(ctx context.Context, req Request, mode FetchMode) (*Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, fetchCall{URL: req.URL.String(), Mode: mode})
	respond := f.respond
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return respond(req, mode)
}

func (f *fakeFetcher) setRespond(fn func(req Request, mode FetchMode) (*Response, error)) {
	f.mu.Lock()
	f.respond = fn
	f.mu.Unlock()
}

func (f *fakeFetcher) setGate(ch chan struct{}) {
	f.mu.Lock()
	f.gate = ch
	f.mu.Unlock()
}

func (f *fakeFetcher) online(body string) {
	f.setRespond(func(Request, FetchMode) (*Response, error) { return okResponse(body, "text/plain"), nil })
}

func (f *fakeFetcher) offline() {
	f.setRespond(func(Request, FetchMode) (*Response, error) { return nil, errOffline })
}

func (f *fakeFetcher) callsFor(u string) []fetchCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []fetchCall
	for _, c := range f.calls {
		if c.URL == u {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
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

func okResponse(body, contentType string) *Response {
	h := make(http.Header)
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	return &Response{
		Status:     http.StatusOK,
		StatusText: "OK",
		Header:     h,
		Body:       []byte(body),
		Type:       TypeBasic,
	}
}

func opaqueResponse(body string) *Response {
	return &Response{Type: TypeOpaque, Header: make(http.Header), Body: []byte(body)}
}

func testConfig(t *testing.T, extra string) Config {
	t.Helper()
	cfg, err := ParseConfig([]byte("server:\n  origin: " + testOrigin + "\n" + extra))
	require.NoError(t, err)
	return cfg
}

type testEnv struct {
	svc     *Service
	fetcher *fakeFetcher
	clock   *fakeClock
}

// newTestEnv returns an activated service on memory storage with a fake
// network and clock.
func newTestEnv(t *testing.T, extra string) *testEnv {
	t.Helper()
	env := &testEnv{fetcher: newFakeFetcher(), clock: newFakeClock()}
	svc, err := NewService(testConfig(t, extra),
		WithStorage(NewMemoryStorage()),
		WithFetcher(env.fetcher),
		WithClock(env.clock.Now),
	)
	require.NoError(t, err)
	t.Cleanup(svc.Close)
	require.NoError(t, svc.Lifecycle().Activate(context.Background()))
	env.svc = svc
	return env
}

func (e *testEnv) store(t *testing.T, name string) Cache {
	t.Helper()
	c, err := e.svc.Storage().Open(context.Background(), name)
	require.NoError(t, err)
	return c
}

func getRequest(t *testing.T, raw string) Request {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return Request{Method: http.MethodGet, URL: u, Header: make(http.Header)}
}

func imageRequest(t *testing.T, raw string) Request {
	req := getRequest(t, raw)
	req.Destination = "image"
	req.Mode = "no-cors"
	return req
}

func apiRequest(t *testing.T, raw string) Request {
	req := getRequest(t, raw)
	req.Destination = "empty"
	req.Mode = "cors"
	return req
}
