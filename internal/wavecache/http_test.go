package wavecache

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(h http.Handler, r *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	return rec
}

func TestHandler_InterceptsOriginForm(t *testing.T) {
	env := newTestEnv(t, "")
	h := env.svc.Handler()
	env.fetcher.online("body{}")

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/styles.css", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "fresh", rec.Header().Get("X-Wavecache"))
	assert.Equal(t, "static", rec.Header().Get("X-Wavecache-Class"))
	assert.Equal(t, env.svc.Lifecycle().ID(), rec.Header().Get("X-Wavecache-Worker"))
	assert.Contains(t, rec.Header().Get("Access-Control-Expose-Headers"), "X-Wavecache")

	env.fetcher.offline()
	rec = serve(h, httptest.NewRequest(http.MethodGet, "/styles.css", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cached", rec.Header().Get("X-Wavecache"))
	assert.Equal(t, "body{}", rec.Body.String())

	assert.Len(t, env.fetcher.callsFor(testOrigin+"/styles.css"), 1)
}

func TestHandler_ProxyFormOpaqueImage(t *testing.T) {
	env := newTestEnv(t, "")
	h := env.svc.Handler()
	env.fetcher.setRespond(func(r Request, mode FetchMode) (*Response, error) {
		if mode == ModeCORS {
			return nil, &FetchError{URL: r.URL.String(), Mode: mode, Err: ErrCORSBlocked}
		}
		return opaqueResponse("png"), nil
	})

	req := httptest.NewRequest(http.MethodGet, "http://logos.example/__sw/status.png", nil)
	req.Header.Set("Sec-Fetch-Dest", "image")
	req.Header.Set("Sec-Fetch-Mode", "no-cors")

	rec := serve(h, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "degraded-opaque", rec.Header().Get("X-Wavecache"))
	assert.Equal(t, "image", rec.Header().Get("X-Wavecache-Class"))
	assert.Equal(t, "opaque", rec.Header().Get("X-Wavecache-Type"))
	assert.Equal(t, "png", rec.Body.String())
}

func TestHandler_OfflineResponses(t *testing.T) {
	env := newTestEnv(t, "")
	h := env.svc.Handler()

	req := httptest.NewRequest(http.MethodGet, stationsURL, nil)
	req.Header.Set("Sec-Fetch-Mode", "cors")
	rec := serve(h, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "synthetic", rec.Header().Get("X-Wavecache"))
	assert.JSONEq(t, `{"error":"Offline"}`, rec.Body.String())

	rec = serve(h, httptest.NewRequest(http.MethodGet, "/app.js", nil))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "bad-gateway", rec.Header().Get("X-Wavecache"))
}

func TestHandler_Message(t *testing.T) {
	env := newTestEnv(t, "")
	h := env.svc.Handler()
	env.fetcher.online("body{}")
	serve(h, httptest.NewRequest(http.MethodGet, "/styles.css", nil))

	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/__sw/message", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		return serve(h, req)
	}

	rec := post(`{"type":"CLEAR_CACHE"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp MessageResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, MessageClearCache, resp.Type)
	assert.Equal(t, 1, resp.Cleared)
	assert.Equal(t, "activated", resp.State)

	rec = post(`{"type":"skip-waiting"}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = post(`{"type":"reload"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = post(`{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_StatusHealthMetrics(t *testing.T) {
	env := newTestEnv(t, "")
	h := env.svc.Handler()
	env.fetcher.online("body{}")
	serve(h, httptest.NewRequest(http.MethodGet, "/styles.css", nil))

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/__sw/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var st Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.True(t, st.Controlling)
	assert.Equal(t, "v1.1.4", st.Version)
	require.Len(t, st.Stores, 1)
	assert.Equal(t, 1, st.Stores[0].Entries)

	rec = serve(h, httptest.NewRequest(http.MethodGet, "/__sw/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	rec = serve(h, httptest.NewRequest(http.MethodGet, "/__sw/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `wavecache_responses_total{class="static",source="fresh"} 1`)
}

func TestRequestFromHTTP(t *testing.T) {
	cfg := testConfig(t, "")

	r := httptest.NewRequest(http.MethodGet, "/json/stations?limit=10", nil)
	r.Header.Set("Sec-Fetch-Dest", "empty")
	r.Header.Set("Sec-Fetch-Mode", "cors")
	req, err := requestFromHTTP(r, cfg.origin)
	require.NoError(t, err)
	assert.Equal(t, "https://radiowave.example/json/stations?limit=10", req.URL.String())
	assert.Equal(t, "empty", req.Destination)
	assert.Equal(t, ModeCORS, modeFor(req))
	assert.Equal(t, "GET https://radiowave.example/json/stations?limit=10", req.Key())

	r = httptest.NewRequest(http.MethodPost, "http://api.example/submit", strings.NewReader("payload"))
	req, err = requestFromHTTP(r, cfg.origin)
	require.NoError(t, err)
	assert.Equal(t, "http://api.example/submit", req.URL.String())
	assert.Equal(t, "payload", string(req.Body))
	assert.Equal(t, ModeNavigate, modeFor(req))
}
