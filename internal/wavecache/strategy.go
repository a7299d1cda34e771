package wavecache

import (
	"context"
	"net/http"

	"go.uber.org/zap"
)

// cacheFirst serves static assets. A hit never touches the network and is
// never age-checked: static entries are invalidated by the store version.
func (s *Service) cacheFirst(ctx context.Context, req Request, p Policy) (Result, error) {
	c, err := s.storage.Open(ctx, p.Store)
	if err != nil {
		s.log.Warn("open store failed", zap.String("store", p.Store), zap.Error(err))
	}
	key := req.Key()
	if c != nil {
		if cached, ok := c.Match(ctx, key); ok {
			return Result{Source: SourceCache, Response: cached}, nil
		}
	}

	resp, err := s.fetch(ctx, req, modeFor(req), ClassStatic)
	if err != nil {
		if req.AcceptsHTML() {
			return Result{Source: SourceSynthetic, Response: offlinePage()}, nil
		}
		return Result{}, err
	}
	if resp.Status == http.StatusOK && c != nil {
		s.put(ctx, c, key, resp.Clone())
	}
	return Result{Source: SourceNetwork, Response: resp}, nil
}

// networkFirst prefers a live response and falls back to the store.
func (s *Service) networkFirst(ctx context.Context, req Request, p Policy) (Result, error) {
	c, err := s.storage.Open(ctx, p.Store)
	if err != nil {
		s.log.Warn("open store failed", zap.String("store", p.Store), zap.Error(err))
	}
	key := req.Key()

	resp, err := s.fetch(ctx, req, modeFor(req), ClassOther)
	if err != nil {
		if c != nil {
			if cached, ok := c.Match(ctx, key); ok {
				return Result{Source: SourceCache, Response: cached}, nil
			}
		}
		return Result{}, err
	}
	if resp.Status == http.StatusOK && c != nil {
		s.put(ctx, c, key, resp.Clone())
	}
	return Result{Source: SourceNetwork, Response: resp}, nil
}

const offlineHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>RadioWave - Offline</title>
<style>
body{font-family:system-ui,sans-serif;background:#0F172A;color:#F8FAFC;display:flex;align-items:center;justify-content:center;min-height:100vh;margin:0;padding:2rem;text-align:center}
.offline{max-width:500px}
p{color:#94A3B8;line-height:1.6;margin-bottom:2rem}
button{background:#F59E0B;color:#0F172A;border:none;padding:1rem 2rem;border-radius:8px;font-size:1rem;font-weight:600;cursor:pointer}
</style>
</head>
<body>
<div class="offline">
<h1>You are offline</h1>
<p>RadioWave could not reach the network. Check your connection and try again.</p>
<button onclick="window.location.reload()">Try again</button>
</div>
</body>
</html>
`

func offlinePage() *Response {
	h := make(http.Header)
	h.Set("Content-Type", "text/html; charset=utf-8")
	return &Response{
		Status:     http.StatusOK,
		StatusText: http.StatusText(http.StatusOK),
		Header:     h,
		Body:       []byte(offlineHTML),
		Type:       TypeDefault,
	}
}

func emptyNotFound() *Response {
	return &Response{
		Status:     http.StatusNotFound,
		StatusText: http.StatusText(http.StatusNotFound),
		Header:     make(http.Header),
		Body:       []byte{},
		Type:       TypeDefault,
	}
}

func offlineJSON() *Response {
	h := make(http.Header)
	h.Set("Content-Type", "application/json")
	return &Response{
		Status:     http.StatusServiceUnavailable,
		StatusText: http.StatusText(http.StatusServiceUnavailable),
		Header:     h,
		Body:       []byte(`{"error":"Offline"}`),
		Type:       TypeDefault,
	}
}
