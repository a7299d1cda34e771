package wavecache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// FetchMode mirrors the request modes the strategies use.
type FetchMode int

const (
	// ModeCORS reads cross-origin responses only when the origin allows it.
	ModeCORS FetchMode = iota
	// ModeNoCORS sends no credentials; cross-origin responses come back opaque.
	ModeNoCORS
	// ModeNavigate is a top-level navigation; the response is always readable.
	ModeNavigate
)

func (m FetchMode) String() string {
	switch m {
	case ModeNoCORS:
		return "no-cors"
	case ModeNavigate:
		return "navigate"
	default:
		return "cors"
	}
}

// modeFor maps the page's Sec-Fetch-Mode to the mode a plain fetch(request)
// would use. Clients that send no fetch metadata are treated as navigations.
func modeFor(req Request) FetchMode {
	switch req.Mode {
	case "cors":
		return ModeCORS
	case "no-cors":
		return ModeNoCORS
	default:
		return ModeNavigate
	}
}

// ErrCORSBlocked is the cause of a FetchError when a cross-origin response
// did not grant read access.
var ErrCORSBlocked = errors.New("cross-origin read blocked")

// FetchError is returned when a fetch produced no usable response.
type FetchError struct {
	URL  string
	Mode FetchMode
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s (%s): %v", e.URL, e.Mode, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Fetcher performs network requests on behalf of the strategies.
type Fetcher interface {
	Fetch(ctx context.Context, req Request, mode FetchMode) (*Response, error)
}

type httpFetcher struct {
	client *http.Client
	origin string
}

// NewHTTPFetcher returns a Fetcher that emulates browser fetch semantics for
// pages served from origin (scheme://host).
func NewHTTPFetcher(client *http.Client, origin string) Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &httpFetcher{client: client, origin: strings.TrimRight(origin, "/")}
}

var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

func (f *httpFetcher) Fetch(ctx context.Context, r Request, mode FetchMode) (*Response, error) {
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if len(r.Body) > 0 {
		body = bytes.NewReader(r.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.URL.String(), body)
	if err != nil {
		return nil, &FetchError{URL: r.URL.String(), Mode: mode, Err: err}
	}
	copyHeaders(req.Header, r.Header)
	for _, h := range hopHeaders {
		req.Header.Del(h)
	}
	req.Header.Set("Accept-Encoding", "identity")

	cross := !sameOrigin(r.URL, f.origin)
	if cross && mode != ModeNavigate {
		req.Header.Set("Origin", f.origin)
	}
	if mode == ModeNoCORS {
		req.Header.Del("Cookie")
		req.Header.Del("Authorization")
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: r.URL.String(), Mode: mode, Err: err}
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchError{URL: r.URL.String(), Mode: mode, Err: err}
	}

	out := &Response{
		Status:     resp.StatusCode,
		StatusText: http.StatusText(resp.StatusCode),
		Header:     cloneHeader(resp.Header),
		Body:       b,
		Type:       TypeBasic,
	}
	out.Header.Del("Content-Length")

	if !cross || mode == ModeNavigate {
		return out, nil
	}
	if mode == ModeNoCORS {
		return &Response{Type: TypeOpaque, Header: make(http.Header), Body: b}, nil
	}
	if !corsAllowed(resp.Header.Get("Access-Control-Allow-Origin"), f.origin) {
		return nil, &FetchError{URL: r.URL.String(), Mode: mode, Err: ErrCORSBlocked}
	}
	out.Type = TypeCORS
	return out, nil
}

func corsAllowed(acao, origin string) bool {
	acao = strings.TrimSpace(acao)
	return acao == "*" || strings.EqualFold(strings.TrimRight(acao, "/"), origin)
}

func sameOrigin(u *url.URL, origin string) bool {
	o, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return originOf(u.Scheme, u.Host) == originOf(o.Scheme, o.Host)
}

func copyHeaders(dst, src http.Header) {
	for k, vs := range src {
		if strings.EqualFold(k, "Host") {
			continue
		}
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
}

func cloneHeader(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for k, vs := range h {
		vv := make([]string, len(vs))
		copy(vv, vs)
		out[k] = vv
	}
	return out
}
