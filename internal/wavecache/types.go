package wavecache

import (
	"net/http"
	"net/url"
	"strings"
)

// Request describes an intercepted fetch. It is built once per incoming HTTP
// request and never mutated afterwards.
type Request struct {
	Method string
	URL    *url.URL

	// Destination mirrors the Sec-Fetch-Dest request header ("image",
	// "document", "empty", ...).
	Destination string
	// Mode mirrors the Sec-Fetch-Mode request header.
	Mode string

	Header http.Header
	Body   []byte
}

// Key returns the canonical request identity used as the cache key.
func (r Request) Key() string {
	u := *r.URL
	u.Fragment = ""
	u.RawFragment = ""
	m := r.Method
	if m == "" {
		m = http.MethodGet
	}
	return m + " " + u.String()
}

// AcceptsHTML reports whether the request asks for an HTML document.
func (r Request) AcceptsHTML() bool {
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

// ResponseType mirrors the fetch response types the layer cares about.
type ResponseType int

const (
	// TypeDefault is a response synthesized locally.
	TypeDefault ResponseType = iota
	// TypeBasic is a same-origin network response.
	TypeBasic
	// TypeCORS is a cross-origin response the origin allowed us to read.
	TypeCORS
	// TypeOpaque is a cross-origin no-cors response: status 0, no readable
	// headers. The body is kept only so it can be relayed for display.
	TypeOpaque
)

func (t ResponseType) String() string {
	switch t {
	case TypeBasic:
		return "basic"
	case TypeCORS:
		return "cors"
	case TypeOpaque:
		return "opaque"
	default:
		return "default"
	}
}

type Response struct {
	Status     int
	StatusText string
	Header     http.Header
	Body       []byte
	Type       ResponseType
}

// Opaque reports whether the response is CORS-blind.
func (r *Response) Opaque() bool {
	return r.Type == TypeOpaque || r.Status == 0
}

// Clone returns a deep copy so the stored and the returned response never
// share header maps or body buffers.
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	out := *r
	out.Header = cloneHeader(r.Header)
	if r.Body != nil {
		out.Body = make([]byte, len(r.Body))
		copy(out.Body, r.Body)
	}
	return &out
}

// Class is the caching-policy category of a request.
type Class int

const (
	ClassOther Class = iota
	ClassStatic
	ClassImage
	ClassAPI
)

func (c Class) String() string {
	switch c {
	case ClassStatic:
		return "static"
	case ClassImage:
		return "image"
	case ClassAPI:
		return "api"
	default:
		return "other"
	}
}

// Source records which branch of a strategy produced the response.
type Source int

const (
	// SourceNetwork is a live network response.
	SourceNetwork Source = iota
	// SourceCache is a valid stored entry.
	SourceCache
	// SourceStale is an expired or over-age entry used because the network failed.
	SourceStale
	// SourceOpaque is a live response obtained by the no-cors retry.
	SourceOpaque
	// SourceSynthetic is a locally built fallback (offline page, 404, 503).
	SourceSynthetic
	// SourcePassthrough is a response fetched without any caching policy.
	SourcePassthrough
)

func (s Source) String() string {
	switch s {
	case SourceNetwork:
		return "fresh"
	case SourceCache:
		return "cached"
	case SourceStale:
		return "stale"
	case SourceOpaque:
		return "degraded-opaque"
	case SourceSynthetic:
		return "synthetic"
	case SourcePassthrough:
		return "passthrough"
	default:
		return "unknown"
	}
}

// Result is what a strategy hands back to the dispatcher.
type Result struct {
	Class    Class
	Source   Source
	Response *Response
}
