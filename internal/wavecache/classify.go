package wavecache

import "strings"

// Classifier assigns a resource class to a request. It holds only immutable
// marker lists and is safe for concurrent use.
type Classifier struct {
	Origin           string   // scheme://host of the application
	StaticExtensions []string // e.g. ".html"
	ImageExtensions  []string // e.g. ".png"
	ImageMarkers     []string // substrings of the full URL, e.g. "favicon"
	APIHosts         []string // substrings of the hostname
	APIPathMarkers   []string // substrings of the path
}

// NewClassifier builds a classifier from compiled configuration.
func NewClassifier(cfg Config) Classifier {
	return Classifier{
		Origin:           originOf(cfg.origin.Scheme, cfg.origin.Host),
		StaticExtensions: lowerAll(cfg.Static.Extensions),
		ImageExtensions:  lowerAll(cfg.Images.Extensions),
		ImageMarkers:     cfg.Images.Markers,
		APIHosts:         lowerAll(cfg.API.Hosts),
		APIPathMarkers:   cfg.API.PathMarkers,
	}
}

// Classify checks static, image and api in that order; first match wins.
func (c Classifier) Classify(req Request) Class {
	switch {
	case c.IsStatic(req):
		return ClassStatic
	case c.IsImage(req):
		return ClassImage
	case c.IsAPI(req):
		return ClassAPI
	default:
		return ClassOther
	}
}

func (c Classifier) IsStatic(req Request) bool {
	if req.URL == nil || originOf(req.URL.Scheme, req.URL.Host) != c.Origin {
		return false
	}
	p := req.URL.Path
	if p == "/" {
		return true
	}
	return hasAnySuffix(p, c.StaticExtensions)
}

func (c Classifier) IsImage(req Request) bool {
	if req.Destination == "image" {
		return true
	}
	if req.URL == nil {
		return false
	}
	if hasAnySuffix(req.URL.Path, c.ImageExtensions) {
		return true
	}
	full := req.URL.String()
	for _, m := range c.ImageMarkers {
		if m != "" && strings.Contains(full, m) {
			return true
		}
	}
	return false
}

func (c Classifier) IsAPI(req Request) bool {
	if req.URL == nil {
		return false
	}
	host := strings.ToLower(req.URL.Hostname())
	for _, h := range c.APIHosts {
		if h != "" && strings.Contains(host, h) {
			return true
		}
	}
	for _, m := range c.APIPathMarkers {
		if m != "" && strings.Contains(req.URL.Path, m) {
			return true
		}
	}
	return false
}

// originOf renders scheme://host with the scheme's default port dropped.
func originOf(scheme, host string) string {
	scheme, host = strings.ToLower(scheme), strings.ToLower(host)
	switch {
	case scheme == "https" && strings.HasSuffix(host, ":443"):
		host = strings.TrimSuffix(host, ":443")
	case scheme == "http" && strings.HasSuffix(host, ":80"):
		host = strings.TrimSuffix(host, ":80")
	}
	return scheme + "://" + host
}

func hasAnySuffix(s string, suffixes []string) bool {
	s = strings.ToLower(s)
	for _, suf := range suffixes {
		if suf != "" && strings.HasSuffix(s, suf) {
			return true
		}
	}
	return false
}

func lowerAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}
