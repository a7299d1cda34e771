package wavecache

import (
	"errors"
	"net/http"
	"time"
)

// CachedDateHeader records when an entry was written to a store.
const CachedDateHeader = "Sw-Cached-Date"

var errOpaqueStamp = errors.New("opaque response has no readable headers")

// stampResponse returns a copy of resp carrying the storage timestamp.
func stampResponse(resp *Response, at time.Time) (*Response, error) {
	if resp.Opaque() {
		return nil, errOpaqueStamp
	}
	out := resp.Clone()
	if out.Header == nil {
		out.Header = make(http.Header)
	}
	out.Header.Set(CachedDateHeader, at.UTC().Format(time.RFC3339Nano))
	return out, nil
}

type stampState int

const (
	stampMissing stampState = iota
	stampValid
	stampInvalid
)

// storedAt reads the storage timestamp of a stored response.
func storedAt(resp *Response) (time.Time, stampState) {
	v := resp.Header.Get(CachedDateHeader)
	if v == "" {
		return time.Time{}, stampMissing
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, stampInvalid
	}
	return t, stampValid
}
