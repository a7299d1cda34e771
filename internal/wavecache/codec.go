package wavecache

import (
	"bytes"
	"encoding/gob"
	"net/http"

	"github.com/klauspost/compress/zstd"
)

// storedEntry is the at-rest form of a Response.
type storedEntry struct {
	Status     int
	StatusText string
	Header     http.Header
	Type       ResponseType
	Body       []byte
	Compressed bool
}

// Bodies smaller than this are stored raw; zstd framing would not pay off.
const compressMinBody = 512

var (
	zenc, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	zdec, _ = zstd.NewReader(nil)
)

func encodeEntry(resp *Response) ([]byte, error) {
	ent := storedEntry{
		Status:     resp.Status,
		StatusText: resp.StatusText,
		Header:     resp.Header,
		Type:       resp.Type,
		Body:       resp.Body,
	}
	if len(resp.Body) >= compressMinBody {
		ent.Body = zenc.EncodeAll(resp.Body, make([]byte, 0, len(resp.Body)/2))
		ent.Compressed = true
	}
	return encodeGob(ent)
}

func decodeEntry(b []byte) (*Response, error) {
	var ent storedEntry
	if err := decodeGob(b, &ent); err != nil {
		return nil, err
	}
	body := ent.Body
	if ent.Compressed {
		var err error
		body, err = zdec.DecodeAll(ent.Body, nil)
		if err != nil {
			return nil, err
		}
	}
	if ent.Header == nil {
		ent.Header = make(http.Header)
	}
	return &Response{
		Status:     ent.Status,
		StatusText: ent.StatusText,
		Header:     ent.Header,
		Body:       body,
		Type:       ent.Type,
	}, nil
}

func encodeGob(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGob(b []byte, v any) error {
	dec := gob.NewDecoder(bytes.NewReader(b))
	return dec.Decode(v)
}

func init() {
	// Ensure http.Header is registered for gob.
	gob.Register(http.Header{})
}
