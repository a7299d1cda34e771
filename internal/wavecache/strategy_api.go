package wavecache

import (
	"context"
	"net/http"

	"go.uber.org/zap"
)

// staleWhileRevalidate serves station-directory JSON. The network fetch starts
// before the store is read and is never awaited when the store has an entry.
//
// Unless strictMaxAge is set, a hit is returned without looking at its age;
// freshness is bounded only by the refresh every read triggers.
func (s *Service) staleWhileRevalidate(ctx context.Context, req Request, p Policy) (Result, error) {
	c, err := s.storage.Open(ctx, p.Store)
	if err != nil {
		s.log.Warn("open store failed", zap.String("store", p.Store), zap.Error(err))
	}
	key := req.Key()

	update := s.revalidate(req, c, key)

	var cached *Response
	if c != nil {
		if hit, ok := c.Match(ctx, key); ok {
			cached = hit
		}
	}
	if cached != nil && s.apiEntryServable(cached, p) {
		return Result{Source: SourceCache, Response: cached}, nil
	}

	select {
	case resp := <-update:
		if resp != nil {
			return Result{Source: SourceNetwork, Response: resp}, nil
		}
	case <-ctx.Done():
	}
	if cached != nil {
		return Result{Source: SourceStale, Response: cached}, nil
	}
	return Result{Source: SourceSynthetic, Response: offlineJSON()}, nil
}

func (s *Service) apiEntryServable(cached *Response, p Policy) bool {
	if !s.cfg.API.StrictMaxAge || p.MaxAge <= 0 {
		return true
	}
	t, st := storedAt(cached)
	switch st {
	case stampMissing:
		return true
	case stampInvalid:
		return false
	}
	return s.now().Sub(t) < p.MaxAge
}

// revalidate fetches req in the background and, on a 200, overwrites the
// stored entry with a freshly stamped copy. The channel yields the live
// response, or nil when the network failed.
func (s *Service) revalidate(req Request, c Cache, key string) <-chan *Response {
	out := make(chan *Response, 1)
	started := s.goBackground("revalidate", func(ctx context.Context) {
		resp, err := s.fetch(ctx, req, modeFor(req), ClassAPI)
		if err != nil {
			s.log.Debug("background revalidation failed", zap.String("url", req.URL.String()), zap.Error(err))
			out <- nil
			return
		}
		if resp.Status == http.StatusOK && c != nil {
			stamped, err := stampResponse(resp, s.now())
			if err != nil {
				stamped = resp.Clone()
			}
			s.put(ctx, c, key, stamped)
		}
		out <- resp
	})
	if !started {
		out <- nil
	}
	return out
}
