package wavecache

import (
	"context"
	"net/http"

	"go.uber.org/zap"
)

// imageHybrid serves station logos and flag icons. Many of those hosts refuse
// CORS, so an opaque response is accepted as a cache unit even though its age
// can never be known.
func (s *Service) imageHybrid(ctx context.Context, req Request, p Policy) (Result, error) {
	c, err := s.storage.Open(ctx, p.Store)
	if err != nil {
		s.log.Warn("open store failed", zap.String("store", p.Store), zap.Error(err))
	}
	key := req.Key()

	var expired *Response
	if c != nil {
		if cached, ok := c.Match(ctx, key); ok {
			if fresh, keep := s.imageEntryValid(cached, p); keep {
				return Result{Source: SourceCache, Response: fresh}, nil
			}
			expired = cached
			if _, err := c.Delete(ctx, key); err != nil {
				s.log.Warn("delete expired image failed", zap.String("key", key), zap.Error(err))
			}
		}
	}

	resp, err := s.fetch(ctx, req, ModeCORS, ClassImage)
	if err != nil {
		s.log.Debug("image fetch failed, retrying opaque", zap.String("url", req.URL.String()), zap.Error(err))
		opaque, retryErr := s.fetch(ctx, req, ModeNoCORS, ClassImage)
		if retryErr == nil {
			s.storeImage(ctx, c, key, opaque, p)
			if !opaque.Opaque() {
				return Result{Source: SourceNetwork, Response: opaque}, nil
			}
			return Result{Source: SourceOpaque, Response: opaque}, nil
		}
		if expired != nil {
			return Result{Source: SourceStale, Response: expired}, nil
		}
		return Result{Source: SourceSynthetic, Response: emptyNotFound()}, nil
	}

	s.storeImage(ctx, c, key, resp, p)
	return Result{Source: SourceNetwork, Response: resp}, nil
}

// storeImage caches a 200 response with a date stamp and an opaque one as is.
// Anything else is returned to the page uncached.
func (s *Service) storeImage(ctx context.Context, c Cache, key string, resp *Response, p Policy) {
	if c == nil {
		return
	}
	switch {
	case resp.Opaque():
		s.putImage(ctx, c, key, resp.Clone(), p)
	case resp.Status == http.StatusOK:
		stamped, err := stampResponse(resp, s.now())
		if err != nil {
			s.log.Debug("stamp image failed, not caching", zap.String("key", key), zap.Error(err))
			return
		}
		s.putImage(ctx, c, key, stamped, p)
	}
}

// imageEntryValid decides whether a stored image may be served.
func (s *Service) imageEntryValid(cached *Response, p Policy) (*Response, bool) {
	if cached.Opaque() {
		return cached, true
	}
	t, st := storedAt(cached)
	switch st {
	case stampMissing:
		return cached, true
	case stampInvalid:
		return nil, false
	}
	if p.MaxAge <= 0 || s.now().Sub(t) < p.MaxAge {
		return cached, true
	}
	return nil, false
}

func (s *Service) putImage(ctx context.Context, c Cache, key string, resp *Response, p Policy) {
	if !s.put(ctx, c, key, resp) {
		return
	}
	if p.MaxEntries > 0 {
		s.trimAsync(c, p.MaxEntries)
	}
}
