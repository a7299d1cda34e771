package wavecache

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// StrategyKind names the caching strategy a class is served with.
type StrategyKind int

const (
	StrategyNetworkFirst StrategyKind = iota
	StrategyCacheFirst
	StrategyImageHybrid
	StrategyStaleWhileRevalidate
)

func (k StrategyKind) String() string {
	switch k {
	case StrategyCacheFirst:
		return "cache-first"
	case StrategyImageHybrid:
		return "image-hybrid"
	case StrategyStaleWhileRevalidate:
		return "stale-while-revalidate"
	default:
		return "network-first"
	}
}

// Policy is the static caching configuration of one resource class.
type Policy struct {
	Strategy   StrategyKind
	Store      string
	MaxAge     time.Duration // zero means no age limit
	MaxEntries int           // zero means unbounded
}

func policiesFor(cfg Config, names StoreNames) map[Class]Policy {
	return map[Class]Policy{
		ClassStatic: {Strategy: StrategyCacheFirst, Store: names.Static},
		ClassImage: {
			Strategy:   StrategyImageHybrid,
			Store:      names.Images,
			MaxAge:     cfg.imageMaxAge,
			MaxEntries: cfg.Images.MaxEntries,
		},
		ClassAPI:   {Strategy: StrategyStaleWhileRevalidate, Store: names.API, MaxAge: cfg.apiMaxAge},
		ClassOther: {Strategy: StrategyNetworkFirst, Store: names.Static},
	}
}

// Policy returns the policy applied to class.
func (s *Service) Policy(class Class) Policy {
	return s.policies[class]
}

// Dispatch routes an intercepted request to the strategy of its class. An
// error means no response could be produced and the failure propagates to
// the page.
func (s *Service) Dispatch(ctx context.Context, req Request) (Result, error) {
	if req.Method != "" && req.Method != http.MethodGet {
		return s.passthrough(ctx, req, ClassOther)
	}
	class := s.classifier.Classify(req)
	if !s.lifecycle.Controlling() {
		return s.passthrough(ctx, req, class)
	}

	p := s.policies[class]
	var (
		res Result
		err error
	)
	switch p.Strategy {
	case StrategyCacheFirst:
		res, err = s.cacheFirst(ctx, req, p)
	case StrategyImageHybrid:
		res, err = s.imageHybrid(ctx, req, p)
	case StrategyStaleWhileRevalidate:
		res, err = s.staleWhileRevalidate(ctx, req, p)
	default:
		res, err = s.networkFirst(ctx, req, p)
	}
	res.Class = class
	if err != nil {
		s.metrics.observeFailure(class)
		s.log.Debug("strategy failed",
			zap.String("class", class.String()),
			zap.String("strategy", p.Strategy.String()),
			zap.String("url", req.URL.String()),
			zap.Error(err))
		return res, err
	}
	s.metrics.observeResult(res)
	return res, nil
}

func (s *Service) passthrough(ctx context.Context, req Request, class Class) (Result, error) {
	resp, err := s.fetch(ctx, req, modeFor(req), class)
	if err != nil {
		return Result{Class: class}, err
	}
	return Result{Class: class, Source: SourcePassthrough, Response: resp}, nil
}
