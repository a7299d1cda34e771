package wavecache

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
)

type statsCollector struct {
	totalResponses atomic.Uint64
	totalRespBytes atomic.Uint64
	minRespBytes   atomic.Uint64
	maxRespBytes   atomic.Uint64
}

func newStatsCollector() *statsCollector {
	s := &statsCollector{}
	s.minRespBytes.Store(math.MaxUint64)
	return s
}

func (s *statsCollector) Observe(respBytes int) {
	if respBytes < 0 {
		respBytes = 0
	}
	n := uint64(respBytes)

	s.totalResponses.Add(1)
	s.totalRespBytes.Add(n)

	for {
		cur := s.minRespBytes.Load()
		if n >= cur || s.minRespBytes.CompareAndSwap(cur, n) {
			break
		}
	}
	for {
		cur := s.maxRespBytes.Load()
		if n <= cur || s.maxRespBytes.CompareAndSwap(cur, n) {
			break
		}
	}
}

type statsSnapshot struct {
	TotalResponses uint64
	TotalRespBytes uint64
	MinRespBytes   uint64
	MaxRespBytes   uint64
	AvgRespBytes   uint64
}

func (s *statsCollector) Snapshot() statsSnapshot {
	count := s.totalResponses.Load()
	if count == 0 {
		return statsSnapshot{}
	}
	total := s.totalRespBytes.Load()
	minv := s.minRespBytes.Load()
	if minv == math.MaxUint64 {
		minv = 0
	}
	return statsSnapshot{
		TotalResponses: count,
		TotalRespBytes: total,
		MinRespBytes:   minv,
		MaxRespBytes:   s.maxRespBytes.Load(),
		AvgRespBytes:   total / count,
	}
}

func (s *Service) statsLoop(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-s.baseCtx.Done():
			return
		case <-t.C:
			s.logStats(s.baseCtx)
		}
	}
}

func (s *Service) logStats(ctx context.Context) {
	ss := s.stats.Snapshot()
	fields := []zap.Field{
		zap.String("worker", s.lifecycle.ID()),
		zap.Uint64("responses", ss.TotalResponses),
		zap.String("respMin", humanize.Bytes(ss.MinRespBytes)),
		zap.String("respAvg", humanize.Bytes(ss.AvgRespBytes)),
		zap.String("respMax", humanize.Bytes(ss.MaxRespBytes)),
	}
	// Listing first keeps the loop from recreating a cleared store.
	names, err := s.storage.Names(ctx)
	if err != nil {
		s.log.Warn("list stores", zap.Error(err))
	}
	for _, name := range names {
		if !s.names.Owned(name) {
			continue
		}
		n, err := s.entryCount(ctx, name)
		if err != nil {
			continue
		}
		fields = append(fields, zap.Int(name, n))
	}
	if rss, ok := processRSSBytes(); ok {
		fields = append(fields, zap.String("rss", humanize.Bytes(rss)))
	}
	s.log.Info("cache stats", fields...)
}

func (s *Service) entryCount(ctx context.Context, name string) (int, error) {
	c, err := s.storage.Open(ctx, name)
	if err != nil {
		return 0, err
	}
	keys, err := c.Keys(ctx)
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}
