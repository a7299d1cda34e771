package wavecache

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

type Service struct {
	cfg Config

	names      StoreNames
	classifier Classifier
	policies   map[Class]Policy

	storage Storage
	fetcher Fetcher
	now     func() time.Time
	log     *zap.Logger

	lifecycle *Lifecycle

	baseCtx context.Context
	cancel  context.CancelFunc

	bgSem    chan struct{}
	bgMu     sync.Mutex
	bgClosed bool
	bgWg     sync.WaitGroup // revalidations and trims
	wg       sync.WaitGroup // long-running loops

	trimMu sync.Mutex

	overflowLog *rateLimitedLogger

	metrics *metrics
	stats   *statsCollector
}

type Option func(*Service)

// WithStorage replaces the storage selected by cache.path.
func WithStorage(st Storage) Option { return func(s *Service) { s.storage = st } }

// WithFetcher replaces the HTTP fetcher.
func WithFetcher(f Fetcher) Option { return func(s *Service) { s.fetcher = f } }

// WithClock replaces time.Now for expiration decisions.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func WithLogger(l *zap.Logger) Option { return func(s *Service) { s.log = l } }

func NewService(cfg Config, opts ...Option) (*Service, error) {
	if cfg.origin == nil {
		if err := cfg.compile(); err != nil {
			return nil, err
		}
	}
	names := NewStoreNames(cfg.Cache.Prefix, cfg.Cache.Version)

	s := &Service{
		cfg:        cfg,
		names:      names,
		classifier: NewClassifier(cfg),
		policies:   policiesFor(cfg, names),
		now:        time.Now,
		log:        zap.NewNop(),
		bgSem:      make(chan struct{}, 32),
		stats:      newStatsCollector(),
	}
	for _, o := range opts {
		o(s)
	}
	s.overflowLog = newRateLimitedLogger(s.log, 1*time.Minute)

	if s.storage == nil {
		if cfg.Cache.Path != "" {
			st, err := OpenLevelStorage(cfg.Cache.Path)
			if err != nil {
				return nil, err
			}
			s.storage = st
		} else {
			s.storage = NewMemoryStorage()
		}
	}
	if s.fetcher == nil {
		s.fetcher = NewHTTPFetcher(&http.Client{Timeout: 30 * time.Second}, s.classifier.Origin)
	}

	m, err := newMetrics(cfg.Metrics.Enabled)
	if err != nil {
		return nil, err
	}
	s.metrics = m

	s.baseCtx, s.cancel = context.WithCancel(context.Background())
	s.lifecycle = newLifecycle(s)
	return s, nil
}

// Start installs and, when installation succeeds, activates the worker.
func (s *Service) Start(ctx context.Context) error {
	if s.cfg.logStatsEveryDur > 0 {
		if !s.spawn(&s.wg, func() { s.statsLoop(s.cfg.logStatsEveryDur) }) {
			return ErrStorageClosed
		}
	}
	return s.lifecycle.Run(ctx)
}

func (s *Service) Close() {
	s.bgMu.Lock()
	s.bgClosed = true
	s.bgMu.Unlock()

	s.cancel()
	s.bgWg.Wait()
	s.wg.Wait()
	if err := s.storage.Close(); err != nil {
		s.log.Warn("close storage", zap.Error(err))
	}
}

// WaitIdle blocks until all background revalidations and trims finished.
func (s *Service) WaitIdle() {
	s.bgWg.Wait()
}

func (s *Service) Names() StoreNames { return s.names }

func (s *Service) Lifecycle() *Lifecycle { return s.lifecycle }

func (s *Service) Storage() Storage { return s.storage }

func (s *Service) spawn(wg *sync.WaitGroup, fn func()) bool {
	s.bgMu.Lock()
	defer s.bgMu.Unlock()
	if s.bgClosed {
		return false
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		fn()
	}()
	return true
}

// goBackground runs fn detached from the request that triggered it. At most
// cap(bgSem) tasks run at once; the rest queue.
func (s *Service) goBackground(name string, fn func(ctx context.Context)) bool {
	return s.spawn(&s.bgWg, func() {
		select {
		case s.bgSem <- struct{}{}:
		default:
			s.overflowLog.Warn("background tasks saturated, queueing", zap.String("task", name))
			select {
			case s.bgSem <- struct{}{}:
			case <-s.baseCtx.Done():
				fn(s.baseCtx)
				return
			}
		}
		defer func() { <-s.bgSem }()

		ctx, cancel := context.WithTimeout(s.baseCtx, 30*time.Second)
		defer cancel()
		fn(ctx)
	})
}

func (s *Service) trimAsync(c Cache, maxEntries int) {
	s.goBackground("trim", func(ctx context.Context) {
		s.trimMu.Lock()
		defer s.trimMu.Unlock()
		n, err := trimCache(ctx, c, maxEntries)
		if err != nil {
			s.log.Warn("trim failed", zap.String("store", c.Name()), zap.Error(err))
		}
		if n > 0 {
			s.metrics.observeTrim(c.Name(), n)
			s.log.Debug("trimmed store", zap.String("store", c.Name()), zap.Int("deleted", n))
		}
	})
}

// put stores resp and reports whether it was written. Failures are logged and
// never reach the response path.
func (s *Service) put(ctx context.Context, c Cache, key string, resp *Response) bool {
	if s.cfg.maxBody > 0 && int64(len(resp.Body)) > s.cfg.maxBody {
		s.log.Debug("response too large to cache", zap.String("key", key), zap.Int("bytes", len(resp.Body)))
		return false
	}
	if err := c.Put(ctx, key, resp); err != nil {
		if errors.Is(err, ErrStoreDeleted) || errors.Is(err, ErrStorageClosed) {
			s.log.Debug("dropped write to retired store", zap.String("store", c.Name()), zap.String("key", key))
		} else {
			s.log.Warn("cache put failed", zap.String("store", c.Name()), zap.String("key", key), zap.Error(err))
		}
		return false
	}
	return true
}

func (s *Service) fetch(ctx context.Context, req Request, mode FetchMode, class Class) (*Response, error) {
	start := time.Now()
	resp, err := s.fetcher.Fetch(ctx, req, mode)
	s.metrics.observeFetch(class, mode, err, time.Since(start))
	return resp, err
}

// ---- HTTP intercept ----

func (s *Service) handle(w http.ResponseWriter, r *http.Request) {
	req, err := requestFromHTTP(r, s.cfg.origin)
	if err != nil {
		setWavecacheHeaders(w.Header(), "bad-request", "")
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	res, err := s.Dispatch(r.Context(), req)
	if err != nil {
		setWavecacheHeaders(w.Header(), "bad-gateway", res.Class.String())
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	s.writeResult(w, res)
}

// requestFromHTTP builds the request descriptor. Proxy-form requests keep
// their absolute URL; origin-form requests resolve against the app origin.
func requestFromHTTP(r *http.Request, origin *url.URL) (Request, error) {
	var u *url.URL
	if r.URL.IsAbs() {
		c := *r.URL
		u = &c
	} else {
		u = origin.ResolveReference(&url.URL{Path: r.URL.Path, RawPath: r.URL.RawPath, RawQuery: r.URL.RawQuery})
	}
	req := Request{
		Method:      r.Method,
		URL:         u,
		Destination: r.Header.Get("Sec-Fetch-Dest"),
		Mode:        r.Header.Get("Sec-Fetch-Mode"),
		Header:      cloneHeader(r.Header),
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead && r.Body != nil {
		b, err := io.ReadAll(io.LimitReader(r.Body, 16<<20))
		if err != nil {
			return Request{}, err
		}
		req.Body = b
	}
	return req, nil
}

func (s *Service) writeResult(w http.ResponseWriter, res Result) {
	resp := res.Response
	for k, vs := range resp.Header {
		if strings.EqualFold(k, "X-Wavecache") || strings.EqualFold(k, "X-Wavecache-Class") {
			continue
		}
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	setWavecacheHeaders(w.Header(), res.Source.String(), res.Class.String())
	status := resp.Status
	if resp.Opaque() {
		// Opaque bodies are relayed for display only; the real status is unknown.
		w.Header().Set("X-Wavecache-Type", TypeOpaque.String())
		ensureExposedHeader(w.Header(), "X-Wavecache-Type")
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(resp.Body)

	switch res.Source {
	case SourceCache, SourceNetwork:
		s.stats.Observe(len(resp.Body))
	}
}

func setWavecacheHeaders(h http.Header, source, class string) {
	if source != "" {
		h.Set("X-Wavecache", source)
	}
	if class != "" {
		h.Set("X-Wavecache-Class", class)
	}
	// If this is used from a browser in a CORS context, custom headers are not
	// readable by JS unless explicitly exposed.
	ensureExposedHeader(h, "X-Wavecache")
	ensureExposedHeader(h, "X-Wavecache-Class")
}

func ensureExposedHeader(h http.Header, name string) {
	if name == "" {
		return
	}

	const expose = "Access-Control-Expose-Headers"
	cur := h.Values(expose)
	if len(cur) == 0 {
		h.Set(expose, name)
		return
	}

	// Merge into a single comma-separated value.
	merged := strings.Join(cur, ",")
	for _, part := range strings.Split(merged, ",") {
		if strings.EqualFold(strings.TrimSpace(part), name) {
			return
		}
	}

	h.Set(expose, strings.TrimSpace(merged)+", "+name)
}
