package wavecache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type State int

const (
	StateNew State = iota
	StateInstalling
	StateInstalled
	StateActivating
	StateActivated
)

func (s State) String() string {
	switch s {
	case StateInstalling:
		return "installing"
	case StateInstalled:
		return "installed"
	case StateActivating:
		return "activating"
	case StateActivated:
		return "activated"
	default:
		return "new"
	}
}

// Control messages accepted from the page.
const (
	MessageSkipWaiting = "skip-waiting"
	MessageClearCache  = "clear-cache"
)

var ErrUnknownMessage = errors.New("unknown control message")

// Lifecycle drives install, activation and version cutover. Until it reaches
// StateActivated the service does not intercept: requests go straight to the
// network.
type Lifecycle struct {
	s  *Service
	id string

	mu          sync.Mutex
	state       State
	skipWaiting bool
	controlling atomic.Bool
}

func newLifecycle(s *Service) *Lifecycle {
	return &Lifecycle{s: s, id: uuid.NewString()}
}

// ID identifies this worker instance in logs and status output.
func (l *Lifecycle) ID() string { return l.id }

func (l *Lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Controlling reports whether requests are routed through the strategies.
func (l *Lifecycle) Controlling() bool { return l.controlling.Load() }

func (l *Lifecycle) setState(st State) {
	l.mu.Lock()
	l.state = st
	l.mu.Unlock()
	l.s.log.Info("worker state", zap.String("worker", l.id), zap.String("state", st.String()))
}

// Run installs, then activates when installation asked to skip waiting. An
// install failure is logged and leaves the worker waiting for a
// skip-waiting message.
func (l *Lifecycle) Run(ctx context.Context) error {
	if err := l.Install(ctx); err != nil {
		l.s.log.Error("install failed, worker is waiting", zap.String("worker", l.id), zap.Error(err))
		return nil
	}
	l.mu.Lock()
	skip := l.skipWaiting
	l.mu.Unlock()
	if !skip {
		return nil
	}
	return l.Activate(ctx)
}

// Install precaches every static asset in one batch: either all are stored
// or none are.
func (l *Lifecycle) Install(ctx context.Context) error {
	l.setState(StateInstalling)
	s := l.s

	reqs, err := l.precacheRequests()
	if err != nil {
		l.setState(StateInstalled)
		return err
	}

	c, err := s.storage.Open(ctx, s.names.Static)
	if err != nil {
		l.setState(StateInstalled)
		return fmt.Errorf("open %s: %w", s.names.Static, err)
	}

	resps := make([]*Response, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	for i, req := range reqs {
		i, req := i, req
		g.Go(func() error {
			resp, err := s.fetch(gctx, req, ModeCORS, ClassStatic)
			if err != nil {
				return err
			}
			if resp.Opaque() || resp.Status < 200 || resp.Status > 299 {
				return fmt.Errorf("precache %s: status %d", req.URL, resp.Status)
			}
			resps[i] = resp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		l.setState(StateInstalled)
		return err
	}

	for i, req := range reqs {
		if err := c.Put(ctx, req.Key(), resps[i]); err != nil {
			l.rollback(ctx, c, reqs[:i])
			l.setState(StateInstalled)
			return fmt.Errorf("store %s: %w", req.URL, err)
		}
	}
	s.log.Info("static assets cached", zap.String("store", s.names.Static), zap.Int("assets", len(reqs)))

	l.mu.Lock()
	l.skipWaiting = true
	l.mu.Unlock()
	l.setState(StateInstalled)
	return nil
}

// rollback removes assets already written by a failed install.
func (l *Lifecycle) rollback(ctx context.Context, c Cache, written []Request) {
	for _, req := range written {
		if _, err := c.Delete(ctx, req.Key()); err != nil {
			l.s.log.Warn("rollback precached asset failed", zap.String("key", req.Key()), zap.Error(err))
		}
	}
}

func (l *Lifecycle) precacheRequests() ([]Request, error) {
	origin := l.s.cfg.origin
	out := make([]Request, 0, len(l.s.cfg.Static.Assets))
	for _, a := range l.s.cfg.Static.Assets {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		ref, err := url.Parse(a)
		if err != nil {
			return nil, fmt.Errorf("static asset %q: %w", a, err)
		}
		u := origin.ResolveReference(ref)
		out = append(out, Request{Method: http.MethodGet, URL: u, Header: make(http.Header)})
	}
	return out, nil
}

// Activate deletes stores left behind by previous versions and starts
// intercepting.
func (l *Lifecycle) Activate(ctx context.Context) error {
	l.mu.Lock()
	if l.state == StateActivating || l.state == StateActivated {
		l.mu.Unlock()
		return nil
	}
	l.mu.Unlock()
	l.setState(StateActivating)

	s := l.s
	names, err := s.storage.Names(ctx)
	if err != nil {
		l.setState(StateInstalled)
		return fmt.Errorf("list stores: %w", err)
	}
	for _, name := range names {
		if !s.names.Owned(name) || s.names.Current(name) {
			continue
		}
		if _, err := s.storage.Delete(ctx, name); err != nil {
			l.setState(StateInstalled)
			return fmt.Errorf("delete %s: %w", name, err)
		}
		s.log.Info("deleted old store", zap.String("store", name))
	}

	l.controlling.Store(true)
	l.setState(StateActivated)
	return nil
}

// SkipWaiting activates an installed worker immediately.
func (l *Lifecycle) SkipWaiting(ctx context.Context) error {
	l.mu.Lock()
	l.skipWaiting = true
	st := l.state
	l.mu.Unlock()
	if st != StateInstalled {
		return nil
	}
	return l.Activate(ctx)
}

// ClearCaches deletes every store under the application prefix, current
// ones included. It returns how many stores were deleted.
func (l *Lifecycle) ClearCaches(ctx context.Context) (int, error) {
	s := l.s
	names, err := s.storage.Names(ctx)
	if err != nil {
		return 0, fmt.Errorf("list stores: %w", err)
	}
	n := 0
	for _, name := range names {
		if !s.names.Owned(name) {
			continue
		}
		ok, err := s.storage.Delete(ctx, name)
		if err != nil {
			return n, fmt.Errorf("delete %s: %w", name, err)
		}
		if ok {
			n++
		}
	}
	s.log.Info("cleared caches", zap.Int("stores", n))
	return n, nil
}

// HandleMessage applies a control message. Both "skip-waiting" and the
// page's "SKIP_WAITING" spelling are accepted.
func (l *Lifecycle) HandleMessage(ctx context.Context, msg string) error {
	switch normalizeMessage(msg) {
	case MessageSkipWaiting:
		return l.SkipWaiting(ctx)
	case MessageClearCache:
		_, err := l.ClearCaches(ctx)
		return err
	default:
		return fmt.Errorf("%w: %q", ErrUnknownMessage, msg)
	}
}

func normalizeMessage(msg string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(msg)), "_", "-")
}

type StoreStatus struct {
	Name    string `json:"name"`
	Entries int    `json:"entries"`
	Current bool   `json:"current"`
}

type Status struct {
	Worker      string        `json:"worker"`
	Version     string        `json:"version"`
	State       string        `json:"state"`
	Controlling bool          `json:"controlling"`
	Stores      []StoreStatus `json:"stores"`
}

// Status reports the worker state and every store under the prefix.
func (l *Lifecycle) Status(ctx context.Context) (Status, error) {
	s := l.s
	out := Status{
		Worker:      l.id,
		Version:     s.cfg.Cache.Version,
		State:       l.State().String(),
		Controlling: l.Controlling(),
		Stores:      []StoreStatus{},
	}
	names, err := s.storage.Names(ctx)
	if err != nil {
		return out, err
	}
	for _, name := range names {
		if !s.names.Owned(name) {
			continue
		}
		c, err := s.storage.Open(ctx, name)
		if err != nil {
			return out, err
		}
		keys, err := c.Keys(ctx)
		if err != nil {
			return out, err
		}
		out.Stores = append(out.Stores, StoreStatus{Name: name, Entries: len(keys), Current: s.names.Current(name)})
	}
	return out, nil
}
