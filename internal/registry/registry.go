// Package registry maintains one live remote-debugging connection and page
// handle per configured AI service for the lifetime of the process.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/zulandar/aichorus/internal/browser"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// DefaultDialTimeout bounds each connection attempt in ConnectAll.
const DefaultDialTimeout = 30 * time.Second

// ErrUnavailable means the service has no live page: its connection never
// succeeded, its page was closed, or the registry was torn down.
var ErrUnavailable = errors.New("registry: service unavailable")

// Service identifies one configured service and its debug endpoint.
type Service struct {
	Name     string
	Endpoint string
}

// Status is a point-in-time view of one registry entry.
type Status struct {
	Name      string `json:"name"`
	Endpoint  string `json:"endpoint"`
	Connected bool   `json:"connected"`
	Error     string `json:"error,omitempty"`
}

// entry holds the ownership chain for one service. page is only exposed
// through Page/Acquire and is dropped for good once it is seen closed.
type entry struct {
	name     string
	endpoint string
	conn     browser.Conn
	page     browser.Page
	connErr  error
}

// Registry is the explicitly owned connection table. Create it with New,
// populate with ConnectAll at startup and release with DisconnectAll.
type Registry struct {
	dialer      browser.Dialer
	logger      *zap.Logger
	dialTimeout time.Duration

	mu      sync.RWMutex
	entries map[string]*entry
	order   []string
	// locks serialize page use per service and outlive reconnects.
	locks map[string]*semaphore.Weighted
}

// Opts holds parameters for creating a Registry.
type Opts struct {
	Dialer      browser.Dialer
	Logger      *zap.Logger   // defaults to a no-op logger
	DialTimeout time.Duration // defaults to DefaultDialTimeout
}

// New creates an empty Registry.
func New(opts Opts) (*Registry, error) {
	if opts.Dialer == nil {
		return nil, fmt.Errorf("registry: dialer is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	dt := opts.DialTimeout
	if dt <= 0 {
		dt = DefaultDialTimeout
	}
	return &Registry{
		dialer:      opts.Dialer,
		logger:      logger.Named("registry"),
		dialTimeout: dt,
		entries:     make(map[string]*entry),
		locks:       make(map[string]*semaphore.Weighted),
	}, nil
}

// ConnectAll attempts one connection per service. A failed connection leaves
// the service present but unavailable; it is not retried until restart.
// The returned statuses follow the order of services.
func (r *Registry) ConnectAll(ctx context.Context, services []Service) []Status {
	for _, svc := range services {
		e := &entry{
			name:     svc.Name,
			endpoint: svc.Endpoint,
		}
		log := r.logger.With(zap.String("service", svc.Name), zap.String("endpoint", svc.Endpoint))
		log.Info("connecting")

		dialCtx, cancel := context.WithTimeout(ctx, r.dialTimeout)
		conn, err := r.dialer.Dial(dialCtx, svc.Endpoint)
		cancel()
		if err != nil {
			log.Error("connect failed; ensure Chrome runs with --remote-debugging-port", zap.Error(err))
			e.connErr = err
		} else {
			e.conn = conn
			e.page = conn.Page()
			log.Info("connected")
		}

		r.mu.Lock()
		if old, ok := r.entries[svc.Name]; ok && old.conn != nil {
			// Reconnecting a service replaces its handle; never keep two.
			if derr := old.conn.Disconnect(); derr != nil {
				log.Warn("disconnect previous connection", zap.Error(derr))
			}
		} else if !ok {
			r.order = append(r.order, svc.Name)
		}
		r.entries[svc.Name] = e
		r.mu.Unlock()
	}
	return r.Status()
}

// Page returns the live page for name. A missing, never-connected or closed
// page yields false; a closed page is released and never handed out again.
func (r *Registry) Page(name string) (browser.Page, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok || e.page == nil {
		return nil, false
	}
	if e.page.IsClosed() {
		r.logger.Warn("page was closed; marking unavailable", zap.String("service", name))
		e.page = nil
		e.connErr = browser.ErrClosed
		return nil, false
	}
	return e.page, true
}

// Acquire takes the service's exclusive lock and returns its live page. The
// caller must call release when done. Waiting for the lock is bounded by ctx.
func (r *Registry) Acquire(ctx context.Context, name string) (page browser.Page, release func(), err error) {
	sem := r.lockFor(name)
	if sem == nil {
		return nil, nil, fmt.Errorf("registry: %s: %w", name, ErrUnavailable)
	}
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, nil, fmt.Errorf("registry: acquire %s: %w", name, err)
	}
	release = func() { sem.Release(1) }

	page, ok := r.Page(name)
	if !ok {
		release()
		return nil, nil, fmt.Errorf("registry: %s: %w", name, ErrUnavailable)
	}
	return page, release, nil
}

// lockFor returns the service's lock, or nil when the service is unknown.
func (r *Registry) lockFor(name string) *semaphore.Weighted {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[name]; !ok {
		return nil
	}
	sem, exists := r.locks[name]
	if !exists {
		sem = semaphore.NewWeighted(1)
		r.locks[name] = sem
	}
	return sem
}

// Status reports every entry in registration order.
func (r *Registry) Status() []Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Status, 0, len(r.order))
	for _, name := range r.order {
		e := r.entries[name]
		st := Status{Name: e.name, Endpoint: e.endpoint, Connected: e.page != nil}
		if e.page != nil && e.page.IsClosed() {
			st.Connected = false
		}
		if !st.Connected && e.connErr != nil {
			st.Error = e.connErr.Error()
		}
		out = append(out, st)
	}
	return out
}

// Services returns the registered service names in registration order.
func (r *Registry) Services() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// DisconnectAll drops every live connection (the remote browsers keep
// running) and clears the registry. Safe to call more than once.
func (r *Registry) DisconnectAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for _, name := range r.order {
		e := r.entries[name]
		if e.conn == nil {
			continue
		}
		if err := e.conn.Disconnect(); err != nil {
			r.logger.Error("disconnect failed", zap.String("service", name), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		r.logger.Info("disconnected", zap.String("service", name))
	}
	r.entries = make(map[string]*entry)
	r.order = nil
	if len(errs) > 0 {
		return fmt.Errorf("registry: disconnect: %w", errors.Join(errs...))
	}
	return nil
}
