package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dyike/tradecouncil/consts"
	"github.com/dyike/tradecouncil/models"
)

var (
	ErrNotFound = errors.New("session not found")
	ErrClosed   = errors.New("registry is closed")
)

// RunFunc drives a session to a terminal state.
type RunFunc func(ctx context.Context, s *models.Session) error

// Defaults fill the optional fields of AnalysisParams.
type Defaults struct {
	Analysts []consts.Role
	Rounds   int
}

type entry struct {
	session    *models.Session
	cancel     context.CancelFunc
	done       chan struct{}
	err        error
	finishedAt time.Time
}

// Registry owns every in-flight session and keeps finished ones around for
// the retention period so clients can still fetch their results.
type Registry struct {
	mu        sync.RWMutex
	entries   map[string]*entry
	defaults  Defaults
	retention time.Duration
	logger    *zap.Logger
	now       func() time.Time

	base   context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup
	closed bool
}

type RegistryOption func(*Registry)

func WithRegistryLogger(l *zap.Logger) RegistryOption {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

func NewRegistry(defaults Defaults, retention time.Duration, opts ...RegistryOption) *Registry {
	if len(defaults.Analysts) == 0 {
		defaults.Analysts = consts.Analysts
	}
	if defaults.Rounds < 1 {
		defaults.Rounds = 1
	}
	base, stop := context.WithCancel(context.Background())
	r := &Registry{
		entries:   make(map[string]*entry),
		defaults:  defaults,
		retention: retention,
		logger:    zap.NewNop(),
		now:       func() time.Time { return time.Now().UTC() },
		base:      base,
		stop:      stop,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewSession validates params and builds a pending session with a fresh id.
func (r *Registry) NewSession(p models.AnalysisParams) (*models.Session, error) {
	ticker := strings.TrimSpace(p.Ticker)
	if ticker == "" {
		return nil, fmt.Errorf("ticker is required")
	}
	date := r.now()
	if s := strings.TrimSpace(p.TradeDate); s != "" {
		parsed, err := time.Parse(models.DateLayout, s)
		if err != nil {
			return nil, fmt.Errorf("invalid trade_date: %w", err)
		}
		date = parsed
	}
	analysts := r.defaults.Analysts
	if len(p.Analysts) > 0 {
		parsed, err := consts.ParseAnalysts(p.Analysts)
		if err != nil {
			return nil, err
		}
		analysts = parsed
	}
	rounds := r.defaults.Rounds
	if p.MaxDebateRounds != 0 {
		rounds = p.MaxDebateRounds
	}
	return models.NewSession(uuid.NewString(), ticker, date, analysts, rounds)
}

// Start registers s and runs it in the background. The run is cancelled by
// Cancel, Remove or Close, never by the caller's request context.
func (r *Registry) Start(s *models.Session, run RunFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	if _, ok := r.entries[s.ID()]; ok {
		return fmt.Errorf("session %s already registered", s.ID())
	}
	ctx, cancel := context.WithCancel(r.base)
	e := &entry{session: s, cancel: cancel, done: make(chan struct{})}
	r.entries[s.ID()] = e

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer cancel()
		err := run(ctx, s)
		r.mu.Lock()
		e.err = err
		e.finishedAt = r.now()
		r.mu.Unlock()
		close(e.done)
		if err != nil {
			r.logger.Warn("session ended with error", zap.String("session", s.ID()), zap.Error(err))
		}
	}()
	return nil
}

func (r *Registry) lookup(id string) (*entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	return e, nil
}

func (r *Registry) Get(id string) (models.Snapshot, error) {
	e, err := r.lookup(id)
	if err != nil {
		return models.Snapshot{}, err
	}
	return e.session.Snapshot(), nil
}

// List returns snapshots of all registered sessions, newest first.
func (r *Registry) List() []models.Snapshot {
	r.mu.RLock()
	out := make([]models.Snapshot, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.session.Snapshot())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Cancel asks a running session to stop at its next turn boundary.
func (r *Registry) Cancel(id string) error {
	e, err := r.lookup(id)
	if err != nil {
		return err
	}
	e.cancel()
	return nil
}

// Remove cancels the session if needed and forgets it.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	e, ok := r.entries[id]
	if ok {
		delete(r.entries, id)
	}
	r.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	e.cancel()
	return nil
}

// Wait blocks until the session finishes or ctx ends.
func (r *Registry) Wait(ctx context.Context, id string) (models.Snapshot, error) {
	e, err := r.lookup(id)
	if err != nil {
		return models.Snapshot{}, err
	}
	select {
	case <-e.done:
		return e.session.Snapshot(), nil
	case <-ctx.Done():
		return models.Snapshot{}, ctx.Err()
	}
}

// Sweep drops finished sessions older than the retention period and reports
// how many were removed.
func (r *Registry) Sweep() int {
	cutoff := r.now().Add(-r.retention)
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, e := range r.entries {
		if !e.finishedAt.IsZero() && e.finishedAt.Before(cutoff) {
			delete(r.entries, id)
			n++
		}
	}
	if n > 0 {
		r.logger.Debug("swept sessions", zap.Int("removed", n))
	}
	return n
}

// Janitor sweeps every interval until ctx ends.
func (r *Registry) Janitor(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.Sweep()
		}
	}
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Close cancels every running session and waits for them to finish.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.stop()
	r.wg.Wait()
}
