// Package memory is an in-process content repository change source. It backs
// local development and end-to-end tests of triggers.
package memory

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"contentsync/internal/changesource/codec"
	"contentsync/internal/changesource/filter"
	"contentsync/internal/trigger"
	"contentsync/pkg/platform/sentinel"
)

type subscription struct {
	listener trigger.Listener
	opts     trigger.SubscribeOptions
	session  *session
}

// Repository holds service users and the listeners attached through its
// sessions. Emit fans a batch out to every matching listener.
type Repository struct {
	mu       sync.RWMutex
	users    map[string]struct{}
	subs     map[trigger.Listener]*subscription
	sessions map[*session]struct{}
	closed   bool
	logger   *slog.Logger
}

type Option func(*Repository)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Repository) {
		r.logger = logger
	}
}

// WithServiceUsers registers identities allowed to open sessions.
func WithServiceUsers(ids ...string) Option {
	return func(r *Repository) {
		for _, id := range ids {
			r.users[id] = struct{}{}
		}
	}
}

func New(opts ...Option) *Repository {
	r := &Repository{
		users:    make(map[string]struct{}),
		subs:     make(map[trigger.Listener]*subscription),
		sessions: make(map[*session]struct{}),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AddServiceUser allows id to open sessions.
func (r *Repository) AddServiceUser(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[id] = struct{}{}
}

// OpenSession implements trigger.SessionProvider.
func (r *Repository) OpenSession(ctx context.Context, serviceID string) (trigger.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, fmt.Errorf("open session: %w", sentinel.ErrClosed)
	}
	if _, ok := r.users[serviceID]; !ok {
		return nil, fmt.Errorf("service user %q: %w", serviceID, sentinel.ErrNotFound)
	}
	s := &session{repo: r, user: serviceID}
	s.live.Store(true)
	r.sessions[s] = struct{}{}
	return s, nil
}

// Emit delivers events to every attached listener as one batch per listener,
// filtered by that listener's subscription. Listeners are called synchronously
// on the calling goroutine. It returns the number of listeners notified.
func (r *Repository) Emit(ctx context.Context, events ...trigger.Event) int {
	r.mu.RLock()
	subs := make([]*subscription, 0, len(r.subs))
	for _, sub := range r.subs {
		subs = append(subs, sub)
	}
	r.mu.RUnlock()

	notified := 0
	for _, sub := range subs {
		matched := filter.Select(events, sub.opts, sub.session.user)
		if len(matched) == 0 {
			continue
		}
		sub.listener.OnEvents(ctx, matched)
		notified++
	}
	return notified
}

// Publish emits events as one batch.
func (r *Repository) Publish(ctx context.Context, events ...trigger.Event) error {
	if len(events) == 0 {
		return codec.ErrEmptyBatch
	}
	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return fmt.Errorf("publish: %w", sentinel.ErrClosed)
	}
	r.Emit(ctx, events...)
	return nil
}

// Listeners returns the number of attached listeners.
func (r *Repository) Listeners() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// Close logs out every session and detaches all listeners.
func (r *Repository) Close() error {
	r.mu.Lock()
	sessions := make([]*session, 0, len(r.sessions))
	for s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.closed = true
	r.mu.Unlock()

	for _, s := range sessions {
		s.Logout()
	}
	return nil
}

func (r *Repository) subscribe(s *session, l trigger.Listener, opts trigger.SubscribeOptions) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("subscribe: %w", sentinel.ErrClosed)
	}
	r.subs[l] = &subscription{listener: l, opts: opts, session: s}
	r.logger.Debug("listener attached", "service_id", s.user, "path", opts.Path, "event_types", opts.EventTypes.String())
	return nil
}

func (r *Repository) unsubscribe(l trigger.Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subs, l)
}

func (r *Repository) logout(s *session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for l, sub := range r.subs {
		if sub.session == s {
			delete(r.subs, l)
		}
	}
	delete(r.sessions, s)
}

type session struct {
	repo *Repository
	user string
	live atomic.Bool
}

func (s *session) ChangeSource() (trigger.ChangeSource, error) {
	if !s.live.Load() {
		return nil, fmt.Errorf("session for %q: %w", s.user, sentinel.ErrInvalidState)
	}
	return &observationManager{session: s}, nil
}

func (s *session) IsLive() bool {
	return s.live.Load()
}

// Logout detaches every listener opened through this session.
func (s *session) Logout() {
	if s.live.CompareAndSwap(true, false) {
		s.repo.logout(s)
	}
}

type observationManager struct {
	session *session
}

func (o *observationManager) Subscribe(ctx context.Context, l trigger.Listener, opts trigger.SubscribeOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !o.session.IsLive() {
		return fmt.Errorf("subscribe: %w", sentinel.ErrInvalidState)
	}
	return o.session.repo.subscribe(o.session, l, opts)
}

func (o *observationManager) Unsubscribe(_ context.Context, l trigger.Listener) error {
	o.session.repo.unsubscribe(l)
	return nil
}
