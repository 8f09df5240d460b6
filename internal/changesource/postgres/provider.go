// Package postgres is a change source fed by PostgreSQL LISTEN/NOTIFY. Each
// notification payload is one JSON event batch.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lib/pq"

	"contentsync/internal/changesource/codec"
	"contentsync/internal/changesource/filter"
	"contentsync/internal/trigger"
	"contentsync/pkg/platform/sentinel"
)

const pingInterval = 90 * time.Second

// Provider opens sessions as database handles whose connections carry the
// service identity as application_name.
type Provider struct {
	dsn          string
	channel      string
	minReconnect time.Duration
	maxReconnect time.Duration
	logger       *slog.Logger

	mu       sync.Mutex
	sessions map[*session]struct{}
	closed   bool
}

type Option func(*Provider)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Provider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithReconnectInterval bounds the backoff of a listener connection.
func WithReconnectInterval(minInterval, maxInterval time.Duration) Option {
	return func(p *Provider) {
		if minInterval > 0 {
			p.minReconnect = minInterval
		}
		if maxInterval >= p.minReconnect {
			p.maxReconnect = maxInterval
		}
	}
}

// NewProvider returns a provider listening on channel. dsn may be a URL or a
// key=value connection string.
func NewProvider(dsn, channel string, opts ...Option) *Provider {
	p := &Provider{
		dsn:          dsn,
		channel:      channel,
		minReconnect: 10 * time.Second,
		maxReconnect: time.Minute,
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		sessions:     make(map[*session]struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WithApplicationName returns dsn as a key=value connection string whose
// application_name is name.
func WithApplicationName(dsn, name string) (string, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		converted, err := pq.ParseURL(dsn)
		if err != nil {
			return "", fmt.Errorf("parse postgres URL: %w", err)
		}
		dsn = converted
	}
	escaped := strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(name)
	return strings.TrimSpace(dsn + " application_name='" + escaped + "'"), nil
}

// OpenSession implements trigger.SessionProvider.
func (p *Provider) OpenSession(ctx context.Context, serviceID string) (trigger.Session, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("open session: %w", sentinel.ErrClosed)
	}

	dsn, err := WithApplicationName(p.dsn, serviceID)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: postgres ping for %q: %v", sentinel.ErrUnavailable, serviceID, err)
	}

	s := &session{
		provider: p,
		db:       db,
		dsn:      dsn,
		user:     serviceID,
		subs:     make(map[trigger.Listener]*subscription),
	}
	s.live.Store(true)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		_ = db.Close()
		return nil, fmt.Errorf("open session: %w", sentinel.ErrClosed)
	}
	p.sessions[s] = struct{}{}
	return s, nil
}

// Close logs out every session opened through the provider.
func (p *Provider) Close() error {
	p.mu.Lock()
	p.closed = true
	sessions := make([]*session, 0, len(p.sessions))
	for s := range p.sessions {
		sessions = append(sessions, s)
	}
	p.mu.Unlock()

	for _, s := range sessions {
		s.Logout()
	}
	return nil
}

func (p *Provider) forget(s *session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.sessions, s)
}

type session struct {
	provider *Provider
	db       *sql.DB
	dsn      string
	user     string
	live     atomic.Bool

	mu   sync.Mutex
	subs map[trigger.Listener]*subscription
}

// DB exposes the session handle, e.g. for publishing through the same
// identity.
func (s *session) DB() *sql.DB {
	return s.db
}

func (s *session) ChangeSource() (trigger.ChangeSource, error) {
	if !s.live.Load() {
		return nil, fmt.Errorf("session for %q: %w", s.user, sentinel.ErrInvalidState)
	}
	return &changeSource{session: s}, nil
}

func (s *session) IsLive() bool {
	return s.live.Load()
}

func (s *session) Logout() {
	if !s.live.CompareAndSwap(true, false) {
		return
	}
	s.mu.Lock()
	subs := s.subs
	s.subs = make(map[trigger.Listener]*subscription)
	s.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}
	if err := s.db.Close(); err != nil {
		s.provider.logger.Warn("close postgres session", "service_id", s.user, "error", err)
	}
	s.provider.forget(s)
}

type changeSource struct {
	session *session
}

// Subscribe opens a dedicated LISTEN connection for l. Subscribing a listener
// again replaces its previous subscription.
func (c *changeSource) Subscribe(ctx context.Context, l trigger.Listener, opts trigger.SubscribeOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s := c.session
	if !s.IsLive() {
		return fmt.Errorf("subscribe: %w", sentinel.ErrInvalidState)
	}

	logger := s.provider.logger.With("service_id", s.user, "channel", s.provider.channel)
	pl := pq.NewListener(s.dsn, s.provider.minReconnect, s.provider.maxReconnect,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				logger.Warn("postgres listener connection event", "event", listenerEventName(ev), "error", err)
			}
		})
	if err := pl.Listen(s.provider.channel); err != nil {
		_ = pl.Close()
		return fmt.Errorf("listen on %s: %w", s.provider.channel, err)
	}

	sub := newSubscription(pl, l, opts, s.user, logger)
	go sub.run()

	s.mu.Lock()
	if !s.IsLive() {
		s.mu.Unlock()
		sub.stop()
		return fmt.Errorf("subscribe: %w", sentinel.ErrInvalidState)
	}
	prev := s.subs[l]
	s.subs[l] = sub
	s.mu.Unlock()

	if prev != nil {
		prev.stop()
	}
	return nil
}

func (c *changeSource) Unsubscribe(_ context.Context, l trigger.Listener) error {
	s := c.session
	s.mu.Lock()
	sub, ok := s.subs[l]
	delete(s.subs, l)
	s.mu.Unlock()
	if ok {
		return sub.stop()
	}
	return nil
}

type subscription struct {
	pl       *pq.Listener
	listener trigger.Listener
	opts     trigger.SubscribeOptions
	user     string
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func newSubscription(pl *pq.Listener, l trigger.Listener, opts trigger.SubscribeOptions, user string, logger *slog.Logger) *subscription {
	ctx, cancel := context.WithCancel(context.Background())
	return &subscription{
		pl:       pl,
		listener: l,
		opts:     opts,
		user:     user,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// run delivers each notification as one batch until stopped.
func (s *subscription) run() {
	defer close(s.done)
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case n, ok := <-s.pl.Notify:
			if !ok {
				return
			}
			if n == nil {
				// Reconnected; notifications sent while disconnected are lost.
				s.logger.Warn("postgres listener reconnected")
				continue
			}
			s.deliver(n.Extra)
		case <-ticker.C:
			go func() {
				if err := s.pl.Ping(); err != nil {
					s.logger.Debug("postgres listener ping", "error", err)
				}
			}()
		}
	}
}

func (s *subscription) deliver(payload string) {
	events, err := codec.Decode([]byte(payload))
	if err != nil {
		s.logger.Warn("dropping undecodable change notification", "error", err)
		return
	}
	if matched := filter.Select(events, s.opts, s.user); len(matched) > 0 {
		s.listener.OnEvents(context.WithoutCancel(s.ctx), matched)
	}
}

// stop waits for an in-flight batch and closes the LISTEN connection. The
// batch context is detached from stop, so the batch runs to completion. It
// must not be called from inside the listener.
func (s *subscription) stop() error {
	s.cancel()
	<-s.done
	if err := s.pl.Close(); err != nil {
		return fmt.Errorf("close postgres listener: %w", err)
	}
	return nil
}

func listenerEventName(ev pq.ListenerEventType) string {
	switch ev {
	case pq.ListenerEventConnected:
		return "connected"
	case pq.ListenerEventDisconnected:
		return "disconnected"
	case pq.ListenerEventReconnected:
		return "reconnected"
	case pq.ListenerEventConnectionAttemptFailed:
		return "connection_attempt_failed"
	default:
		return "unknown"
	}
}
