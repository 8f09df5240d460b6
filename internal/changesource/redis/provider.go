// Package redis is a change source fed by a Redis Pub/Sub channel carrying
// JSON event batches.
package redis

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/redis/go-redis/v9"

	"contentsync/internal/changesource/codec"
	"contentsync/internal/changesource/filter"
	"contentsync/internal/trigger"
	"contentsync/pkg/platform/sentinel"
)

// Provider opens one Redis connection pool per session, named after the
// service identity so it shows up in CLIENT LIST.
type Provider struct {
	base    redis.Options
	channel string
	logger  *slog.Logger
	useACL  bool

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

// WithACLUsername authenticates sessions as the service identity instead of
// the username in the base options.
func WithACLUsername() Option {
	return func(p *Provider) {
		p.useACL = true
	}
}

// NewProvider returns a provider whose sessions subscribe to channel.
func NewProvider(base *redis.Options, channel string, opts ...Option) *Provider {
	p := &Provider{
		base:     *base,
		channel:  channel,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		sessions: make(map[*session]struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// OpenSession implements trigger.SessionProvider.
func (p *Provider) OpenSession(ctx context.Context, serviceID string) (trigger.Session, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("open session: %w", sentinel.ErrClosed)
	}

	opts := p.base
	opts.ClientName = serviceID
	if p.useACL {
		opts.Username = serviceID
	}
	client := redis.NewClient(&opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: redis ping for %q: %v", sentinel.ErrUnavailable, serviceID, err)
	}

	s := &session{
		provider: p,
		client:   client,
		user:     serviceID,
		subs:     make(map[trigger.Listener]*subscription),
	}
	s.live.Store(true)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		_ = client.Close()
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
	client   *redis.Client
	user     string
	live     atomic.Bool

	mu   sync.Mutex
	subs map[trigger.Listener]*subscription
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
	if err := s.client.Close(); err != nil {
		s.provider.logger.Warn("close redis session", "service_id", s.user, "error", err)
	}
	s.provider.forget(s)
}

type changeSource struct {
	session *session
}

// Subscribe opens a dedicated Pub/Sub connection for l. Subscribing a
// listener again replaces its previous subscription.
func (c *changeSource) Subscribe(ctx context.Context, l trigger.Listener, opts trigger.SubscribeOptions) error {
	s := c.session
	if !s.IsLive() {
		return fmt.Errorf("subscribe: %w", sentinel.ErrInvalidState)
	}

	ps := s.client.Subscribe(ctx, s.provider.channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return fmt.Errorf("subscribe to %s: %w", s.provider.channel, err)
	}

	sub := newSubscription(ps, l, opts, s.user, s.provider.logger)
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
		sub.stop()
	}
	return nil
}

type subscription struct {
	ps       *redis.PubSub
	messages <-chan *redis.Message
	listener trigger.Listener
	opts     trigger.SubscribeOptions
	user     string
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func newSubscription(ps *redis.PubSub, l trigger.Listener, opts trigger.SubscribeOptions, user string, logger *slog.Logger) *subscription {
	ctx, cancel := context.WithCancel(context.Background())
	return &subscription{
		ps:       ps,
		messages: ps.Channel(),
		listener: l,
		opts:     opts,
		user:     user,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// run delivers each message as one batch until the Pub/Sub is closed.
func (s *subscription) run() {
	defer close(s.done)
	for msg := range s.messages {
		events, err := codec.Decode([]byte(msg.Payload))
		if err != nil {
			s.logger.Warn("dropping undecodable change message", "channel", msg.Channel, "error", err)
			continue
		}
		if matched := filter.Select(events, s.opts, s.user); len(matched) > 0 {
			s.listener.OnEvents(context.WithoutCancel(s.ctx), matched)
		}
	}
}

// stop closes the Pub/Sub and waits for an in-flight batch to finish. The
// batch context is detached from stop, so the batch runs to completion. It
// must not be called from inside the listener.
func (s *subscription) stop() {
	s.once.Do(func() {
		s.cancel()
		if err := s.ps.Close(); err != nil {
			s.logger.Debug("close redis pubsub", "error", err)
		}
	})
	<-s.done
}
