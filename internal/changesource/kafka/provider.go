// Package kafka is a change source fed by a Kafka topic whose records are
// JSON event batches. One poll is delivered as one batch.
package kafka

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"

	"contentsync/internal/changesource/codec"
	"contentsync/internal/changesource/filter"
	"contentsync/internal/trigger"
	"contentsync/pkg/platform/sentinel"
)

// Provider opens sessions as Kafka clients identified by the service
// identity.
type Provider struct {
	brokers []string
	topic   string
	opts    []kgo.Opt
	logger  *slog.Logger

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

// WithClientOpts adds client options, e.g. SASL or TLS, to every client the
// provider creates.
func WithClientOpts(opts ...kgo.Opt) Option {
	return func(p *Provider) {
		p.opts = append(p.opts, opts...)
	}
}

func NewProvider(brokers []string, topic string, opts ...Option) *Provider {
	p := &Provider{
		brokers:  brokers,
		topic:    topic,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		sessions: make(map[*session]struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) clientOpts(serviceID string, extra ...kgo.Opt) []kgo.Opt {
	opts := []kgo.Opt{kgo.SeedBrokers(p.brokers...), kgo.ClientID(serviceID)}
	opts = append(opts, p.opts...)
	return append(opts, extra...)
}

// OpenSession implements trigger.SessionProvider.
func (p *Provider) OpenSession(ctx context.Context, serviceID string) (trigger.Session, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("open session: %w", sentinel.ErrClosed)
	}

	client, err := kgo.NewClient(p.clientOpts(serviceID)...)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	if err := client.Ping(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: kafka ping for %q: %v", sentinel.ErrUnavailable, serviceID, err)
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
		client.Close()
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
	client   *kgo.Client
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
	s.client.Close()
	s.provider.forget(s)
}

// endOffsets pins every current partition of topic at its end so that a new
// subscription sees exactly the changes produced after it returns.
func (s *session) endOffsets(ctx context.Context, topic string) (map[string]map[int32]kgo.Offset, error) {
	listed, err := kadm.NewClient(s.client).ListEndOffsets(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("list end offsets of %s: %w", topic, err)
	}
	partitions := make(map[int32]kgo.Offset)
	for _, byPartition := range listed {
		for partition, o := range byPartition {
			if o.Err != nil {
				return nil, fmt.Errorf("list end offset of %s/%d: %w", topic, partition, o.Err)
			}
			partitions[partition] = kgo.NewOffset().At(o.Offset)
		}
	}
	if len(partitions) == 0 {
		return nil, fmt.Errorf("topic %s: %w", topic, sentinel.ErrNotFound)
	}
	return map[string]map[int32]kgo.Offset{topic: partitions}, nil
}

type changeSource struct {
	session *session
}

// Subscribe starts a dedicated consumer for l. Partitions added to the topic
// later are not consumed. Subscribing a listener again replaces its previous
// subscription.
func (c *changeSource) Subscribe(ctx context.Context, l trigger.Listener, opts trigger.SubscribeOptions) error {
	s := c.session
	if !s.IsLive() {
		return fmt.Errorf("subscribe: %w", sentinel.ErrInvalidState)
	}

	offsets, err := s.endOffsets(ctx, s.provider.topic)
	if err != nil {
		return err
	}
	consumer, err := kgo.NewClient(s.provider.clientOpts(s.user, kgo.ConsumePartitions(offsets))...)
	if err != nil {
		return fmt.Errorf("create kafka consumer: %w", err)
	}

	logger := s.provider.logger.With("service_id", s.user, "topic", s.provider.topic)
	sub := newSubscription(consumer, l, opts, s.user, logger)
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
	consumer *kgo.Client
	listener trigger.Listener
	opts     trigger.SubscribeOptions
	user     string
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func newSubscription(consumer *kgo.Client, l trigger.Listener, opts trigger.SubscribeOptions, user string, logger *slog.Logger) *subscription {
	ctx, cancel := context.WithCancel(context.Background())
	return &subscription{
		consumer: consumer,
		listener: l,
		opts:     opts,
		user:     user,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

func (s *subscription) run() {
	defer close(s.done)
	for {
		fetches := s.consumer.PollFetches(s.ctx)
		if fetches.IsClientClosed() || s.ctx.Err() != nil {
			return
		}
		fetches.EachError(func(_ string, partition int32, err error) {
			s.logger.Warn("kafka fetch error", "partition", partition, "error", err)
		})

		var batch []trigger.Event
		fetches.EachRecord(func(r *kgo.Record) {
			events, err := codec.Decode(r.Value)
			if err != nil {
				s.logger.Warn("dropping undecodable change record",
					"partition", r.Partition,
					"offset", r.Offset,
					"error", err,
				)
				return
			}
			batch = append(batch, events...)
		})
		if matched := filter.Select(batch, s.opts, s.user); len(matched) > 0 {
			s.listener.OnEvents(context.WithoutCancel(s.ctx), matched)
		}
	}
}

// stop waits for an in-flight batch and closes the consumer. The batch
// context is detached from stop, so the batch runs to completion. It must not
// be called from inside the listener.
func (s *subscription) stop() {
	s.cancel()
	<-s.done
	s.consumer.Close()
}
