// Package trigger turns change events from a content store into replication
// requests for registered handlers.
//
// A Trigger keeps one subscription per handler identity. Every subscription
// is opened through a single lazily acquired session for the configured
// service identity. Delivered events are filtered and translated by the
// Trigger's Strategy, and a failure on one event never affects the rest of
// its batch or the subscription.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"contentsync/internal/trigger/metrics"
)

const tracerName = "contentsync/internal/trigger"

// Config is fixed at construction.
type Config struct {
	// Path is the absolute content path subscriptions are scoped to.
	Path string
	// ServiceID is the service identity sessions are opened for.
	ServiceID string
}

func (c Config) validate() error {
	if !strings.HasPrefix(c.Path, "/") {
		return fmt.Errorf("%w: path must be absolute, got %q", ErrInvalidConfig, c.Path)
	}
	if strings.TrimSpace(c.ServiceID) == "" {
		return fmt.Errorf("%w: service id is required", ErrInvalidConfig)
	}
	return nil
}

// Trigger registers replication handlers against a content store.
type Trigger struct {
	cfg             Config
	strategy        Strategy
	eventTypes      EventType
	deep            bool
	excludedPaths   []string
	replaceExisting bool

	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer

	registry *registry
	sessions *sessionCache
}

type Option func(*Trigger)

func WithLogger(logger *slog.Logger) Option {
	return func(t *Trigger) {
		if logger != nil {
			t.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(t *Trigger) {
		t.metrics = m
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(t *Trigger) {
		if tracer != nil {
			t.tracer = tracer
		}
	}
}

// WithEventTypes overrides the event mask, including one supplied by the
// strategy through EventTypeProvider.
func WithEventTypes(types EventType) Option {
	return func(t *Trigger) {
		if types != 0 {
			t.eventTypes = types
		}
	}
}

// WithShallow limits subscriptions to changes reported on the configured
// path itself instead of its whole subtree.
func WithShallow() Option {
	return func(t *Trigger) {
		t.deep = false
	}
}

// WithExcludedPaths drops changes below any of the given paths at the source.
func WithExcludedPaths(paths ...string) Option {
	return func(t *Trigger) {
		t.excludedPaths = CleanPaths(append(t.excludedPaths, paths...))
	}
}

// WithReplaceExisting detaches the listener of an already registered identity
// before attaching the new one. Without it the previous listener stays
// attached to the change source and only the registry record is replaced.
//
// The previous record is removed once its listener is detached. If attaching
// the new listener then fails, Register returns a RegistrationError and the
// identity is left with neither a listener nor a registry entry.
func WithReplaceExisting() Option {
	return func(t *Trigger) {
		t.replaceExisting = true
	}
}

// New creates a Trigger. The provider is only called on the first Register.
func New(provider SessionProvider, strategy Strategy, cfg Config, opts ...Option) (*Trigger, error) {
	if provider == nil {
		return nil, errors.New("session provider is required")
	}
	if strategy == nil {
		return nil, errors.New("strategy is required")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	t := &Trigger{
		cfg:        cfg,
		strategy:   strategy,
		eventTypes: DefaultEventTypes,
		deep:       true,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		tracer:     otel.Tracer(tracerName),
		registry:   newRegistry(),
	}
	if p, ok := strategy.(EventTypeProvider); ok && p.EventTypes() != 0 {
		t.eventTypes = p.EventTypes()
	}
	for _, opt := range opts {
		opt(t)
	}

	t.sessions = &sessionCache{
		provider:  provider,
		serviceID: cfg.ServiceID,
		logger:    t.logger,
		metrics:   t.metrics,
		onDrop:    t.evictSession,
	}
	return t, nil
}

// evictSession removes the registrations attached through a session that has
// been logged out. Their listeners no longer receive events.
func (t *Trigger) evictSession(stale Session) {
	evicted := t.registry.evictSession(stale)
	for _, sub := range evicted {
		t.logger.Warn("evicted registration of logged out session",
			"handler", sub.identity,
			"subscription", sub.id,
		)
	}
	if len(evicted) > 0 && t.metrics != nil {
		t.metrics.SetActiveSubscriptions(t.registry.len())
	}
}

// EventTypes returns the mask subscriptions are opened with.
func (t *Trigger) EventTypes() EventType {
	return t.eventTypes
}

func (t *Trigger) subscribeOptions() SubscribeOptions {
	return SubscribeOptions{
		EventTypes:    t.eventTypes,
		Path:          t.cfg.Path,
		Deep:          t.deep,
		ExcludedPaths: t.excludedPaths,
	}
}

// session returns the cached session, opening one if needed.
func (t *Trigger) session(ctx context.Context) (Session, error) {
	return t.sessions.get(ctx)
}

// Register attaches a listener for handler to the change source and records
// it under handler.Identity(). The registry is only updated once the listener
// is attached, so a failed registration leaves no entry behind.
func (t *Trigger) Register(ctx context.Context, handler RequestHandler) (err error) {
	if handler == nil {
		return ErrNilHandler
	}
	identity := handler.Identity()

	ctx, span := t.tracer.Start(ctx, "trigger.register", trace.WithAttributes(
		attribute.String("handler", identity),
		attribute.String("path", t.cfg.Path),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "register failed")
		}
		span.End()
		if t.metrics != nil {
			t.metrics.ObserveRegistration(err)
		}
	}()

	unlock := t.registry.lock(identity)
	defer unlock()

	session, err := t.session(ctx)
	if err != nil {
		return &RegistrationError{Identity: identity, Err: err}
	}
	source, err := session.ChangeSource()
	if err != nil {
		return &RegistrationError{Identity: identity, Err: fmt.Errorf("get change source: %w", err)}
	}

	detached := false
	if t.replaceExisting {
		if prev, ok := t.registry.get(identity); ok {
			if err := prev.source.Unsubscribe(ctx, prev.listener); err != nil {
				return &RegistrationError{Identity: identity, Err: fmt.Errorf("detach previous listener: %w", err)}
			}
			t.registry.remove(identity)
			detached = true
			if t.metrics != nil {
				t.metrics.SetActiveSubscriptions(t.registry.len())
			}
		}
	}

	l := &listener{trigger: t, handler: handler}
	opts := t.subscribeOptions()
	if err := source.Subscribe(ctx, l, opts); err != nil {
		if detached {
			return &RegistrationError{Identity: identity, Err: fmt.Errorf("attach listener, previous registration already removed: %w", err)}
		}
		return &RegistrationError{Identity: identity, Err: fmt.Errorf("attach listener: %w", err)}
	}

	sub := &subscription{
		id:       uuid.NewString(),
		identity: identity,
		listener: l,
		source:   source,
		session:  session,
	}
	if prev := t.registry.put(sub); prev != nil {
		t.logger.Warn("replaced registration without detaching previous listener",
			"handler", identity,
			"previous_subscription", prev.id,
		)
	}
	if t.metrics != nil {
		t.metrics.SetActiveSubscriptions(t.registry.len())
	}

	t.logger.Info("registered replication handler",
		"handler", identity,
		"subscription", sub.id,
		"path", opts.Path,
		"event_types", opts.EventTypes.String(),
		"deep", opts.Deep,
	)
	return nil
}

// Unregister detaches the listener registered for handler.Identity() and
// removes the registry entry. Unknown identities are a no-op. If detaching
// fails the entry is kept so the call can be retried.
func (t *Trigger) Unregister(ctx context.Context, handler RequestHandler) (err error) {
	if handler == nil {
		return ErrNilHandler
	}
	identity := handler.Identity()

	ctx, span := t.tracer.Start(ctx, "trigger.unregister", trace.WithAttributes(
		attribute.String("handler", identity),
	))
	defer span.End()

	unlock := t.registry.lock(identity)
	defer unlock()

	sub, ok := t.registry.get(identity)
	if !ok {
		t.logger.Debug("handler not registered, nothing to unregister", "handler", identity)
		return nil
	}

	defer func() {
		if t.metrics != nil {
			t.metrics.ObserveDeregistration(err)
		}
	}()

	if err := sub.source.Unsubscribe(ctx, sub.listener); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "unregister failed")
		return &DeregistrationError{Identity: identity, Err: err}
	}
	t.registry.remove(identity)
	if t.metrics != nil {
		t.metrics.SetActiveSubscriptions(t.registry.len())
	}

	t.logger.Info("unregistered replication handler", "handler", identity, "subscription", sub.id)
	return nil
}

// Registered returns the registered handler identities in sorted order.
// Registrations made through a session that was logged out are evicted when
// the session is next reacquired.
func (t *Trigger) Registered() []string {
	return t.registry.identities()
}

// IsRegistered reports whether identity has an active registration.
func (t *Trigger) IsRegistered(identity string) bool {
	_, ok := t.registry.get(identity)
	return ok
}
