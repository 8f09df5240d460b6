package trigger

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"contentsync/internal/trigger/metrics"
)

// sessionCache lazily opens one session for the service identity and keeps it
// for the lifetime of the trigger. Concurrent first calls share one provider
// call; failures are not cached, so the next call retries.
//
// The shared provider call is not cancelled by any single caller. Each caller
// stops waiting when its own context ends.
type sessionCache struct {
	provider  SessionProvider
	serviceID string
	logger    *slog.Logger
	metrics   *metrics.Metrics
	// onDrop runs after a stale session has been logged out.
	onDrop func(stale Session)

	mu     sync.RWMutex
	cached Session
	group  singleflight.Group
}

func (c *sessionCache) current() Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.cached != nil && c.cached.IsLive() {
		return c.cached
	}
	return nil
}

func (c *sessionCache) get(ctx context.Context) (Session, error) {
	if s := c.current(); s != nil {
		return s, nil
	}

	openCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(c.serviceID, func() (any, error) {
		if s := c.current(); s != nil {
			return s, nil
		}
		c.dropStale()

		s, err := c.provider.OpenSession(openCtx, c.serviceID)
		if c.metrics != nil {
			c.metrics.ObserveSessionAcquisition(err)
		}
		if err != nil {
			return nil, &SessionAcquisitionError{ServiceID: c.serviceID, Err: err}
		}
		if s == nil {
			return nil, &SessionAcquisitionError{ServiceID: c.serviceID, Err: errNilSession}
		}

		c.mu.Lock()
		c.cached = s
		c.mu.Unlock()
		c.logger.Debug("opened content session", "service_id", c.serviceID)
		return s, nil
	})

	select {
	case <-ctx.Done():
		return nil, &SessionAcquisitionError{ServiceID: c.serviceID, Err: ctx.Err()}
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(Session), nil
	}
}

// dropStale forgets a cached session that is no longer live.
func (c *sessionCache) dropStale() {
	c.mu.Lock()
	stale := c.cached
	c.cached = nil
	c.mu.Unlock()
	if stale != nil {
		c.logger.Warn("cached content session is no longer live, reacquiring", "service_id", c.serviceID)
		stale.Logout()
		if c.onDrop != nil {
			c.onDrop(stale)
		}
	}
}
