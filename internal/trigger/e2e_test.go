package trigger_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"contentsync/internal/changesource/memory"
	"contentsync/internal/strategy"
	"contentsync/internal/trigger"
	"contentsync/pkg/platform/sentinel"
)

const serviceUser = "replication-service"

type RepositorySuite struct {
	suite.Suite
	repo *memory.Repository
	ctx  context.Context
}

func TestRepositorySuite(t *testing.T) {
	suite.Run(t, new(RepositorySuite))
}

func (s *RepositorySuite) SetupTest() {
	s.repo = memory.New(memory.WithServiceUsers(serviceUser))
	s.ctx = context.Background()
}

func (s *RepositorySuite) TearDownTest() {
	s.NoError(s.repo.Close())
}

func (s *RepositorySuite) newTrigger(strat trigger.Strategy, opts ...trigger.Option) *trigger.Trigger {
	tr, err := trigger.New(s.repo, strat, trigger.Config{Path: "/content/foo", ServiceID: serviceUser}, opts...)
	s.Require().NoError(err)
	return tr
}

func (s *RepositorySuite) TestNodeAddedBecomesAddRequest() {
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tr := s.newTrigger(strategy.NewNodeEvents(strategy.WithClock(func() time.Time { return fixed })))
	h := &recordingHandler{id: "agent-publish"}
	s.Require().NoError(tr.Register(s.ctx, h))

	s.repo.Emit(s.ctx, trigger.Event{Type: trigger.NodeAdded, Path: "/content/foo/bar", UserID: "author"})

	reqs := h.Requests()
	s.Require().Len(reqs, 1)
	s.Equal(trigger.ActionAdd, reqs[0].Action)
	s.Equal([]string{"/content/foo/bar"}, reqs[0].Paths)
	s.Equal(fixed, reqs[0].Time)
	s.NotEmpty(reqs[0].ID)
}

func (s *RepositorySuite) TestUnsafeEventIsNeverTranslated() {
	var translated int
	strat := trigger.StrategyFuncs{
		Safe: func(trigger.Event) (bool, error) { return false, nil },
		Process: func(context.Context, trigger.Event) (*trigger.Request, error) {
			translated++
			return &trigger.Request{Action: trigger.ActionAdd}, nil
		},
	}
	tr := s.newTrigger(strat)
	h := &recordingHandler{id: "agent-publish"}
	s.Require().NoError(tr.Register(s.ctx, h))

	s.repo.Emit(s.ctx, trigger.Event{Type: trigger.NodeAdded, Path: "/content/foo/bar"})

	s.Zero(translated)
	s.Empty(h.Requests())
}

func (s *RepositorySuite) TestReplicationWritesAreNotReplicated() {
	tr := s.newTrigger(strategy.NewNodeEvents())
	h := &recordingHandler{id: "agent-publish"}
	s.Require().NoError(tr.Register(s.ctx, h))

	s.repo.Emit(s.ctx,
		trigger.Event{Type: trigger.NodeAdded, Path: "/content/foo/a", UserData: strategy.DoNotReplicate},
		trigger.Event{Type: trigger.NodeRemoved, Path: "/content/foo/b"},
	)

	reqs := h.Requests()
	s.Require().Len(reqs, 1)
	s.Equal(trigger.ActionDelete, reqs[0].Action)
	s.Equal([]string{"/content/foo/b"}, reqs[0].Paths)
}

func (s *RepositorySuite) TestUnknownServiceUserFailsRegistration() {
	tr, err := trigger.New(s.repo, strategy.NewNodeEvents(), trigger.Config{Path: "/content/foo", ServiceID: "nobody"})
	s.Require().NoError(err)

	err = tr.Register(s.ctx, &recordingHandler{id: "agent-publish"})

	var acqErr *trigger.SessionAcquisitionError
	s.Require().ErrorAs(err, &acqErr)
	s.Equal("nobody", acqErr.ServiceID)
	s.True(errors.Is(err, sentinel.ErrNotFound))
	s.Empty(tr.Registered())
	s.Zero(s.repo.Listeners())
}

func (s *RepositorySuite) TestEventsOutsideScopeAreNotDelivered() {
	tr := s.newTrigger(strategy.NewNodeEvents())
	h := &recordingHandler{id: "agent-publish"}
	s.Require().NoError(tr.Register(s.ctx, h))

	s.repo.Emit(s.ctx,
		trigger.Event{Type: trigger.NodeAdded, Path: "/content/other/x"},
		trigger.Event{Type: trigger.Persist, Path: "/content/foo/y"},
	)
	s.Empty(h.Requests())
}

func (s *RepositorySuite) TestReregisterKeepsPreviousListenerAttached() {
	tr := s.newTrigger(strategy.NewNodeEvents())
	h := &recordingHandler{id: "agent-publish"}
	s.Require().NoError(tr.Register(s.ctx, h))
	s.Require().NoError(tr.Register(s.ctx, h))

	s.Equal([]string{"agent-publish"}, tr.Registered())
	s.Equal(2, s.repo.Listeners())

	s.repo.Emit(s.ctx, trigger.Event{Type: trigger.NodeAdded, Path: "/content/foo/bar"})
	s.Len(h.Requests(), 2)

	s.Require().NoError(tr.Unregister(s.ctx, h))
	s.Equal(1, s.repo.Listeners())
	s.False(tr.IsRegistered("agent-publish"))
}

func (s *RepositorySuite) TestReplaceExistingDetachesPreviousListener() {
	tr := s.newTrigger(strategy.NewNodeEvents(), trigger.WithReplaceExisting())
	h := &recordingHandler{id: "agent-publish"}
	s.Require().NoError(tr.Register(s.ctx, h))
	s.Require().NoError(tr.Register(s.ctx, h))

	s.Equal(1, s.repo.Listeners())
	s.repo.Emit(s.ctx, trigger.Event{Type: trigger.NodeAdded, Path: "/content/foo/bar"})
	s.Len(h.Requests(), 1)
}

func (s *RepositorySuite) TestUnregisterStopsDelivery() {
	tr := s.newTrigger(strategy.NewNodeEvents())
	h := &recordingHandler{id: "agent-publish"}
	s.Require().NoError(tr.Register(s.ctx, h))
	s.Require().NoError(tr.Unregister(s.ctx, h))

	s.Zero(s.repo.Listeners())
	s.repo.Emit(s.ctx, trigger.Event{Type: trigger.NodeAdded, Path: "/content/foo/bar"})
	s.Empty(h.Requests())
	s.Empty(tr.Registered())
}

func (s *RepositorySuite) TestLoggedOutSessionIsReplaced() {
	tr := s.newTrigger(strategy.NewNodeEvents())
	first := &recordingHandler{id: "first"}
	s.Require().NoError(tr.Register(s.ctx, first))

	session, err := tr.AcquireSession(s.ctx)
	s.Require().NoError(err)
	session.Logout()

	second := &recordingHandler{id: "second"}
	s.Require().NoError(tr.Register(s.ctx, second))

	s.repo.Emit(s.ctx, trigger.Event{Type: trigger.NodeAdded, Path: "/content/foo/bar"})
	s.Empty(first.Requests())
	s.Len(second.Requests(), 1)

	s.False(tr.IsRegistered("first"))
	s.Equal([]string{"second"}, tr.Registered())
	s.Equal(1, s.repo.Listeners())
}

func (s *RepositorySuite) TestEvictedHandlerCanRegisterAgain() {
	tr := s.newTrigger(strategy.NewNodeEvents())
	h := &recordingHandler{id: "agent"}
	s.Require().NoError(tr.Register(s.ctx, h))

	session, err := tr.AcquireSession(s.ctx)
	s.Require().NoError(err)
	session.Logout()

	// Acquiring replaces the session and evicts the stale registration.
	_, err = tr.AcquireSession(s.ctx)
	s.Require().NoError(err)
	s.Empty(tr.Registered())

	s.Require().NoError(tr.Register(s.ctx, h))
	s.repo.Emit(s.ctx, trigger.Event{Type: trigger.NodeAdded, Path: "/content/foo/bar"})
	s.Len(h.Requests(), 1)
}
