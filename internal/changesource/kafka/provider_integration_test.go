//go:build integration

package kafka

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kgo"

	platformkafka "contentsync/internal/platform/kafka"
	"contentsync/internal/trigger"
	"contentsync/pkg/platform/sentinel"
	"contentsync/pkg/testutil/containers"
)

const changesTopic = "content.changes"

type recorder struct {
	mu     sync.Mutex
	events []trigger.Event
}

func (r *recorder) OnEvents(_ context.Context, events []trigger.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, events...)
}

func (r *recorder) paths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		out = append(out, e.Path)
	}
	return out
}

type ProviderSuite struct {
	suite.Suite
	broker    *containers.RedpandaContainer
	client    *kgo.Client
	provider  *Provider
	publisher *Publisher
}

func TestProviderSuite(t *testing.T) {
	suite.Run(t, new(ProviderSuite))
}

func (s *ProviderSuite) SetupSuite() {
	ctx := context.Background()
	s.broker = containers.NewRedpandaContainer(s.T())

	client, err := platformkafka.NewClient(ctx, s.broker.Brokers)
	s.Require().NoError(err)
	s.client = client
	s.Require().NoError(platformkafka.EnsureTopics(ctx, client, 3, 1, changesTopic))
	s.Require().NoError(platformkafka.EnsureTopics(ctx, client, 3, 1, changesTopic))
}

func (s *ProviderSuite) TearDownSuite() {
	s.client.Close()
}

func (s *ProviderSuite) SetupTest() {
	s.provider = NewProvider(s.broker.Brokers, changesTopic)
	s.publisher = NewPublisher(s.client, changesTopic)
}

func (s *ProviderSuite) TearDownTest() {
	s.NoError(s.provider.Close())
}

func (s *ProviderSuite) TestDeliversChangesProducedAfterSubscribe() {
	ctx := context.Background()
	s.Require().NoError(s.publisher.Publish(ctx, trigger.Event{Type: trigger.NodeAdded, Path: "/content/before"}))

	sess, err := s.provider.OpenSession(ctx, "replication-service")
	s.Require().NoError(err)
	src, err := sess.ChangeSource()
	s.Require().NoError(err)
	rec := &recorder{}
	s.Require().NoError(src.Subscribe(ctx, rec, trigger.SubscribeOptions{
		EventTypes: trigger.DefaultEventTypes, Path: "/content", Deep: true,
	}))

	s.Require().NoError(s.publisher.Publish(ctx, trigger.Event{Type: trigger.NodeAdded, Path: "/content/after"}))
	s.Require().NoError(s.publisher.Publish(ctx, trigger.Event{Type: trigger.NodeAdded, Path: "/etc/ignored"}))

	s.Eventually(func() bool { return len(rec.paths()) == 1 }, 10*time.Second, 50*time.Millisecond)
	s.Equal([]string{"/content/after"}, rec.paths())

	s.Require().NoError(src.Unsubscribe(ctx, rec))
	s.Require().NoError(s.publisher.Publish(ctx, trigger.Event{Type: trigger.NodeAdded, Path: "/content/late"}))
	s.Never(func() bool { return len(rec.paths()) > 1 }, 500*time.Millisecond, 50*time.Millisecond)
}

func (s *ProviderSuite) TestSubscribeToMissingTopic() {
	ctx := context.Background()
	p := NewProvider(s.broker.Brokers, "missing.topic")
	defer p.Close()

	sess, err := p.OpenSession(ctx, "replication-service")
	s.Require().NoError(err)
	src, err := sess.ChangeSource()
	s.Require().NoError(err)

	err = src.Subscribe(ctx, &recorder{}, trigger.SubscribeOptions{EventTypes: trigger.NodeAdded, Path: "/"})
	s.Require().Error(err)
	s.NotErrorIs(err, sentinel.ErrClosed)
}
