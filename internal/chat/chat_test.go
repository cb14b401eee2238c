package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"teamchat/internal/storage"
	mytesting "teamchat/internal/testing"
)

type published struct {
	topic   string
	event   string
	payload interface{}
}

// recordingPublisher is a fanout.Publisher remembering every publish call
type recordingPublisher struct {
	mu     sync.Mutex
	events []published
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, topic, event string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{topic: topic, event: event, payload: payload})
	return p.err
}

func (p *recordingPublisher) published() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.events...)
}

type fixture struct {
	gw         *storage.Memory
	publisher  *recordingPublisher
	messages   *Messages
	membership *Membership
}

func bootstrap(t *testing.T) *fixture {
	logger, err := zap.NewDevelopment()
	require.NoError(t, err)

	gw := storage.NewMemory(nil)
	p := &recordingPublisher{}

	return &fixture{
		gw:         gw,
		publisher:  p,
		messages:   NewMessages(logger.Sugar(), gw, p, DefaultPageSize),
		membership: NewMembership(logger.Sugar(), gw),
	}
}

func (f *fixture) user(t *testing.T) storage.User {
	name := mytesting.RandString()
	u, err := f.gw.CreateUser(context.Background(), name, strings.ToLower(name)+"@example.com", "hash")
	require.NoError(t, err)
	return u
}

func (f *fixture) channel(t *testing.T, creator int64) storage.ChannelSummary {
	c, err := f.membership.CreateChannel(context.Background(), creator, mytesting.RandString())
	require.NoError(t, err)
	return c
}

func pageIDs(p Page) []int64 {
	ids := make([]int64, 0, len(p.Messages))
	for _, m := range p.Messages {
		ids = append(ids, m.ID)
	}
	return ids
}

func requireKind(t *testing.T, err error, kind error) {
	t.Helper()
	require.Error(t, err)
	require.True(t, errors.Is(err, kind), "expected %v, got %v", kind, err)
}
