package fanout

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"teamchat/internal/storage"
)

func bootstrapHub(t *testing.T) (*Hub, string) {
	hub := NewHub(zap.NewNop().Sugar())
	go hub.Run()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeWS(w, r, 1, nil)
	}))
	t.Cleanup(func() {
		srv.Close()
		hub.Shutdown(time.Second)
	})

	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *Subscriber {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	s, err := Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func next(t *testing.T, s *Subscriber) Envelope {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	env, err := s.Next(ctx)
	require.NoError(t, err)
	return env
}

func subscribe(t *testing.T, s *Subscriber, topic string) {
	require.NoError(t, s.Subscribe(topic))
	env := next(t, s)
	require.Equal(t, eventSubscribed, env.Event)
	require.Equal(t, topic, env.Topic)
}

func TestHub_PublishToSubscriber(t *testing.T) {
	hub, url := bootstrapHub(t)
	s := dial(t, url)

	subscribe(t, s, Topic(1))
	require.Equal(t, 1, hub.Subscribers(Topic(1)))

	m := storage.Message{ID: 7, ChannelID: 1, AuthorID: 3, Text: "hi", Author: storage.UserSummary{ID: 3, Name: "A"}}
	require.NoError(t, hub.Publish(context.Background(), Topic(1), EventMessageNew, m))

	env := next(t, s)
	require.Equal(t, Topic(1), env.Topic)
	require.Equal(t, EventMessageNew, env.Event)

	got, err := DecodeMessage(env)
	require.NoError(t, err)
	require.Equal(t, int64(7), got.ID)
	require.Equal(t, "hi", got.Text)
	require.Equal(t, "A", got.Author.Name)
}

func TestHub_TopicIsolation(t *testing.T) {
	hub, url := bootstrapHub(t)
	first := dial(t, url)
	second := dial(t, url)
	other := dial(t, url)

	subscribe(t, first, Topic(1))
	subscribe(t, second, Topic(1))
	subscribe(t, other, Topic(2))

	require.NoError(t, hub.Publish(context.Background(), Topic(1), EventMessageNew, storage.Message{ID: 1, ChannelID: 1}))

	require.Equal(t, EventMessageNew, next(t, first).Event)
	require.Equal(t, EventMessageNew, next(t, second).Event)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err := other.Next(ctx)
	require.Error(t, err)
}

func TestHub_SwitchTopic(t *testing.T) {
	hub, url := bootstrapHub(t)
	s := dial(t, url)

	subscribe(t, s, Topic(1))
	subscribe(t, s, Topic(2))

	require.Equal(t, 0, hub.Subscribers(Topic(1)))
	require.Equal(t, 1, hub.Subscribers(Topic(2)))

	require.NoError(t, hub.Publish(context.Background(), Topic(1), EventMessageNew, storage.Message{ID: 1, ChannelID: 1}))
	require.NoError(t, hub.Publish(context.Background(), Topic(2), EventMessageNew, storage.Message{ID: 2, ChannelID: 2}))

	// only the second publish reaches the client
	env := next(t, s)
	require.Equal(t, Topic(2), env.Topic)
}

func TestHub_Unsubscribe(t *testing.T) {
	hub, url := bootstrapHub(t)
	s := dial(t, url)

	subscribe(t, s, Topic(1))
	require.NoError(t, s.Unsubscribe())

	env := next(t, s)
	require.Equal(t, eventUnsubscribed, env.Event)
	require.Equal(t, Topic(1), env.Topic)
	require.Equal(t, 0, hub.Subscribers(Topic(1)))
}

func TestHub_UnknownTopicIgnored(t *testing.T) {
	hub, url := bootstrapHub(t)
	s := dial(t, url)

	require.NoError(t, s.Subscribe("general"))
	subscribe(t, s, Topic(3))

	require.Equal(t, 0, hub.Subscribers("general"))
	require.Equal(t, 1, hub.Subscribers(Topic(3)))
}

func TestHub_PublishAfterShutdown(t *testing.T) {
	hub := NewHub(zap.NewNop().Sugar())
	go hub.Run()
	require.NoError(t, hub.Shutdown(time.Second))

	err := hub.Publish(context.Background(), Topic(1), EventMessageNew, storage.Message{})
	require.Equal(t, ErrHubClosed, err)
}

func TestHub_DisconnectUnregisters(t *testing.T) {
	hub, url := bootstrapHub(t)
	s := dial(t, url)
	subscribe(t, s, Topic(1))

	require.NoError(t, s.Close())

	require.Eventually(t, func() bool {
		return hub.Clients() == 0 && hub.Subscribers(Topic(1)) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHub_SlowClientDropped(t *testing.T) {
	hub, url := bootstrapHub(t)
	slow := dial(t, url)
	fast := dial(t, url)

	subscribe(t, slow, Topic(1))
	subscribe(t, fast, Topic(1))
	require.Equal(t, 2, hub.Subscribers(Topic(1)))

	const (
		batch = 32
		limit = 1500
	)
	text := strings.Repeat("x", 64<<10)

	// fast reads every batch before the next one is published, so its buffer never holds
	// more than one batch. slow never reads and fills the socket and then its buffer.
	published := 0
	for published < limit && hub.Clients() == 2 {
		for i := 0; i < batch; i++ {
			published++
			m := storage.Message{ID: int64(published), ChannelID: 1, Text: text}
			require.NoError(t, hub.Publish(context.Background(), Topic(1), EventMessageNew, m))
		}
		for i := 0; i < batch; i++ {
			got, err := DecodeMessage(next(t, fast))
			require.NoError(t, err)
			require.Equal(t, int64(published-batch+i+1), got.ID)
		}
	}

	require.Greater(t, published, sendBufferSize)
	require.Equal(t, 1, hub.Clients())
	require.Equal(t, 1, hub.Subscribers(Topic(1)))

	// the remaining subscriber keeps receiving
	require.NoError(t, hub.Publish(context.Background(), Topic(1), EventMessageNew, storage.Message{ID: 9999, ChannelID: 1}))
	got, err := DecodeMessage(next(t, fast))
	require.NoError(t, err)
	require.Equal(t, int64(9999), got.ID)
}

func TestSubscriber_NextCancelled(t *testing.T) {
	_, url := bootstrapHub(t)
	s := dial(t, url)
	subscribe(t, s, Topic(1))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	start := time.Now()
	_, err := s.Next(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Less(t, time.Since(start), 2*time.Second)
}
