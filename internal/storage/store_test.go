package storage

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	mytesting "teamchat/internal/testing"
)

// gateways returns every Gateway implementation reachable from the test environment.
// Postgres is used only when TEST_DATABASE_DSN is set.
func gateways(t *testing.T) map[string]func(t *testing.T) Gateway {
	impls := map[string]func(t *testing.T) Gateway{
		"memory": func(t *testing.T) Gateway { return NewMemory(nil) },
	}

	dsn := os.Getenv("TEST_DATABASE_DSN")
	if dsn != "" {
		impls["postgres"] = func(t *testing.T) Gateway {
			logger, err := zap.NewDevelopment()
			require.NoError(t, err)
			s, err := NewStore(context.Background(), logger.Sugar(), Config{URL: dsn}, ConnectionTimeout(5*time.Second))
			require.NoError(t, err)
			require.NoError(t, s.Migrate(context.Background()))
			t.Cleanup(s.Close)
			return s
		}
	}

	return impls
}

func createUser(t *testing.T, g Gateway) User {
	name := mytesting.RandString()
	u, err := g.CreateUser(context.Background(), name, strings.ToLower(name)+"@example.com", "hash")
	require.NoError(t, err)
	return u
}

func TestGateway(t *testing.T) {
	for name, newGateway := range gateways(t) {
		newGateway := newGateway
		t.Run(name, func(t *testing.T) {
			t.Run("CreateUser", func(t *testing.T) { testCreateUser(t, newGateway(t)) })
			t.Run("CreateUserEmailExists", func(t *testing.T) { testCreateUserEmailExists(t, newGateway(t)) })
			t.Run("TouchUser", func(t *testing.T) { testTouchUser(t, newGateway(t)) })
			t.Run("CreateChannel", func(t *testing.T) { testCreateChannel(t, newGateway(t)) })
			t.Run("CreateChannelBadCreator", func(t *testing.T) { testCreateChannelBadCreator(t, newGateway(t)) })
			t.Run("Membership", func(t *testing.T) { testMembership(t, newGateway(t)) })
			t.Run("ConcurrentMembership", func(t *testing.T) { testConcurrentMembership(t, newGateway(t)) })
			t.Run("CreateMessage", func(t *testing.T) { testCreateMessage(t, newGateway(t)) })
			t.Run("MessagesBefore", func(t *testing.T) { testMessagesBefore(t, newGateway(t)) })
		})
	}
}

func testCreateUser(t *testing.T, g Gateway) {
	u := createUser(t, g)
	require.NotZero(t, u.ID)

	found, err := g.UserByID(context.Background(), u.ID)
	require.NoError(t, err)
	require.Equal(t, u.Email, found.Email)
	require.True(t, found.LastActive.IsZero())

	found, err = g.UserByEmail(context.Background(), u.Email)
	require.NoError(t, err)
	require.Equal(t, u.ID, found.ID)

	_, err = g.UserByEmail(context.Background(), "missing-"+u.Email)
	require.Equal(t, ErrUserNotExist, err)
}

func testCreateUserEmailExists(t *testing.T, g Gateway) {
	u := createUser(t, g)

	_, err := g.CreateUser(context.Background(), "other", u.Email, "hash")
	require.Equal(t, ErrEmailExists, err)
}

func testTouchUser(t *testing.T, g Gateway) {
	ctx := context.Background()
	active := createUser(t, g)
	stale := createUser(t, g)

	now := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, g.TouchUser(ctx, active.ID, now))
	require.NoError(t, g.TouchUser(ctx, stale.ID, now.Add(-time.Minute)))
	require.Equal(t, ErrUserNotExist, g.TouchUser(ctx, -1, now))

	users, err := g.UsersActiveSince(ctx, now.Add(-30*time.Second))
	require.NoError(t, err)

	ids := make([]int64, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.ID)
	}
	require.Contains(t, ids, active.ID)
	require.NotContains(t, ids, stale.ID)
}

func testCreateChannel(t *testing.T, g Gateway) {
	ctx := context.Background()
	u := createUser(t, g)

	first, err := g.CreateChannel(ctx, mytesting.RandString(), u.ID)
	require.NoError(t, err)
	second, err := g.CreateChannel(ctx, mytesting.RandString(), u.ID)
	require.NoError(t, err)

	ok, err := g.IsMember(ctx, u.ID, first.ID)
	require.NoError(t, err)
	require.True(t, ok)

	channels, err := g.Channels(ctx)
	require.NoError(t, err)

	// newest first
	positions := map[int64]int{}
	for i, c := range channels {
		positions[c.ID] = i
		if c.ID == first.ID || c.ID == second.ID {
			require.Equal(t, 1, c.MemberCount)
		}
	}
	require.Less(t, positions[second.ID], positions[first.ID])

	_, err = g.ChannelByID(ctx, -1)
	require.Equal(t, ErrChannelNotExist, err)
}

func testCreateChannelBadCreator(t *testing.T, g Gateway) {
	_, err := g.CreateChannel(context.Background(), mytesting.RandString(), -1)
	require.Equal(t, ErrUserNotExist, err)
}

func testMembership(t *testing.T, g Gateway) {
	ctx := context.Background()
	owner := createUser(t, g)
	guest := createUser(t, g)

	c, err := g.CreateChannel(ctx, mytesting.RandString(), owner.ID)
	require.NoError(t, err)

	require.NoError(t, g.CreateMembership(ctx, guest.ID, c.ID))
	require.Equal(t, ErrMembershipExists, g.CreateMembership(ctx, guest.ID, c.ID))
	require.Equal(t, ErrChannelNotExist, g.CreateMembership(ctx, guest.ID, -1))

	require.NoError(t, g.DeleteMembership(ctx, guest.ID, c.ID))
	require.NoError(t, g.DeleteMembership(ctx, guest.ID, c.ID))

	ok, err := g.IsMember(ctx, guest.ID, c.ID)
	require.NoError(t, err)
	require.False(t, ok)
}

func testConcurrentMembership(t *testing.T, g Gateway) {
	ctx := context.Background()
	owner := createUser(t, g)
	guest := createUser(t, g)

	c, err := g.CreateChannel(ctx, mytesting.RandString(), owner.ID)
	require.NoError(t, err)

	const n = 8
	errs := make(chan error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- g.CreateMembership(ctx, guest.ID, c.ID)
		}()
	}
	wg.Wait()
	close(errs)

	created := 0
	for err := range errs {
		if err == nil {
			created++
			continue
		}
		require.Equal(t, ErrMembershipExists, err)
	}
	require.Equal(t, 1, created)
}

func testCreateMessage(t *testing.T, g Gateway) {
	ctx := context.Background()
	owner := createUser(t, g)
	stranger := createUser(t, g)

	c, err := g.CreateChannel(ctx, mytesting.RandString(), owner.ID)
	require.NoError(t, err)

	m, err := g.CreateMessage(ctx, c.ID, owner.ID, "Hi There!")
	require.NoError(t, err)
	require.NotZero(t, m.ID)
	require.Equal(t, "Hi There!", m.Text)
	require.Equal(t, owner.ID, m.Author.ID)
	require.Equal(t, owner.Email, m.Author.Email)
	require.False(t, m.CreatedAt.IsZero())

	_, err = g.CreateMessage(ctx, c.ID, stranger.ID, "Hi There!")
	require.Equal(t, ErrNotMember, err)

	_, err = g.CreateMessage(ctx, -1, owner.ID, "Hi There!")
	require.Equal(t, ErrChannelNotExist, err)
}

func testMessagesBefore(t *testing.T, g Gateway) {
	ctx := context.Background()
	owner := createUser(t, g)

	c, err := g.CreateChannel(ctx, mytesting.RandString(), owner.ID)
	require.NoError(t, err)

	ids := make([]int64, 0, 5)
	for i := 0; i < 5; i++ {
		m, err := g.CreateMessage(ctx, c.ID, owner.ID, mytesting.RandString())
		require.NoError(t, err)
		ids = append(ids, m.ID)
	}
	newestFirst := mytesting.ReverseIDs(ids)

	messages, err := g.MessagesBefore(ctx, c.ID, 0, 3)
	require.NoError(t, err)
	require.Equal(t, newestFirst[:3], messageIDs(messages))

	messages, err = g.MessagesBefore(ctx, c.ID, newestFirst[2], 3)
	require.NoError(t, err)
	require.Equal(t, newestFirst[3:], messageIDs(messages))

	messages, err = g.MessagesBefore(ctx, c.ID, ids[0], 3)
	require.NoError(t, err)
	require.Empty(t, messages)

	// cursor of another channel
	other, err := g.CreateChannel(ctx, mytesting.RandString(), owner.ID)
	require.NoError(t, err)
	messages, err = g.MessagesBefore(ctx, other.ID, ids[4], 3)
	require.NoError(t, err)
	require.Empty(t, messages)
}

func messageIDs(messages []Message) []int64 {
	ids := make([]int64, 0, len(messages))
	for _, m := range messages {
		ids = append(ids, m.ID)
	}
	return ids
}

func TestMemory_TieBreakByID(t *testing.T) {
	ctx := context.Background()
	fixed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	g := NewMemory(func() time.Time { return fixed })

	u := createUser(t, g)
	c, err := g.CreateChannel(ctx, "general", u.ID)
	require.NoError(t, err)

	ids := make([]int64, 0, 4)
	for i := 0; i < 4; i++ {
		m, err := g.CreateMessage(ctx, c.ID, u.ID, "same instant")
		require.NoError(t, err)
		ids = append(ids, m.ID)
	}

	for i := 0; i < 3; i++ {
		messages, err := g.MessagesBefore(ctx, c.ID, 0, 10)
		require.NoError(t, err)
		require.Equal(t, mytesting.ReverseIDs(ids), messageIDs(messages))
	}
}

func TestMemory_Closed(t *testing.T) {
	g := NewMemory(nil)
	g.Close()

	_, err := g.CreateUser(context.Background(), "a", "a@example.com", "hash")
	require.Equal(t, ErrClosed, err)
	_, err = g.Channels(context.Background())
	require.Equal(t, ErrClosed, err)
}

func TestMemory_ClockGoesBackwards(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	offsets := []time.Duration{0, 2 * time.Second, time.Second, 3 * time.Second, time.Second}
	calls := 0
	g := NewMemory(func() time.Time {
		at := base
		if calls >= 2 {
			// users and channel are created first
			at = base.Add(offsets[(calls-2)%len(offsets)])
		}
		calls++
		return at
	})

	u := createUser(t, g)
	c, err := g.CreateChannel(ctx, "general", u.ID)
	require.NoError(t, err)

	ids := make([]int64, 0, len(offsets))
	for range offsets {
		m, err := g.CreateMessage(ctx, c.ID, u.ID, "tick")
		require.NoError(t, err)
		ids = append(ids, m.ID)
	}

	// by (created_at, id): 0s id0, 1s id2, 1s id4, 2s id1, 3s id3
	messages, err := g.MessagesBefore(ctx, c.ID, 0, 10)
	require.NoError(t, err)
	require.Equal(t, []int64{ids[3], ids[1], ids[4], ids[2], ids[0]}, messageIDs(messages))

	messages, err = g.MessagesBefore(ctx, c.ID, ids[4], 2)
	require.NoError(t, err)
	require.Equal(t, []int64{ids[2], ids[0]}, messageIDs(messages))

	messages, err = g.MessagesBefore(ctx, c.ID, ids[0], 2)
	require.NoError(t, err)
	require.Empty(t, messages)
}

func TestMemory_CursorOfOtherChannel(t *testing.T) {
	ctx := context.Background()
	g := NewMemory(nil)

	u := createUser(t, g)
	a, err := g.CreateChannel(ctx, "a", u.ID)
	require.NoError(t, err)
	b, err := g.CreateChannel(ctx, "b", u.ID)
	require.NoError(t, err)

	_, err = g.CreateMessage(ctx, a.ID, u.ID, "in a")
	require.NoError(t, err)
	inB, err := g.CreateMessage(ctx, b.ID, u.ID, "in b")
	require.NoError(t, err)

	messages, err := g.MessagesBefore(ctx, a.ID, inB.ID, 10)
	require.NoError(t, err)
	require.NotNil(t, messages)
	require.Empty(t, messages)
}
