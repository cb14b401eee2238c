package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"
)

type membershipKey struct {
	user, channel int64
}

// Memory is an in-process Gateway used for development runs and tests.
// A single RWMutex serialises writers, so every write is visible atomically.
type Memory struct {
	now func() time.Time

	mu          sync.RWMutex
	users       map[int64]User
	emails      map[string]int64
	channels    map[int64]Channel
	memberships map[membershipKey]struct{}
	messages    map[int64][]Message // per channel, oldest first in (created_at, id) order
	messageByID map[int64]Message
	userSeq     int64
	channelSeq  int64
	messageSeq  int64
	closed      bool
}

var _ Gateway = (*Memory)(nil)

// NewMemory returns empty Memory. now is used for timestamps, time.Now when nil.
func NewMemory(now func() time.Time) *Memory {
	if now == nil {
		now = time.Now
	}
	return &Memory{
		now:         now,
		users:       make(map[int64]User),
		emails:      make(map[string]int64),
		channels:    make(map[int64]Channel),
		memberships: make(map[membershipKey]struct{}),
		messages:    make(map[int64][]Message),
		messageByID: make(map[int64]Message),
	}
}

func (m *Memory) CreateUser(_ context.Context, name, email, passwordHash string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return User{}, ErrClosed
	}

	key := strings.ToLower(email)
	if _, ok := m.emails[key]; ok {
		return User{}, ErrEmailExists
	}

	m.userSeq++
	u := User{ID: m.userSeq, Name: name, Email: email, PasswordHash: passwordHash, CreatedAt: m.now()}
	m.users[u.ID] = u
	m.emails[key] = u.ID

	return u, nil
}

func (m *Memory) UserByID(_ context.Context, id int64) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return User{}, ErrClosed
	}

	u, ok := m.users[id]
	if !ok {
		return User{}, ErrUserNotExist
	}
	return u, nil
}

func (m *Memory) UserByEmail(_ context.Context, email string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return User{}, ErrClosed
	}

	id, ok := m.emails[strings.ToLower(email)]
	if !ok {
		return User{}, ErrUserNotExist
	}
	return m.users[id], nil
}

func (m *Memory) TouchUser(_ context.Context, id int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	u, ok := m.users[id]
	if !ok {
		return ErrUserNotExist
	}
	u.LastActive = at
	m.users[id] = u
	return nil
}

func (m *Memory) UsersActiveSince(_ context.Context, since time.Time) ([]UserSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}

	active := lo.Filter(lo.Values(m.users), func(u User, _ int) bool {
		return !u.LastActive.IsZero() && !u.LastActive.Before(since)
	})
	sort.Slice(active, func(i, j int) bool {
		if active[i].Name != active[j].Name {
			return active[i].Name < active[j].Name
		}
		return active[i].ID < active[j].ID
	})

	return lo.Map(active, func(u User, _ int) UserSummary { return u.Summary() }), nil
}

func (m *Memory) CreateChannel(_ context.Context, name string, creator int64) (Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Channel{}, ErrClosed
	}

	if _, ok := m.users[creator]; !ok {
		return Channel{}, ErrUserNotExist
	}

	m.channelSeq++
	c := Channel{ID: m.channelSeq, Name: name, CreatedAt: m.now()}
	m.channels[c.ID] = c
	m.memberships[membershipKey{user: creator, channel: c.ID}] = struct{}{}

	return c, nil
}

func (m *Memory) ChannelByID(_ context.Context, id int64) (Channel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return Channel{}, ErrClosed
	}

	c, ok := m.channels[id]
	if !ok {
		return Channel{}, ErrChannelNotExist
	}
	return c, nil
}

func (m *Memory) Channels(_ context.Context) ([]ChannelSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}

	counts := make(map[int64]int, len(m.channels))
	for k := range m.memberships {
		counts[k.channel]++
	}

	channels := lo.MapToSlice(m.channels, func(id int64, c Channel) ChannelSummary {
		return ChannelSummary{Channel: c, MemberCount: counts[id]}
	})
	sort.Slice(channels, func(i, j int) bool {
		if !channels[i].CreatedAt.Equal(channels[j].CreatedAt) {
			return channels[i].CreatedAt.After(channels[j].CreatedAt)
		}
		return channels[i].ID > channels[j].ID
	})

	return channels, nil
}

func (m *Memory) IsMember(_ context.Context, user, channel int64) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return false, ErrClosed
	}

	_, ok := m.memberships[membershipKey{user: user, channel: channel}]
	return ok, nil
}

func (m *Memory) CreateMembership(_ context.Context, user, channel int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	if _, ok := m.channels[channel]; !ok {
		return ErrChannelNotExist
	}
	if _, ok := m.users[user]; !ok {
		return ErrUserNotExist
	}

	key := membershipKey{user: user, channel: channel}
	if _, ok := m.memberships[key]; ok {
		return ErrMembershipExists
	}
	m.memberships[key] = struct{}{}

	return nil
}

func (m *Memory) DeleteMembership(_ context.Context, user, channel int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	delete(m.memberships, membershipKey{user: user, channel: channel})
	return nil
}

func (m *Memory) CreateMessage(_ context.Context, channel, author int64, text string) (Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Message{}, ErrClosed
	}

	if _, ok := m.channels[channel]; !ok {
		return Message{}, ErrChannelNotExist
	}
	if _, ok := m.memberships[membershipKey{user: author, channel: channel}]; !ok {
		return Message{}, ErrNotMember
	}

	m.messageSeq++
	msg := Message{
		ID:        m.messageSeq,
		ChannelID: channel,
		AuthorID:  author,
		Text:      text,
		CreatedAt: m.now(),
		Author:    m.users[author].Summary(),
	}
	// a clock going backwards is the only case where msg is not the newest
	log := m.messages[channel]
	i := sort.Search(len(log), func(i int) bool { return older(msg, log[i]) })
	log = append(log, Message{})
	copy(log[i+1:], log[i:])
	log[i] = msg
	m.messages[channel] = log
	m.messageByID[msg.ID] = msg

	return msg, nil
}

func (m *Memory) MessagesBefore(_ context.Context, channel, cursor int64, limit int) ([]Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}

	log := m.messages[channel]
	end := len(log)
	if cursor != 0 {
		c, ok := m.messageByID[cursor]
		if !ok || c.ChannelID != channel {
			return []Message{}, nil
		}
		end = sort.Search(len(log), func(i int) bool { return !older(log[i], c) })
	}

	start := end - limit
	if start < 0 {
		start = 0
	}

	page := make([]Message, 0, end-start)
	for i := end - 1; i >= start; i-- {
		page = append(page, log[i])
	}
	return page, nil
}

func (m *Memory) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
}

// older reports whether a sorts before b in oldest first (created_at, id) order
func older(a, b Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}
