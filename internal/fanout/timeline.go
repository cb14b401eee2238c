package fanout

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"teamchat/internal/storage"
)

// Timeline is the locally held history of one channel. Page loads and live events
// may both carry the same message, Timeline keeps every message id once.
type Timeline struct {
	mu       sync.Mutex
	channel  int64
	seen     map[int64]struct{}
	messages []storage.Message
}

func NewTimeline(channel int64) *Timeline {
	return &Timeline{channel: channel, seen: make(map[int64]struct{})}
}

func (t *Timeline) Channel() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.channel
}

// Reset drops held messages and switches to channel
func (t *Timeline) Reset(channel int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.channel = channel
	t.seen = make(map[int64]struct{})
	t.messages = nil
}

// Merge adds messages of the timeline channel not seen before and returns them in timeline order
func (t *Timeline) Merge(messages ...storage.Message) []storage.Message {
	t.mu.Lock()
	defer t.mu.Unlock()

	var added []storage.Message
	for _, m := range messages {
		if m.ChannelID != t.channel {
			continue
		}
		if _, ok := t.seen[m.ID]; ok {
			continue
		}
		t.seen[m.ID] = struct{}{}
		t.messages = append(t.messages, m)
		added = append(added, m)
	}

	if len(added) > 0 {
		sort.SliceStable(t.messages, func(i, j int) bool { return older(t.messages[i], t.messages[j]) })
		sort.SliceStable(added, func(i, j int) bool { return older(added[i], added[j]) })
	}

	return added
}

// Messages returns copy of held messages oldest first
func (t *Timeline) Messages() []storage.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]storage.Message, len(t.messages))
	copy(out, t.messages)
	return out
}

func (t *Timeline) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.messages)
}

// DecodeMessage extracts message carried by a message:new envelope
func DecodeMessage(env Envelope) (storage.Message, error) {
	if env.Event != EventMessageNew {
		return storage.Message{}, fmt.Errorf("unexpected event %q", env.Event)
	}
	var m storage.Message
	if err := json.Unmarshal(env.Payload, &m); err != nil {
		return storage.Message{}, err
	}
	return m, nil
}

func older(a, b storage.Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}
