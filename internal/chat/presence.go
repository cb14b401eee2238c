package chat

import (
	"context"
	"errors"
	"time"

	"teamchat/internal/storage"
)

// DefaultOnlineThreshold is how long a heartbeat keeps user online
const DefaultOnlineThreshold = 30 * time.Second

// Online reports whether activity at lastActive still counts as online at now.
// Zero lastActive means the user never sent a heartbeat.
func Online(now, lastActive time.Time, threshold time.Duration) bool {
	if lastActive.IsZero() {
		return false
	}
	return now.Sub(lastActive) <= threshold
}

// PresenceStatus is the derived presence of one user
type PresenceStatus struct {
	Online     bool
	LastActive time.Time
}

// Presence derives online users from last active timestamps at query time
type Presence struct {
	gw        storage.Gateway
	threshold time.Duration
	now       func() time.Time
}

// NewPresence returns Presence, threshold below or equal zero falls back to DefaultOnlineThreshold.
// now may be nil.
func NewPresence(gw storage.Gateway, threshold time.Duration, now func() time.Time) *Presence {
	if threshold <= 0 {
		threshold = DefaultOnlineThreshold
	}
	if now == nil {
		now = time.Now
	}
	return &Presence{gw: gw, threshold: threshold, now: now}
}

func (p *Presence) Heartbeat(ctx context.Context, user int64) error {
	err := p.gw.TouchUser(ctx, user, p.now())
	if err != nil {
		if errors.Is(err, storage.ErrUserNotExist) {
			return newError(ErrUnauthenticated, "Unauthorized")
		}
		return transient("touch user", err)
	}
	return nil
}

// ListOnline returns users active within threshold ordered by name
func (p *Presence) ListOnline(ctx context.Context) ([]storage.UserSummary, error) {
	users, err := p.gw.UsersActiveSince(ctx, p.now().Add(-p.threshold))
	if err != nil {
		return nil, transient("list active users", err)
	}
	return users, nil
}

func (p *Presence) Status(ctx context.Context, user int64) (PresenceStatus, error) {
	u, err := p.gw.UserByID(ctx, user)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotExist) {
			return PresenceStatus{}, newError(ErrNotFound, "User not found")
		}
		return PresenceStatus{}, transient("find user", err)
	}

	return PresenceStatus{
		Online:     Online(p.now(), u.LastActive, p.threshold),
		LastActive: u.LastActive,
	}, nil
}
