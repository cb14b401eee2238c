package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrEmailExists      = errors.New("email already registered")
	ErrUserNotExist     = errors.New("user does not exist")
	ErrChannelNotExist  = errors.New("channel does not exist")
	ErrMembershipExists = errors.New("membership already exists")
	ErrNotMember        = errors.New("author is not channel member")
)

// Gateway is the set of datastore operations the chat core depends on.
// Implementations must be safe for concurrent use.
type Gateway interface {
	CreateUser(ctx context.Context, name, email, passwordHash string) (User, error)
	UserByID(ctx context.Context, id int64) (User, error)
	UserByEmail(ctx context.Context, email string) (User, error)
	// TouchUser sets last active time of the user
	TouchUser(ctx context.Context, id int64, at time.Time) error
	// UsersActiveSince returns users active at or after since, ordered by name and id
	UsersActiveSince(ctx context.Context, since time.Time) ([]UserSummary, error)

	// CreateChannel creates the channel and the creator membership as one unit
	CreateChannel(ctx context.Context, name string, creator int64) (Channel, error)
	ChannelByID(ctx context.Context, id int64) (Channel, error)
	// Channels returns every channel with member count, newest first
	Channels(ctx context.Context) ([]ChannelSummary, error)

	IsMember(ctx context.Context, user, channel int64) (bool, error)
	CreateMembership(ctx context.Context, user, channel int64) error
	// DeleteMembership does not fail when membership is absent
	DeleteMembership(ctx context.Context, user, channel int64) error

	// CreateMessage inserts a message only if author is a member of the channel,
	// otherwise ErrNotMember is returned
	CreateMessage(ctx context.Context, channel, author int64, text string) (Message, error)
	// MessagesBefore returns at most limit messages of the channel ordered newest first
	// by (created_at, id). When cursor is non-zero only messages strictly older than
	// the cursor message are returned.
	MessagesBefore(ctx context.Context, channel, cursor int64, limit int) ([]Message, error)

	Close()
}

// ErrClosed is returned by Memory after Close
var ErrClosed = errors.New("gateway is closed")
