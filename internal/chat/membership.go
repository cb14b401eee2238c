package chat

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"teamchat/internal/storage"
)

// JoinResult tells whether Join added a membership
type JoinResult int

const (
	JoinCreated JoinResult = iota
	JoinAlreadyMember
)

func (r JoinResult) String() string {
	if r == JoinAlreadyMember {
		return "already member"
	}
	return "created"
}

// Membership decides who belongs to which channel
type Membership struct {
	logger *zap.SugaredLogger
	gw     storage.Gateway
}

func NewMembership(logger *zap.SugaredLogger, gw storage.Gateway) *Membership {
	return &Membership{logger: logger, gw: gw}
}

// CreateChannel creates channel with creator as its only member
func (m *Membership) CreateChannel(ctx context.Context, creator int64, name string) (storage.ChannelSummary, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return storage.ChannelSummary{}, newError(ErrInvalidInput, "Channel name is required")
	}

	c, err := m.gw.CreateChannel(ctx, name, creator)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotExist) {
			return storage.ChannelSummary{}, newError(ErrUnauthenticated, "Unauthorized")
		}
		return storage.ChannelSummary{}, transient("create channel", err)
	}

	return storage.ChannelSummary{Channel: c, MemberCount: 1}, nil
}

// ListChannels returns all channels newest first, membership is not required
func (m *Membership) ListChannels(ctx context.Context) ([]storage.ChannelSummary, error) {
	channels, err := m.gw.Channels(ctx)
	if err != nil {
		return nil, transient("list channels", err)
	}
	return channels, nil
}

// Join is idempotent, a membership created by a concurrent call counts as JoinAlreadyMember
func (m *Membership) Join(ctx context.Context, user, channel int64) (JoinResult, error) {
	ok, err := m.gw.IsMember(ctx, user, channel)
	if err != nil {
		return 0, transient("find membership", err)
	}
	if ok {
		return JoinAlreadyMember, nil
	}

	err = m.gw.CreateMembership(ctx, user, channel)
	switch {
	case err == nil:
		m.logger.Debugf("User (id: %d) joined channel (id: %d)", user, channel)
		return JoinCreated, nil
	case errors.Is(err, storage.ErrMembershipExists):
		return JoinAlreadyMember, nil
	case errors.Is(err, storage.ErrChannelNotExist):
		return 0, newError(ErrNotFound, "Channel not found")
	case errors.Is(err, storage.ErrUserNotExist):
		return 0, newError(ErrUnauthenticated, "Unauthorized")
	default:
		return 0, transient("create membership", err)
	}
}

// Leave removes membership, leaving a channel one is not member of is not an error
func (m *Membership) Leave(ctx context.Context, user, channel int64) error {
	if err := m.gw.DeleteMembership(ctx, user, channel); err != nil {
		return transient("delete membership", err)
	}
	return nil
}
