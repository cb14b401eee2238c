package chat

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"teamchat/internal/fanout"
	"teamchat/internal/storage"
)

// DefaultPageSize is number of messages returned by Messages.Page
const DefaultPageSize = 20

// Page is a slice of channel history in oldest first order.
// NextCursor is empty when there is nothing older.
type Page struct {
	Messages   []storage.Message
	NextCursor string
}

// Messages is the append only per channel message log
type Messages struct {
	logger    *zap.SugaredLogger
	gw        storage.Gateway
	publisher fanout.Publisher
	pageSize  int
}

// NewMessages returns Messages publishing created messages through p.
// pageSize below one falls back to DefaultPageSize.
func NewMessages(logger *zap.SugaredLogger, gw storage.Gateway, p fanout.Publisher, pageSize int) *Messages {
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	return &Messages{logger: logger, gw: gw, publisher: p, pageSize: pageSize}
}

// Append persists message and publishes it on the channel topic.
// Publishing failure is logged only, the message stays committed.
func (ms *Messages) Append(ctx context.Context, channel, author int64, text string) (storage.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return storage.Message{}, newError(ErrInvalidInput, "Message text is required")
	}

	m, err := ms.gw.CreateMessage(ctx, channel, author, text)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotMember):
			return storage.Message{}, newError(ErrForbidden, "You are not a member of this channel")
		case errors.Is(err, storage.ErrChannelNotExist):
			return storage.Message{}, newError(ErrNotFound, "Channel not found")
		default:
			return storage.Message{}, transient("create message", err)
		}
	}

	// the request context may be cancelled once the response is written
	err = ms.publisher.Publish(context.WithoutCancel(ctx), fanout.Topic(channel), fanout.EventMessageNew, m)
	if err != nil {
		ms.logger.Errorf("publishing message (id: %d) to %s: %v", m.ID, fanout.Topic(channel), err)
	}

	return m, nil
}

// Page returns up to page size messages strictly older than cursor message,
// the newest ones when cursor is empty
func (ms *Messages) Page(ctx context.Context, channel int64, cursor string) (Page, error) {
	var before int64
	if cursor != "" {
		id, err := strconv.ParseInt(cursor, 10, 64)
		if err != nil || id < 1 {
			return Page{}, newError(ErrInvalidInput, "Malformed cursor")
		}
		before = id
	}

	// one extra row tells whether older messages exist
	messages, err := ms.gw.MessagesBefore(ctx, channel, before, ms.pageSize+1)
	if err != nil {
		return Page{}, transient("list messages", err)
	}

	if len(messages) == 0 {
		if _, err = ms.gw.ChannelByID(ctx, channel); err != nil {
			if errors.Is(err, storage.ErrChannelNotExist) {
				return Page{}, newError(ErrNotFound, "Channel not found")
			}
			return Page{}, transient("find channel", err)
		}
	}

	var page Page
	if len(messages) > ms.pageSize {
		messages = messages[:ms.pageSize]
		page.NextCursor = strconv.FormatInt(messages[len(messages)-1].ID, 10)
	}

	page.Messages = reverse(messages)

	return page, nil
}

func reverse(messages []storage.Message) []storage.Message {
	reversed := make([]storage.Message, len(messages))
	for i, m := range messages {
		reversed[len(messages)-1-i] = m
	}
	return reversed
}
