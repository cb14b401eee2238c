package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"teamchat/internal/fanout"
	"teamchat/internal/storage"
)

const (
	minRetryDelay = 500 * time.Millisecond
	maxRetryDelay = 30 * time.Second
	dialTimeout   = 10 * time.Second
)

// follower prints history and live messages of the timeline channel and reconnects
// when the websocket connection is lost
type follower struct {
	logger   *zap.SugaredLogger
	api      *apiClient
	timeline *fanout.Timeline
	out      io.Writer

	retryDelay time.Duration
}

func newFollower(logger *zap.SugaredLogger, api *apiClient, timeline *fanout.Timeline, out io.Writer) *follower {
	return &follower{logger: logger, api: api, timeline: timeline, out: out, retryDelay: minRetryDelay}
}

// loadHistory merges up to pages pages of history walking backwards by cursor
func (f *follower) loadHistory(ctx context.Context, pages int) error {
	cursor := ""
	for i := 0; i < pages; i++ {
		p, err := f.api.page(ctx, f.timeline.Channel(), cursor)
		if err != nil {
			return err
		}
		f.timeline.Merge(p.Messages...)
		if p.NextCursor == nil {
			break
		}
		cursor = *p.NextCursor
	}
	return nil
}

// run prints history and follows the channel until ctx is done
func (f *follower) run(ctx context.Context, pages int) error {
	if err := f.loadHistory(ctx, pages); err != nil {
		return err
	}
	for _, m := range f.timeline.Messages() {
		f.print(m)
	}

	delay := f.retryDelay
	for {
		err := f.session(ctx, func() { delay = f.retryDelay })
		if ctx.Err() != nil {
			return ctx.Err()
		}

		f.logger.Warnf("Connection lost: %v, reconnecting in %s", err, delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if delay *= 2; delay > maxRetryDelay {
			delay = maxRetryDelay
		}
	}
}

// session subscribes, catches up on messages missed while disconnected and prints
// live messages until the connection fails. connected is called once subscribed.
func (f *follower) session(ctx context.Context, connected func()) error {
	url, header := f.api.wsURL()
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	sub, err := fanout.Dial(dialCtx, url, header)
	cancel()
	if err != nil {
		return fmt.Errorf("dial %s: %w", url, err)
	}
	defer sub.Close()

	// subscribe before loading the page, Timeline drops messages seen twice
	if err = sub.Subscribe(fanout.Topic(f.timeline.Channel())); err != nil {
		return err
	}
	connected()

	p, err := f.api.page(ctx, f.timeline.Channel(), "")
	if err != nil {
		return err
	}
	for _, m := range f.timeline.Merge(p.Messages...) {
		f.print(m)
	}

	for {
		env, err := sub.Next(ctx)
		if err != nil {
			return err
		}

		if env.Event != fanout.EventMessageNew {
			f.logger.Debugf("%s: %s", env.Topic, env.Event)
			continue
		}

		m, err := fanout.DecodeMessage(env)
		if err != nil {
			f.logger.Warnf("Cannot decode message: %v", err)
			continue
		}
		for _, added := range f.timeline.Merge(m) {
			f.print(added)
		}
	}
}

func (f *follower) print(m storage.Message) {
	fmt.Fprintf(f.out, "[%s] %s: %s\n", m.CreatedAt.Local().Format("15:04:05"), m.Author.Name, m.Text)
}
