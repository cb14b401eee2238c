// Package fanout delivers events to live subscribers of a topic. One topic exists
// per channel; the websocket Hub and the NATS publisher share the envelope format.
package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
)

// EventMessageNew is emitted after a message is committed
const EventMessageNew = "message:new"

const (
	eventSubscribed   = "subscribed"
	eventUnsubscribed = "unsubscribed"
)

const topicPrefix = "channel-"

// Topic returns topic name of the channel, e.g. "channel-42"
func Topic(channel int64) string {
	return topicPrefix + strconv.FormatInt(channel, 10)
}

// ChannelFromTopic parses channel id back from topic name
func ChannelFromTopic(topic string) (int64, bool) {
	if !strings.HasPrefix(topic, topicPrefix) {
		return 0, false
	}
	id, err := strconv.ParseInt(topic[len(topicPrefix):], 10, 64)
	if err != nil || id < 1 {
		return 0, false
	}
	return id, true
}

// Publisher sends an event to the subscribers of topic. Implementations
// must not wait for subscribers to receive the event.
type Publisher interface {
	Publish(ctx context.Context, topic, event string, payload interface{}) error
}

// Publishers publishes to every publisher in turn and joins their errors
type Publishers []Publisher

func (ps Publishers) Publish(ctx context.Context, topic, event string, payload interface{}) error {
	var errs []error
	for _, p := range ps {
		if err := p.Publish(ctx, topic, event, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Envelope is the frame received by subscribers
type Envelope struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type outgoing struct {
	Topic   string      `json:"topic"`
	Event   string      `json:"event"`
	Payload interface{} `json:"payload,omitempty"`
}

func encode(topic, event string, payload interface{}) ([]byte, error) {
	return json.Marshal(outgoing{Topic: topic, Event: event, Payload: payload})
}

// frame is sent by websocket clients to manage their subscription
type frame struct {
	Action string `json:"action"`
	Topic  string `json:"topic,omitempty"`
}

const (
	actionSubscribe   = "subscribe"
	actionUnsubscribe = "unsubscribe"
)
