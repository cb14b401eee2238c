package fanout

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

var ErrHubClosed = errors.New("hub is closed")

type subscription struct {
	client *Client
	topic  string // empty topic unsubscribes
}

type broadcast struct {
	topic   string
	payload []byte
}

// Hub manages websocket clients and their topic subscriptions. Every client is
// subscribed to at most one topic. Registration, subscription changes, deliveries
// and closing of client send channels all happen on the Run goroutine.
type Hub struct {
	logger *zap.SugaredLogger

	clients map[*Client]struct{}
	topics  map[string]map[*Client]struct{}
	mutex   sync.RWMutex

	register   chan *Client
	unregister chan *Client
	subscribe  chan subscription
	broadcast  chan broadcast

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

var _ Publisher = (*Hub)(nil)

// NewHub returns Hub ready to be started with Run
func NewHub(logger *zap.SugaredLogger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		logger:     logger,
		clients:    make(map[*Client]struct{}),
		topics:     make(map[string]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		subscribe:  make(chan subscription),
		broadcast:  make(chan broadcast, 256),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Publish queues event for the subscribers of topic and returns without waiting for delivery
func (h *Hub) Publish(ctx context.Context, topic, event string, payload interface{}) error {
	if h.ctx.Err() != nil {
		return ErrHubClosed
	}

	data, err := encode(topic, event, payload)
	if err != nil {
		return err
	}

	select {
	case h.broadcast <- broadcast{topic: topic, payload: data}:
		return nil
	case <-h.ctx.Done():
		return ErrHubClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribers returns number of clients subscribed to topic
func (h *Hub) Subscribers(topic string) int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.topics[topic])
}

// Clients returns number of connected clients
func (h *Hub) Clients() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// Run handles registration, subscriptions and broadcasts until Shutdown is called
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = struct{}{}
			count := len(h.clients)
			h.mutex.Unlock()
			h.logger.Debugf("Client %s registered for user (id: %d). Total clients: %d", client.id, client.userID, count)

			h.wg.Add(2)
			go func() {
				defer h.wg.Done()
				client.writePump()
			}()
			go func() {
				defer h.wg.Done()
				client.readPump()
			}()

		case client := <-h.unregister:
			h.remove(client)

		case sub := <-h.subscribe:
			h.handleSubscription(sub)

		case msg := <-h.broadcast:
			h.handleBroadcast(msg)
		}
	}
}

func (h *Hub) handleSubscription(sub subscription) {
	h.mutex.Lock()
	if _, ok := h.clients[sub.client]; !ok {
		h.mutex.Unlock()
		return
	}

	previous := sub.client.topic
	if previous != "" {
		h.detach(sub.client)
	}
	if sub.topic != "" {
		if h.topics[sub.topic] == nil {
			h.topics[sub.topic] = make(map[*Client]struct{})
		}
		h.topics[sub.topic][sub.client] = struct{}{}
		sub.client.topic = sub.topic
	}
	h.mutex.Unlock()

	ack, topic := eventSubscribed, sub.topic
	if sub.topic == "" {
		ack, topic = eventUnsubscribed, previous
	}
	data, _ := encode(topic, ack, nil)
	if !h.send(sub.client, data) {
		h.drop(sub.client)
	}
}

func (h *Hub) handleBroadcast(msg broadcast) {
	h.mutex.RLock()
	targets := make([]*Client, 0, len(h.topics[msg.topic]))
	for client := range h.topics[msg.topic] {
		targets = append(targets, client)
	}
	h.mutex.RUnlock()

	h.logger.Debugf("Broadcasting to %d clients of %s", len(targets), msg.topic)

	for _, client := range targets {
		if !h.send(client, msg.payload) {
			h.logger.Warnf("Client %s removed due to full send buffer", client.id)
			h.drop(client)
		}
	}
}

// drop removes a client that stopped draining its buffer. Its writePump may be blocked
// in a write on a full socket, closing the connection unblocks it.
func (h *Hub) drop(client *Client) {
	h.remove(client)
	if err := client.conn.Close(); err != nil && !isExpectedCloseError(err) {
		h.logger.Debugf("Closing connection of dropped client %s: %v", client.id, err)
	}
}

// send never blocks, false means client buffer is full
func (h *Hub) send(client *Client, payload []byte) bool {
	select {
	case client.send <- payload:
		return true
	default:
		return false
	}
}

// remove forgets client and closes its send channel, which makes writePump close the connection
func (h *Hub) remove(client *Client) {
	h.mutex.Lock()
	if _, ok := h.clients[client]; !ok {
		h.mutex.Unlock()
		return
	}
	h.detach(client)
	delete(h.clients, client)
	count := len(h.clients)
	h.mutex.Unlock()

	close(client.send)
	h.logger.Debugf("Client %s unregistered. Total clients: %d", client.id, count)
}

// detach must be called with mutex held
func (h *Hub) detach(client *Client) {
	if subscribers, ok := h.topics[client.topic]; ok {
		delete(subscribers, client)
		if len(subscribers) == 0 {
			delete(h.topics, client.topic)
		}
	}
	client.topic = ""
}

func (h *Hub) shutdownClients() {
	h.mutex.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.clients = make(map[*Client]struct{})
	h.topics = make(map[string]map[*Client]struct{})
	h.mutex.Unlock()

	for _, client := range clients {
		close(client.send)
		if err := client.conn.Close(); err != nil && !isExpectedCloseError(err) {
			h.logger.Warnf("Closing client %s connection: %v", client.id, err)
		}
	}

	h.logger.Infof("Closed %d client connections", len(clients))
}

// Shutdown stops Run and waits for client goroutines to finish or timeout to pass
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.cancel()
	<-h.done

	finished := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-time.After(timeout):
		return context.DeadlineExceeded
	}
}
