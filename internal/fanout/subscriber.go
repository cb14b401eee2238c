package fanout

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Subscriber is the client side of Hub connection. Next must be called from a single goroutine,
// Subscribe and Unsubscribe may be called concurrently with it.
type Subscriber struct {
	conn *websocket.Conn
	wmu  sync.Mutex
}

// Dial connects to websocket endpoint at url, header carries credentials
func Dial(ctx context.Context, url string, header http.Header) (*Subscriber, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, err
	}
	return &Subscriber{conn: conn}, nil
}

// Subscribe switches the subscription to topic, the previous topic is dropped by the hub
func (s *Subscriber) Subscribe(topic string) error {
	return s.write(frame{Action: actionSubscribe, Topic: topic})
}

func (s *Subscriber) Unsubscribe() error {
	return s.write(frame{Action: actionUnsubscribe})
}

func (s *Subscriber) write(f frame) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(f)
}

// Next blocks until the next envelope arrives or ctx is done.
// A Subscriber can not be read from anymore once Next returned because of ctx.
func (s *Subscriber) Next(ctx context.Context) (Envelope, error) {
	deadline, _ := ctx.Deadline()
	s.conn.SetReadDeadline(deadline)

	// an expired read deadline unblocks ReadMessage
	stop := context.AfterFunc(ctx, func() {
		s.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	var env Envelope
	_, raw, err := s.conn.ReadMessage()
	if err != nil {
		if ctx.Err() != nil {
			return Envelope{}, ctx.Err()
		}
		return Envelope{}, err
	}
	if err = json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// Close sends close frame and closes the connection
func (s *Subscriber) Close() error {
	s.wmu.Lock()
	s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	s.wmu.Unlock()
	return s.conn.Close()
}
