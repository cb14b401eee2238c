package fanout

import (
	"context"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NATSConfig defines fields parsed from environment variables.
// Publishing to NATS is disabled when URL is empty. Subjects equal topic names
// unless SubjectPrefix is set.
type NATSConfig struct {
	URL           string `env:"NATS_URL"`
	ClientName    string `env:"NATS_CLIENT_NAME" envDefault:"teamchat"`
	SubjectPrefix string `env:"NATS_SUBJECT_PREFIX"`
}

// Subject returns NATS subject events of topic are published on
func (c NATSConfig) Subject(topic string) string {
	return c.SubjectPrefix + topic
}

// NATSPublisher publishes envelopes to NATS so that subscribers outside this process receive them
type NATSPublisher struct {
	cfg  NATSConfig
	conn *nats.Conn
}

var _ Publisher = (*NATSPublisher)(nil)

func NewNATSPublisher(logger *zap.SugaredLogger, cfg NATSConfig) (*NATSPublisher, error) {
	conn, err := nats.Connect(cfg.URL,
		nats.Name(cfg.ClientName),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warnf("NATS disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Infof("NATS reconnected to %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, err
	}

	return &NATSPublisher{cfg: cfg, conn: conn}, nil
}

// Publish hands the envelope to the NATS client buffer, it does not wait for the server
func (p *NATSPublisher) Publish(_ context.Context, topic, event string, payload interface{}) error {
	data, err := encode(topic, event, payload)
	if err != nil {
		return err
	}
	return p.conn.Publish(p.cfg.Subject(topic), data)
}

// Close flushes pending messages and closes connection
func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}
