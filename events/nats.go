package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/tolelom/dmachain/internal/logger"
)

// Publisher is the subset of *nats.Conn the bridge needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSConfig configures the broker connection.
type NATSConfig struct {
	URL            string
	ConnectionName string
	SubjectPrefix  string
	MaxReconnects  int
	ReconnectWait  time.Duration
	PublishRetries uint64
}

// NATSBridge republishes committed events to <prefix>.<event type>.
type NATSBridge struct {
	pub     Publisher
	prefix  string
	retries uint64
}

// NewNATSBridge wraps an established publisher.
func NewNATSBridge(pub Publisher, prefix string, retries uint64) *NATSBridge {
	if prefix == "" {
		prefix = "dma.events"
	}
	return &NATSBridge{pub: pub, prefix: prefix, retries: retries}
}

// ConnectNATS dials the broker, retrying with exponential backoff until
// maxElapsed passes.
func ConnectNATS(cfg NATSConfig, maxElapsed time.Duration) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name(cfg.ConnectionName),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = maxElapsed

	var nc *nats.Conn
	err := backoff.RetryNotify(func() error {
		var err error
		nc, err = nats.Connect(cfg.URL, opts...)
		return err
	}, b, func(err error, wait time.Duration) {
		logger.Warn("nats connect failed, retrying", zap.Error(err), zap.Duration("wait", wait))
	})
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", cfg.URL, err)
	}
	return nc, nil
}

// Subject returns the subject an event type is published on.
func (b *NATSBridge) Subject(typ EventType) string {
	return b.prefix + "." + string(typ)
}

// Handle is an emitter Handler. It never blocks block production for long:
// publishing is retried a bounded number of times and then dropped with a log.
func (b *NATSBridge) Handle(ev Event) {
	if err := b.Publish(ev); err != nil {
		logger.Warn("nats publish dropped", zap.String("event", string(ev.Type)), zap.Error(err))
	}
}

// Publish encodes ev and publishes it with bounded retries.
func (b *NATSBridge) Publish(ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	subject := b.Subject(ev.Type)
	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(50*time.Millisecond), b.retries)
	return backoff.Retry(func() error {
		return b.pub.Publish(subject, data)
	}, policy)
}
