package relay

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// Broker abstracts the external pub/sub transport so the relay can be tested
// against an in-memory fake and so broker choice stays a wiring decision.
type Broker interface {
	// Publish sends a payload on a channel.
	Publish(channel string, data []byte) error

	// Subscribe registers a handler for a channel and returns a function
	// that removes the subscription.
	Subscribe(channel string, handler func(data []byte)) (unsubscribe func(), err error)
}

// NATSConfig holds broker connection settings.
type NATSConfig struct {
	URL           string
	User          string
	Password      string
	Name          string // client name shown in broker monitoring
	ConnectTries  int
	ReconnectWait time.Duration
}

// natsBroker adapts a NATS connection to the Broker interface.
type natsBroker struct {
	nc *nats.Conn
}

// DialNATS connects to the broker, retrying at startup so the server can come
// up before the broker does. Reconnection after that is handled by the client
// itself with unlimited retries.
func DialNATS(cfg NATSConfig, logger *slog.Logger) (Broker, func(), error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ConnectTries == 0 {
		cfg.ConnectTries = 30
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 2 * time.Second
	}

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
	}
	if cfg.User != "" {
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}

	var nc *nats.Conn
	var err error
	for attempt := 1; attempt <= cfg.ConnectTries; attempt++ {
		nc, err = nats.Connect(cfg.URL, opts...)
		if err == nil {
			break
		}
		logger.Info("waiting for broker", "attempt", attempt, "error", err)
		time.Sleep(cfg.ReconnectWait)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("connect broker: %w", err)
	}

	logger.Info("connected to broker", "url", nc.ConnectedUrl())

	closer := func() {
		nc.Drain()
	}
	return &natsBroker{nc: nc}, closer, nil
}

func (b *natsBroker) Publish(channel string, data []byte) error {
	return b.nc.Publish(channel, data)
}

func (b *natsBroker) Subscribe(channel string, handler func(data []byte)) (func(), error) {
	sub, err := b.nc.Subscribe(channel, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return nil, err
	}
	return func() { sub.Unsubscribe() }, nil
}
