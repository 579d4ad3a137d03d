package transport

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
)

// ConnectionStatus represents the state of the broker connection.
type ConnectionStatus int32

// Possible connection statuses.
const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnected
	StatusReconnecting
	StatusClosed
)

// String returns the string representation of ConnectionStatus.
func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Options configures a NATS-backed bus.
type Options struct {
	URL           string        // Broker URL (default: nats.DefaultURL)
	Username      string        // Optional credentials
	Password      string        //
	ClientName    string        // Name announced to the broker
	MaxReconnects int           // -1 = retry forever (default)
	ReconnectWait time.Duration // Delay between reconnect attempts (default: 2s)
	Timeout       time.Duration // Initial connection timeout (default: 10s)
	DrainTimeout  time.Duration // Shutdown drain budget (default: 5s)
}

// NATSBus is a Bus backed by a NATS connection. Slash-notation topics are
// translated to subjects on publish and subscribe, so callers never see
// subject syntax.
type NATSBus struct {
	conn   *nats.Conn
	opts   Options
	status atomic.Int32

	mu   sync.Mutex
	subs []*nats.Subscription
}

// Connect establishes the broker connection with automatic reconnection.
func Connect(opts Options) (*NATSBus, error) {
	if opts.URL == "" {
		opts.URL = nats.DefaultURL
	}
	if opts.MaxReconnects == 0 {
		opts.MaxReconnects = -1
	}
	if opts.ReconnectWait == 0 {
		opts.ReconnectWait = 2 * time.Second
	}
	if opts.Timeout == 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.DrainTimeout == 0 {
		opts.DrainTimeout = 5 * time.Second
	}

	b := &NATSBus{opts: opts}

	natsOpts := []nats.Option{
		nats.Name(opts.ClientName),
		nats.MaxReconnects(opts.MaxReconnects),
		nats.ReconnectWait(opts.ReconnectWait),
		nats.Timeout(opts.Timeout),
		nats.DrainTimeout(opts.DrainTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			b.status.Store(int32(StatusReconnecting))
			if err != nil {
				log.Printf("Warning: broker connection lost: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			b.status.Store(int32(StatusConnected))
			log.Printf("Reconnected to broker at %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			b.status.Store(int32(StatusClosed))
		}),
	}
	if opts.Username != "" {
		natsOpts = append(natsOpts, nats.UserInfo(opts.Username, opts.Password))
	}

	conn, err := nats.Connect(opts.URL, natsOpts...)
	if err != nil {
		return nil, fmt.Errorf("transport: failed to connect to %s: %w", opts.URL, err)
	}

	b.conn = conn
	b.status.Store(int32(StatusConnected))
	log.Printf("Connected to broker at %s", conn.ConnectedUrl())
	return b, nil
}

// Status returns the current connection status.
func (b *NATSBus) Status() ConnectionStatus {
	return ConnectionStatus(b.status.Load())
}

// Publish sends payload to a slash-notation topic.
func (b *NATSBus) Publish(_ context.Context, topic string, payload []byte) error {
	if b.conn == nil || !b.conn.IsConnected() {
		return ErrNotConnected
	}
	if err := b.conn.Publish(topicToSubject(topic), payload); err != nil {
		return fmt.Errorf("transport: publish to %s failed: %w", topic, err)
	}
	return nil
}

// Subscribe registers handler for every message matching pattern. The handler
// runs on the connection's message loop with a per-message timeout context.
func (b *NATSBus) Subscribe(ctx context.Context, pattern string, handler MessageHandler) error {
	if b.conn == nil || !b.conn.IsConnected() {
		return ErrNotConnected
	}

	sub, err := b.conn.Subscribe(topicToSubject(pattern), func(msg *nats.Msg) {
		msgCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		handler(msgCtx, subjectToTopic(msg.Subject), msg.Data)
	})
	if err != nil {
		return fmt.Errorf("transport: subscribe to %s failed: %w", pattern, err)
	}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
	return nil
}

// Close drains all subscriptions and disconnects from the broker.
func (b *NATSBus) Close(ctx context.Context) error {
	if b.conn == nil {
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- b.conn.Drain() }()

	select {
	case err := <-done:
		if err != nil {
			b.conn.Close()
			return fmt.Errorf("transport: drain failed: %w", err)
		}
	case <-ctx.Done():
		b.conn.Close()
		return fmt.Errorf("transport: drain timed out: %w", ctx.Err())
	}

	b.status.Store(int32(StatusClosed))
	return nil
}

var _ Bus = (*NATSBus)(nil)
