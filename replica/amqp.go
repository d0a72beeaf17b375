// Package replica implements the REPL half of spec.md §3's propagation
// target bitset: fan-out of propagated commands to replica links over
// AMQP, with automatic reconnection and exponential backoff.
//
// The connection manager shape is dial, NotifyClose-driven reconnect loop,
// exponential backoff with MaxAttempts/InitialInterval/MaxInterval/
// BackoffMultiplier, connected/disconnected callbacks, GetStats. Here the
// connection fans out published messages (one per propagated command
// batch) to an exchange instead of issuing RPC requests.
package replica

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ReconnectConfig holds reconnect/backoff tuning, carried in from
// config.ServerConfig's flags/env-sourced values (config/config.go).
type ReconnectConfig struct {
	Enabled           bool
	MaxAttempts       int
	InitialInterval   time.Duration
	MaxInterval       time.Duration
	BackoffMultiplier float64
	ResetInterval     time.Duration
}

// DefaultReconnectConfig returns sensible reconnect/backoff defaults.
func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		Enabled:           true,
		MaxAttempts:       10,
		InitialInterval:   time.Second,
		MaxInterval:       60 * time.Second,
		BackoffMultiplier: 2.0,
		ResetInterval:     5 * time.Minute,
	}
}

// Sink is what the dispatcher's afterCommand flush publishes propagated
// commands through (spec.md §4.5 "Replicas... consume from the
// propagation buffer").
type Sink interface {
	Publish(ctx context.Context, argv [][]byte) error
	Connected() bool
	Close() error
}

// AMQPSink fans propagated commands out over an AMQP exchange — one
// message per propagated command — so any number of replica consumers can
// bind a queue to it. It is not a point-to-point replication link; broker
// fan-out rather than direct socket replication, since this package's job
// is "deliver propagated commands to however many replicas are listening".
type AMQPSink struct {
	url      string
	exchange string
	cfg      ReconnectConfig

	mu         sync.RWMutex
	conn       *amqp.Connection
	ch         *amqp.Channel
	connected  bool
	attempts   int
	nextWait   time.Duration
	lastErr    error
	lastConnAt time.Time

	onConnected    func()
	onDisconnected func(error)

	stopCh chan struct{}
}

// NewAMQPSink builds a sink that will dial url and publish to exchange.
// Connect must be called before Publish succeeds.
func NewAMQPSink(url, exchange string, cfg ReconnectConfig) *AMQPSink {
	return &AMQPSink{
		url:      url,
		exchange: exchange,
		cfg:      cfg,
		nextWait: cfg.InitialInterval,
		stopCh:   make(chan struct{}),
	}
}

// SetCallbacks registers observability hooks (logging, metrics) wired in
// by the caller.
func (s *AMQPSink) SetCallbacks(onConnected func(), onDisconnected func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onConnected = onConnected
	s.onDisconnected = onDisconnected
}

// Connect establishes the initial connection and declares the fan-out
// exchange.
func (s *AMQPSink) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doConnect()
}

func (s *AMQPSink) doConnect() error {
	conn, err := amqp.Dial(s.url)
	if err != nil {
		s.lastErr = err
		return err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		s.lastErr = err
		return err
	}
	if err := ch.ExchangeDeclare(s.exchange, "fanout", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		s.lastErr = err
		return err
	}

	s.conn = conn
	s.ch = ch
	s.connected = true
	s.lastConnAt = time.Now()
	s.attempts = 0
	s.nextWait = s.cfg.InitialInterval
	s.lastErr = nil

	if s.cfg.Enabled {
		go s.monitor(conn)
	}
	if s.onConnected != nil {
		go s.onConnected()
	}
	return nil
}

func (s *AMQPSink) monitor(conn *amqp.Connection) {
	closeErr := <-conn.NotifyClose(make(chan *amqp.Error, 1))

	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return
	}
	s.connected = false
	s.conn = nil
	s.ch = nil
	var err error
	if closeErr != nil {
		err = fmt.Errorf("replica amqp connection lost: %w", closeErr)
	} else {
		err = fmt.Errorf("replica amqp connection closed unexpectedly")
	}
	s.lastErr = err
	cb := s.onDisconnected
	s.mu.Unlock()

	if cb != nil {
		go cb(err)
	}
	if s.cfg.Enabled {
		go s.reconnectLoop()
	}
}

func (s *AMQPSink) reconnectLoop() {
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		s.mu.RLock()
		attempts := s.attempts
		wait := s.nextWait
		s.mu.RUnlock()

		if s.cfg.MaxAttempts > 0 && attempts >= s.cfg.MaxAttempts {
			return
		}

		time.Sleep(wait)

		s.mu.Lock()
		if s.connected {
			s.mu.Unlock()
			return
		}
		s.attempts++
		err := s.doConnect()
		if err == nil {
			s.mu.Unlock()
			return
		}
		s.nextWait = time.Duration(float64(s.nextWait) * s.cfg.BackoffMultiplier)
		if s.nextWait > s.cfg.MaxInterval {
			s.nextWait = s.cfg.MaxInterval
		}
		s.mu.Unlock()
	}
}

// Publish fans argv out to every bound replica queue. Returns an error if
// not currently connected; the caller (dispatcher's afterCommand flush)
// treats that the same as any other degraded-sink condition.
func (s *AMQPSink) Publish(ctx context.Context, argv [][]byte) error {
	s.mu.RLock()
	ch := s.ch
	connected := s.connected
	exchange := s.exchange
	s.mu.RUnlock()

	if !connected || ch == nil {
		return fmt.Errorf("replica amqp sink not connected")
	}

	body := encodeRESPArray(argv)
	return ch.PublishWithContext(ctx, exchange, "", false, false, amqp.Publishing{
		ContentType: "application/octet-stream",
		Body:        body,
	})
}

// Connected reports whether the sink currently has a live connection.
func (s *AMQPSink) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// Close tears down the connection and stops reconnection attempts.
func (s *AMQPSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	close(s.stopCh)
	s.connected = false
	var err error
	if s.ch != nil {
		s.ch.Close()
	}
	if s.conn != nil {
		err = s.conn.Close()
	}
	return err
}

func encodeRESPArray(argv [][]byte) []byte {
	out := append([]byte(nil), []byte(fmt.Sprintf("*%d\r\n", len(argv)))...)
	for _, a := range argv {
		out = append(out, []byte(fmt.Sprintf("$%d\r\n", len(a)))...)
		out = append(out, a...)
		out = append(out, '\r', '\n')
	}
	return out
}
