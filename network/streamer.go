package network

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-zeromq/zmq4"
)

// Common errors for streaming operations.
var (
	ErrNotRunning = errors.New("streamer is not running")
	ErrSendFailed = errors.New("failed to publish payload")
)

// Envelope is the two-frame wire layout: a topic frame for subscription
// filtering, then the Arrow IPC stream payload.
type Envelope struct {
	Topic    string
	Payload  []byte
	Received time.Time
}

// Streamer publishes finished Arrow IPC stream payloads on a PUB socket.
// Subscribers filter by topic; each payload is a complete, self-describing
// stream, so a subscriber can join at any time without missing a schema.
type Streamer struct {
	address string

	ctx    context.Context
	cancel context.CancelFunc

	pub zmq4.Socket

	running bool
	mu      sync.Mutex
}

// NewStreamer creates a streamer bound to the given zmq endpoint,
// e.g. "tcp://127.0.0.1:5601".
func NewStreamer(address string) *Streamer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Streamer{
		address: address,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start binds the PUB socket.
func (s *Streamer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("streamer already running")
	}

	s.pub = zmq4.NewPub(s.ctx)
	if err := s.pub.Listen(s.address); err != nil {
		return fmt.Errorf("failed to bind pub socket: %w", err)
	}
	s.running = true
	return nil
}

// Stop closes the socket. Safe to call more than once.
func (s *Streamer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	s.cancel()
	if s.pub != nil {
		if err := s.pub.Close(); err != nil {
			_ = err // shutdown; errors are expected
		}
	}
}

// Publish sends one complete IPC payload under the given topic.
func (s *Streamer) Publish(topic string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return ErrNotRunning
	}

	msg := zmq4.NewMsgFrom([]byte(topic), payload)
	if err := s.pub.Send(msg); err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	return nil
}

// Subscriber receives payloads published by a Streamer.
type Subscriber struct {
	sub zmq4.Socket

	ctx    context.Context
	cancel context.CancelFunc
}

// NewSubscriber connects to the streamer endpoint and subscribes to topic.
// An empty topic receives everything.
func NewSubscriber(address, topic string) (*Subscriber, error) {
	ctx, cancel := context.WithCancel(context.Background())
	sub := zmq4.NewSub(ctx)
	if err := sub.Dial(address); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to dial streamer: %w", err)
	}
	if err := sub.SetOption(zmq4.OptionSubscribe, topic); err != nil {
		sub.Close()
		cancel()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}
	return &Subscriber{sub: sub, ctx: ctx, cancel: cancel}, nil
}

// Recv blocks until the next envelope arrives.
func (s *Subscriber) Recv() (*Envelope, error) {
	msg, err := s.sub.Recv()
	if err != nil {
		return nil, err
	}
	env := &Envelope{Received: time.Now()}
	switch len(msg.Frames) {
	case 2:
		env.Topic = string(msg.Frames[0])
		env.Payload = msg.Frames[1]
	case 1:
		env.Payload = msg.Frames[0]
	default:
		return nil, fmt.Errorf("unexpected frame count %d", len(msg.Frames))
	}
	return env, nil
}

// Close shuts the subscriber down.
func (s *Subscriber) Close() error {
	s.cancel()
	return s.sub.Close()
}
