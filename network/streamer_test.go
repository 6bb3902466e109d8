package network

import (
	"bytes"
	"fmt"
	"net"
	"testing"
	"time"
)

// freeEndpoint reserves an ephemeral TCP port for a zmq socket to bind.
func freeEndpoint(t *testing.T) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserving port: %v", err)
	}
	addr := lis.Addr().String()
	lis.Close()
	return fmt.Sprintf("tcp://%s", addr)
}

func TestPublishNotRunning(t *testing.T) {
	s := NewStreamer("tcp://127.0.0.1:5999")
	if err := s.Publish("results", []byte("payload")); err != ErrNotRunning {
		t.Errorf("Expected ErrNotRunning, got %v", err)
	}
	s.Stop() // Stop before Start is a no-op
}

func TestStreamerDoubleStart(t *testing.T) {
	s := NewStreamer(freeEndpoint(t))
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer s.Stop()

	if err := s.Start(); err == nil {
		t.Error("Expected error starting twice")
	}
}

func TestPublishSubscribe(t *testing.T) {
	endpoint := freeEndpoint(t)

	s := NewStreamer(endpoint)
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer s.Stop()

	sub, err := NewSubscriber(endpoint, "results")
	if err != nil {
		t.Fatalf("NewSubscriber failed: %v", err)
	}
	defer sub.Close()

	payload := []byte("arrow-ipc-payload")

	// PUB drops messages sent before the subscription propagates, so
	// publish until the subscriber sees one.
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				_ = s.Publish("results", payload)
			}
		}
	}()

	type received struct {
		env *Envelope
		err error
	}
	got := make(chan received, 1)
	go func() {
		env, err := sub.Recv()
		got <- received{env, err}
	}()

	select {
	case r := <-got:
		if r.err != nil {
			t.Fatalf("Recv failed: %v", r.err)
		}
		if r.env.Topic != "results" {
			t.Errorf("Expected topic %q, got %q", "results", r.env.Topic)
		}
		if !bytes.Equal(r.env.Payload, payload) {
			t.Errorf("Payload changed in transit: %q", r.env.Payload)
		}
		if r.env.Received.IsZero() {
			t.Error("Expected a receive timestamp")
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Timed out waiting for published payload")
	}
}

func TestSubscriberTopicFilter(t *testing.T) {
	endpoint := freeEndpoint(t)

	s := NewStreamer(endpoint)
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer s.Stop()

	sub, err := NewSubscriber(endpoint, "wanted")
	if err != nil {
		t.Fatalf("NewSubscriber failed: %v", err)
	}
	defer sub.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				_ = s.Publish("ignored", []byte("noise"))
				_ = s.Publish("wanted", []byte("signal"))
			}
		}
	}()

	got := make(chan *Envelope, 1)
	go func() {
		env, err := sub.Recv()
		if err == nil {
			got <- env
		}
	}()

	select {
	case env := <-got:
		if env.Topic != "wanted" {
			t.Errorf("Filter leaked topic %q", env.Topic)
		}
		if string(env.Payload) != "signal" {
			t.Errorf("Expected %q, got %q", "signal", env.Payload)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Timed out waiting for filtered payload")
	}
}
