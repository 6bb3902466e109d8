// Package api exposes query results over the wire: a TCP server speaking a
// length-prefixed framing, an Arrow Flight service, and Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
)

// Server is a TCP server answering framed query requests with Arrow IPC
// stream payloads.
type Server struct {
	listener net.Listener
	handler  *QueryHandler
	running  bool
	mu       sync.Mutex
	quit     chan struct{}
	wg       sync.WaitGroup
}

// NewServer creates a Server delegating to the given handler.
func NewServer(handler *QueryHandler) *Server {
	return &Server{
		handler: handler,
		quit:    make(chan struct{}),
	}
}

// Start starts the server on the specified address. This method blocks
// until the server is stopped or fails.
func (s *Server) Start(address string) error {
	lis, err := s.listen(address)
	if err != nil {
		return err
	}
	defer s.Stop()

	for {
		conn, err := lis.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return nil
			default:
				continue
			}
		}
		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

// StartAsync starts the server in a background goroutine.
func (s *Server) StartAsync(address string) error {
	lis, err := s.listen(address)
	if err != nil {
		return err
	}

	go func() {
		for {
			conn, err := lis.Accept()
			if err != nil {
				select {
				case <-s.quit:
					return
				default:
					continue
				}
			}
			s.wg.Add(1)
			go s.handleConnection(conn)
		}
	}()

	return nil
}

func (s *Server) listen(address string) (net.Listener, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil, fmt.Errorf("server is already running")
	}
	lis, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", address, err)
	}
	s.listener = lis
	s.running = true
	return lis, nil
}

// Addr returns the listen address, nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop stops the server and waits for open connections to drain.
func (s *Server) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.quit)
	if s.listener != nil {
		if err := s.listener.Close(); err != nil {
			_ = err // shutdown; errors are expected
		}
	}
	s.mu.Unlock()

	s.wg.Wait()
}

// handleConnection serves one client: a loop of framed request messages,
// each answered with a framed JSON status header and, on success, one
// framed Arrow IPC payload.
func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	for {
		data, err := ReadMessage(conn)
		if err != nil {
			if err != io.EOF {
				log.Printf("api: reading request: %v", err)
			}
			return
		}

		resp, payload, err := s.handler.Handle(context.Background(), data)
		if err != nil {
			log.Printf("api: handling request: %v", err)
			return
		}

		header, err := json.Marshal(resp)
		if err != nil {
			log.Printf("api: encoding response: %v", err)
			return
		}
		if err := WriteMessage(conn, header); err != nil {
			return
		}
		if resp.OK {
			if err := WriteMessage(conn, payload); err != nil {
				return
			}
		}
	}
}
