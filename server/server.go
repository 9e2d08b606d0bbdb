package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/rs/zerolog"
)

// Server is a TCP server that answers framed dataset requests. Each
// request is a JSON envelope frame, followed by an Arrow IPC frame when
// the envelope sets has_payload.
type Server struct {
	handler *Handler
	metrics *Metrics
	log     zerolog.Logger

	mu       sync.Mutex
	listener net.Listener
	running  bool
	quit     chan struct{}
	wg       sync.WaitGroup
}

// NewServer creates a Server around the given handler.
func NewServer(handler *Handler, metrics *Metrics, log zerolog.Logger) *Server {
	return &Server{
		handler: handler,
		metrics: metrics,
		log:     log,
		quit:    make(chan struct{}),
	}
}

// Start listens on the given address and serves until Stop is called.
func (s *Server) Start(address string) error {
	lis, err := s.listen(address)
	if err != nil {
		return err
	}

	defer s.Stop()
	s.acceptLoop(lis)
	return nil
}

// StartAsync starts the server in a background goroutine.
func (s *Server) StartAsync(address string) error {
	lis, err := s.listen(address)
	if err != nil {
		return err
	}

	go s.acceptLoop(lis)
	return nil
}

// Addr returns the listen address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) listen(address string) (net.Listener, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil, errors.New("server is already running")
	}

	lis, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", address, err)
	}

	s.listener = lis
	s.running = true
	s.log.Info().Str("address", lis.Addr().String()).Msg("server listening")
	return lis, nil
}

func (s *Server) acceptLoop(lis net.Listener) {
	for {
		conn, err := lis.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return
			default:
				s.log.Warn().Err(err).Msg("accept failed")
				continue
			}
		}

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

// Stop closes the listener and waits for in-flight connections.
func (s *Server) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.quit)
	if err := s.listener.Close(); err != nil {
		s.log.Warn().Err(err).Msg("listener close failed")
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.handler.Close()
	s.log.Info().Msg("server stopped")
}

// handleConnection serves request/response pairs on one connection until
// the client disconnects.
func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	s.metrics.ActiveConnections.Inc()
	defer s.metrics.ActiveConnections.Dec()

	remote := conn.RemoteAddr().String()
	s.log.Debug().Str("remote", remote).Msg("connection opened")

	for {
		select {
		case <-s.quit:
			return
		default:
		}

		if err := s.serveOne(conn); err != nil {
			if !errors.Is(err, io.EOF) {
				s.log.Debug().Err(err).Str("remote", remote).Msg("connection closed")
			}
			return
		}
	}
}

func (s *Server) serveOne(conn net.Conn) error {
	envelope, err := ReadFrame(conn)
	if err != nil {
		return err
	}
	s.metrics.BytesIn.Add(float64(len(envelope)))

	req, err := DecodeRequest(envelope)
	if err != nil {
		return s.writeResponse(conn, errorResponse(err), nil)
	}

	var payload []byte
	if req.HasPayload {
		payload, err = ReadFrame(conn)
		if err != nil {
			return err
		}
		s.metrics.BytesIn.Add(float64(len(payload)))
	}

	resp, out := s.handler.Handle(context.Background(), req, payload)
	return s.writeResponse(conn, resp, out)
}

func (s *Server) writeResponse(conn net.Conn, resp *Response, payload []byte) error {
	envelope, err := EncodeResponse(resp)
	if err != nil {
		return err
	}

	if err := WriteFrame(conn, envelope); err != nil {
		return err
	}
	s.metrics.BytesOut.Add(float64(len(envelope)))

	if resp.HasPayload {
		if err := WriteFrame(conn, payload); err != nil {
			return err
		}
		s.metrics.BytesOut.Add(float64(len(payload)))
	}
	return nil
}
