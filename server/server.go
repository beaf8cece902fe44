// Package server exposes a JetDirect-style raw print port: LAN
// clients connect, stream an ESC/POS job, and close; the accumulated
// job is routed through the print dispatcher.
package server

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"sync"
)

// JobSink receives completed print jobs. Satisfied by
// dispatch.Dispatcher.
type JobSink interface {
	Print(ctx context.Context, deviceID string, payload []byte) bool
}

// Server is a TCP server that forwards received jobs to a printer.
type Server struct {
	sink      JobSink
	printerID string
	listener  net.Listener
	address   string
	mu        sync.Mutex
	running   bool
	wg        sync.WaitGroup
	logger    *log.Logger
}

// New creates a new server instance. Jobs are dispatched to printerID;
// an empty id lets the sink fall back to its external intent path.
func New(sink JobSink, printerID, address string) *Server {
	logger := log.New(os.Stdout, "[SERVER] ", log.LstdFlags|log.Lmsgprefix)
	return &Server{
		sink:      sink,
		printerID: printerID,
		address:   address,
		logger:    logger,
	}
}

// NewWithLogger creates a new server instance with a custom logger
func NewWithLogger(sink JobSink, printerID, address string, logger *log.Logger) *Server {
	return &Server{
		sink:      sink,
		printerID: printerID,
		address:   address,
		logger:    logger,
	}
}

// Start starts the TCP server and blocks until Stop is called
func (s *Server) Start() error {
	if err := s.listen(); err != nil {
		return err
	}

	// Block and accept connections (freezes current goroutine)
	s.logger.Println("Ready to accept connections")
	s.acceptConnections()
	return nil
}

// StartAsync starts the TCP server in a goroutine (non-blocking)
func (s *Server) StartAsync() error {
	if err := s.listen(); err != nil {
		return err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptConnections()
	}()
	s.logger.Println("Server started in background, ready to accept connections")
	return nil
}

func (s *Server) listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		s.logger.Println("Error: Server already running")
		return fmt.Errorf("server already running")
	}

	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		s.logger.Printf("Error: Failed to start server: %v", err)
		return fmt.Errorf("failed to start server: %w", err)
	}

	s.listener = listener
	s.running = true
	s.logger.Printf("Server listening on %s", s.address)
	return nil
}

// acceptConnections handles incoming client connections
func (s *Server) acceptConnections() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.mu.Lock()
			running := s.running
			s.mu.Unlock()

			if !running {
				// Server is shutting down
				s.logger.Println("Server shutting down, stopping accept loop")
				return
			}
			s.logger.Printf("Error accepting connection: %v", err)
			continue
		}

		s.logger.Printf("Client connected from %s", conn.RemoteAddr())
		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

// handleConnection accumulates one raw job per connection and submits
// it when the client closes its side.
func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.logger.Printf("Client disconnected: %s", conn.RemoteAddr())
		conn.Close()
	}()

	clientAddr := conn.RemoteAddr().String()

	var job []byte
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			job = append(job, buf[:n]...)
		}
		if err != nil {
			if err != io.EOF {
				s.logger.Printf("Error reading from client %s: %v", clientAddr, err)
				return
			}
			break
		}
	}

	if len(job) == 0 {
		s.logger.Printf("Empty job from %s, nothing to print", clientAddr)
		return
	}

	s.logger.Printf("Received %d-byte job from %s", len(job), clientAddr)
	if ok := s.sink.Print(context.Background(), s.printerID, job); !ok {
		s.logger.Printf("Failed to print job from %s", clientAddr)
		return
	}
	s.logger.Printf("Job from %s dispatched", clientAddr)
}

// Stop stops the TCP server
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		s.logger.Println("Stop called but server is not running")
		return nil
	}

	s.logger.Println("Stopping server...")
	s.running = false
	listener := s.listener
	s.mu.Unlock()

	if listener != nil {
		listener.Close()
	}

	// Wait for all connections to finish
	s.wg.Wait()
	s.logger.Println("Server stopped successfully")
	return nil
}

// IsRunning returns whether the server is running
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Address returns the server address
func (s *Server) Address() string {
	return s.address
}
