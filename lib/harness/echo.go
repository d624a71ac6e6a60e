package harness

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("harness")

// EchoServer is a TCP backend that writes every byte it reads back to the
// sender. Each connection is served by its own goroutine.
type EchoServer struct {
	listener net.Listener
	wg       sync.WaitGroup
	mu       sync.Mutex
	conns    map[net.Conn]struct{}
	closed   bool
}

// NewEchoServer binds the echo server to addr
func NewEchoServer(addr string) (*EchoServer, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &EchoServer{
		listener: ln,
		conns:    make(map[net.Conn]struct{}),
	}, nil
}

// Addr returns the bound address
func (s *EchoServer) Addr() string {
	return s.listener.Addr().String()
}

// Serve accepts connections until ctx is cancelled or Close is called
func (s *EchoServer) Serve(ctx context.Context) error {
	Logger.Infof("echo server listening on %s", s.Addr())

	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				return nil
			}
			return err
		}

		if !s.track(conn) {
			_ = conn.Close()
			continue
		}

		s.wg.Add(1)
		go s.handle(conn)
	}
}

// Close stops accepting and closes all open connections
func (s *EchoServer) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.mu.Unlock()
	return s.listener.Close()
}

func (s *EchoServer) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *EchoServer) untrack(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn)
}

func (s *EchoServer) handle(conn net.Conn) {
	defer s.wg.Done()
	defer s.untrack(conn)
	defer conn.Close()

	Logger.Debugf("echo: connection from %s", conn.RemoteAddr())
	n, err := io.Copy(conn, conn)
	if err != nil && !errors.Is(err, net.ErrClosed) {
		Logger.Debugf("echo: connection from %s failed after %d bytes: %v", conn.RemoteAddr(), n, err)
		return
	}
	Logger.Debugf("echo: connection from %s closed after %d bytes", conn.RemoteAddr(), n)
}
