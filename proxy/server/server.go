//go:build linux

package server

import (
	"context"
	"fmt"
	"net"

	"github.com/brayniac/perfprox/lib/relay"
	"github.com/brayniac/perfprox/lib/stats"
	"github.com/brayniac/perfprox/proxy/common"
	"github.com/lni/dragonboat/v4/logger"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

var Logger = logger.GetLogger("proxy")

// ProxyServer owns every resource of a running proxy
type ProxyServer struct {
	config   common.ProxyConfig
	listener *relay.Listener
	reactor  *relay.Reactor
	table    *relay.Table
	receiver *stats.Receiver
	http     *stats.HTTPServer
	statsLn  net.Listener
}

// NewProxyServer binds the proxy and stats listeners and prepares the reactor.
// Nothing is served until Serve is called.
func NewProxyServer(config common.ProxyConfig) (*ProxyServer, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	backend, err := net.ResolveTCPAddr("tcp", config.BackendAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve backend address %s: %w", config.BackendAddr, err)
	}

	s := &ProxyServer{config: config}

	s.listener, err = relay.Listen(config.ListenAddr, 0)
	if err != nil {
		return nil, err
	}

	s.reactor, err = relay.NewReactor(relay.ReactorConfig{
		PollEvents: config.PollEvents,
		Trace:      config.Trace,
	})
	if err != nil {
		_ = s.listener.Close()
		return nil, err
	}

	s.receiver = stats.NewReceiver(stats.NewClocksource(), config.ReservoirSize)
	s.table = relay.NewTable(s.listener, relay.TableConfig{
		Capacity:    config.MaxSessions,
		BufferSize:  config.BufferSize,
		Backend:     backend,
		DialTimeout: config.DialTimeout(),
		NoDelay:     config.TCPNoDelay,
	}, s.receiver, s.receiver.Clock())

	if config.StatsAddr != "" {
		s.statsLn, err = net.Listen("tcp", config.StatsAddr)
		if err != nil {
			_ = multierr.Append(s.reactor.Close(), s.listener.Close())
			return nil, fmt.Errorf("failed to listen on stats address %s: %w", config.StatsAddr, err)
		}
		s.http = stats.NewHTTPServer(config.StatsAddr, s.receiver, config.Trace)
	}

	Logger.Infof("Created proxy server")
	Logger.Infof("%s", config.String())

	return s, nil
}

// ListenAddr returns the address the proxy accepts clients on
func (s *ProxyServer) ListenAddr() string {
	return s.listener.Addr().String()
}

// StatsAddr returns the address of the stats endpoint, empty if disabled
func (s *ProxyServer) StatsAddr() string {
	if s.statsLn == nil {
		return ""
	}
	return s.statsLn.Addr().String()
}

// Receiver returns the stats receiver fed by the relay
func (s *ProxyServer) Receiver() *stats.Receiver {
	return s.receiver
}

// Serve runs the proxy until ctx is cancelled or one of its parts fails
func (s *ProxyServer) Serve(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	// the receiver outlives the reactor so that teardown samples are counted
	recvCtx, stopReceiver := context.WithCancel(context.Background())
	defer stopReceiver()

	g.Go(func() error {
		return s.receiver.Run(recvCtx)
	})

	g.Go(func() error {
		defer stopReceiver()
		if err := s.reactor.Run(gctx, s.table); err != nil {
			return fmt.Errorf("reactor failed: %w", err)
		}
		return nil
	})

	if s.http != nil {
		g.Go(func() error {
			return s.http.Serve(gctx, s.statsLn)
		})
	}

	Logger.Infof("perfprox relaying %s -> %s", s.ListenAddr(), s.config.BackendAddr)
	return g.Wait()
}

// Close releases the listener and the epoll instance. Call it after Serve
// returned.
func (s *ProxyServer) Close() error {
	err := multierr.Append(s.reactor.Close(), s.listener.Close())
	if s.statsLn != nil {
		// already closed by a served http.Server
		_ = s.statsLn.Close()
	}
	return err
}
