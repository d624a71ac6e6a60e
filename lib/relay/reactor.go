//go:build linux

package relay

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
)

const (
	// DefaultPollEvents is the number of events fetched per poll
	DefaultPollEvents = 1024
	// DefaultPollTimeout bounds a single poll so that cancellation is noticed
	DefaultPollTimeout = 100 * time.Millisecond
)

// ReactorConfig configures a Reactor
type ReactorConfig struct {
	PollEvents  int
	PollTimeout time.Duration
	// Trace logs every readiness event at debug level
	Trace bool
}

// Reactor is the single event loop of the proxy. It polls the listener and
// all session sockets with epoll and dispatches each event to the table.
// It implements Registrar.
type Reactor struct {
	epfd    int
	events  []unix.EpollEvent
	timeout time.Duration
	trace   bool
}

// NewReactor creates the epoll instance
func NewReactor(config ReactorConfig) (*Reactor, error) {
	if config.PollEvents <= 0 {
		config.PollEvents = DefaultPollEvents
	}
	if config.PollTimeout <= 0 {
		config.PollTimeout = DefaultPollTimeout
	}

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("failed to create epoll instance: %w", err)
	}

	return &Reactor{
		epfd:    epfd,
		events:  make([]unix.EpollEvent, config.PollEvents),
		timeout: config.PollTimeout,
		trace:   config.Trace,
	}, nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see Registrar)
// --------------------------------------------------------------------------

func (r *Reactor) Register(fd int, token Token, interest Interest, opts PollOpt) error {
	ev := toEpollEvent(token, interest, opts)
	return unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
}

func (r *Reactor) Reregister(fd int, token Token, interest Interest, opts PollOpt) error {
	ev := toEpollEvent(token, interest, opts)
	return unix.EpollCtl(r.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
}

func (r *Reactor) Deregister(fd int) error {
	return unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

// --------------------------------------------------------------------------
// Event loop
// --------------------------------------------------------------------------

// Run registers the table's listener and dispatches events until ctx is
// cancelled. On return every session of the table has been torn down; the
// listener and the epoll instance are left to their owners.
func (r *Reactor) Run(ctx context.Context, table *Table) error {
	// all sockets and sessions are owned by this goroutine
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := r.Register(table.listener.Fd(), ListenerToken, Readable, Edge|Oneshot); err != nil {
		return fmt.Errorf("failed to register listener: %w", err)
	}
	Logger.Infof("reactor started, listening on %s", table.listener.Addr())

	var err error
	for ctx.Err() == nil {
		if err = r.Poll(table); err != nil {
			break
		}
	}

	_ = r.Deregister(table.listener.Fd())
	closeErr := table.Close(r)
	Logger.Infof("reactor stopped")

	return multierr.Append(err, closeErr)
}

// Poll waits once for readiness events and dispatches them
func (r *Reactor) Poll(table *Table) error {
	n, err := unix.EpollWait(r.epfd, r.events, int(r.timeout/time.Millisecond))
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return nil
		}
		return fmt.Errorf("epoll wait failed: %w", err)
	}

	for i := 0; i < n; i++ {
		r.dispatch(table, r.events[i])
	}
	return nil
}

// dispatch routes one event. Hangup and error conditions are delivered as
// readable so that the read path observes the closed peer.
func (r *Reactor) dispatch(table *Table, ev unix.EpollEvent) {
	token := Token{Handle: Handle(ev.Fd), Gen: uint32(ev.Pad)}
	readable := ev.Events&(unix.EPOLLIN|unix.EPOLLRDHUP|unix.EPOLLHUP|unix.EPOLLERR) != 0
	writable := ev.Events&unix.EPOLLOUT != 0

	if r.trace {
		Logger.Debugf("ready %d/%d events=%#x", token.Handle, token.Gen, ev.Events)
	}

	if readable {
		if token.Handle == ListenerHandle {
			if err := table.Accept(r); err != nil {
				Logger.Warningf("rejected connection: %v", err)
			}
			if err := r.Reregister(table.listener.Fd(), ListenerToken, Readable, Edge); err != nil {
				Logger.Errorf("failed to re-arm listener: %v", err)
			}
		} else {
			table.DispatchReadable(r, token)
		}
	}

	if writable {
		if token.Handle == ListenerHandle {
			// a listening socket is never registered for writable
			Logger.Errorf("received writable for the listener token")
			panic("relay: received writable for the listener token")
		}
		table.DispatchWritable(r, token)
	}
}

// Close closes the epoll instance
func (r *Reactor) Close() error {
	return unix.Close(r.epfd)
}

// toEpollEvent translates interest and options to epoll flags, the token
// travels in the event's user data
func toEpollEvent(token Token, interest Interest, opts PollOpt) unix.EpollEvent {
	var events uint32
	if interest.Has(Readable) {
		events |= unix.EPOLLIN
	}
	if interest.Has(Writable) {
		events |= unix.EPOLLOUT
	}
	if interest.Has(Hangup) {
		events |= unix.EPOLLRDHUP
	}
	if opts&Edge != 0 {
		events |= unix.EPOLLET
	}
	if opts&Oneshot != 0 {
		events |= unix.EPOLLONESHOT
	}
	return unix.EpollEvent{
		Events: events,
		Fd:     int32(token.Handle),
		Pad:    int32(token.Gen),
	}
}
