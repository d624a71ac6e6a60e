//go:build linux

package relay

import (
	"errors"

	"github.com/brayniac/perfprox/lib/stats"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("relay")

// Mode tells which peer the session currently reads from and writes to.
// It is a role flag, not a network role.
type Mode uint8

const (
	// ActingAsServer reads from and writes to the client socket
	ActingAsServer Mode = iota
	// ActingAsClient reads from and writes to the backend socket
	ActingAsClient
)

func (m Mode) String() string {
	if m == ActingAsServer {
		return "server"
	}
	return "client"
}

// flip returns the opposite mode
func (m Mode) flip() Mode {
	if m == ActingAsServer {
		return ActingAsClient
	}
	return ActingAsServer
}

// State is the lifecycle state of a session. Closed is final.
type State uint8

const (
	Open State = iota
	Closed
)

func (s State) String() string {
	if s == Open {
		return "open"
	}
	return "closed"
}

// Timestamps are the Clocksource counters captured at the four phase
// boundaries of the current cycle. 0 means not captured yet.
type Timestamps struct {
	ReadResponse  uint64 // t0: response fully read from the backend
	WriteResponse uint64 // t1: response fully written to the client
	ReadRequest   uint64 // t2: request fully read from the client
	WriteRequest  uint64 // t3: request fully written to the backend
}

// Session relays one client connection to one backend connection. It is
// driven by the reactor goroutine only and is not safe for concurrent use.
//
// One cycle has four phases:
//
//	P1 read request from client      (ActingAsServer) -> t2, sample(t1, t2, ClientTurnaround)
//	P2 write request to backend      (ActingAsClient) -> t3, sample(t0, t3, FullCycle)
//	P3 read response from backend    (ActingAsClient) -> t0
//	P4 write response to client      (ActingAsServer) -> t1, sample(t0, t1, Ok)
//
// Every transition performs at most one socket operation and re-arms exactly
// one socket.
type Session struct {
	client   int
	backend  int
	buf      stageBuffer
	token    Token
	interest Interest
	mode     Mode
	state    State
	ts       Timestamps
	opened   uint64

	sink  stats.Sink
	clock *stats.Clocksource
}

// NewSession creates an open session owning both sockets. opened is the
// counter value at which the session was established. It seeds t0 and t1 so
// that the first exchange is measured from connection establishment.
func NewSession(client, backend int, bufferSize int, sink stats.Sink, clock *stats.Clocksource, opened uint64) *Session {
	return &Session{
		client:   client,
		backend:  backend,
		buf:      newStageBuffer(bufferSize),
		interest: Readable | Hangup,
		mode:     ActingAsServer,
		state:    Open,
		ts: Timestamps{
			ReadResponse:  opened,
			WriteResponse: opened,
		},
		opened: opened,
		sink:   sink,
		clock:  clock,
	}
}

// SetToken stores the token under which the session is registered
func (s *Session) SetToken(token Token) { s.token = token }

// Token returns the registration token of the session
func (s *Session) Token() Token { return s.token }

// Client returns the client socket
func (s *Session) Client() int { return s.client }

// Backend returns the backend socket
func (s *Session) Backend() int { return s.backend }

// Mode returns the current relay mode
func (s *Session) Mode() Mode { return s.mode }

// Interest returns the current readiness interest
func (s *Session) Interest() Interest { return s.interest }

// Timestamps returns the timestamps captured so far
func (s *Session) Timestamps() Timestamps { return s.ts }

// Opened returns the counter value at which the session was established
func (s *Session) Opened() uint64 { return s.opened }

// IsClosed reports whether the session reached its final state
func (s *Session) IsClosed() bool { return s.state == Closed }

// activeSocket is the socket selected by the relay mode
func (s *Session) activeSocket() int {
	if s.mode == ActingAsServer {
		return s.client
	}
	return s.backend
}

// peerName names the active socket in log lines
func (s *Session) peerName() string {
	if s.mode == ActingAsServer {
		return "client"
	}
	return "backend"
}

// OnReadable handles a readable (or hangup) notification
func (s *Session) OnReadable(r Registrar) {
	if s.state == Closed {
		return
	}

	if !s.buf.isEmpty() {
		// input while a message is still staged: pipelining is not supported
		Logger.Debugf("session %d: readable while %d bytes are staged, closing", s.token.Handle, len(s.buf.pending()))
		s.close()
		return
	}

	n, err := s.buf.readFrom(s.activeSocket())
	switch {
	case errors.Is(err, ErrWouldBlock):
		// nothing here, defer to the other side
		Logger.Debugf("session %d: spurious read wakeup on %s", s.token.Handle, s.peerName())
		s.mode = s.mode.flip()
		s.rearm(r, s.activeSocket(), Edge)
		return
	case err != nil:
		Logger.Warningf("session %d: read from %s failed: %v", s.token.Handle, s.peerName(), err)
		s.pushError()
		s.close()
		return
	case n == 0:
		Logger.Debugf("session %d: %s hangup", s.token.Handle, s.peerName())
		s.close()
		return
	}

	Logger.Debugf("session %d: read %d bytes from %s", s.token.Handle, n, s.peerName())
	s.interest = (s.interest &^ Readable) | Writable
	now := s.clock.Counter()

	switch s.mode {
	case ActingAsServer:
		// P1 done: request read from the client
		s.ts.ReadRequest = now
		if s.ts.WriteResponse != 0 {
			s.sink.Push(s.ts.WriteResponse, now, stats.ClientTurnaround)
		}
		s.mode = ActingAsClient
		s.rearm(r, s.backend, Edge)
	case ActingAsClient:
		// P3 done: response read from the backend
		s.ts.ReadResponse = now
		s.mode = ActingAsServer
		s.rearm(r, s.client, Edge)
	}
}

// OnWritable handles a writable notification
func (s *Session) OnWritable(r Registrar) {
	if s.state == Closed {
		return
	}

	if s.buf.isEmpty() {
		Logger.Debugf("session %d: spurious write wakeup on %s", s.token.Handle, s.peerName())
		return
	}

	fd := s.activeSocket()
	n, done, err := s.buf.writeTo(fd)
	switch {
	case errors.Is(err, ErrWouldBlock), err == nil && !done:
		// keep the rest staged and wait for the next writable edge
		Logger.Debugf("session %d: wrote %d bytes to %s, %d pending", s.token.Handle, n, s.peerName(), len(s.buf.pending()))
		s.interest |= Writable
		s.rearm(r, fd, Edge|Oneshot)
		return
	case err != nil:
		Logger.Warningf("session %d: write to %s failed: %v", s.token.Handle, s.peerName(), err)
		s.pushError()
		s.close()
		return
	}

	Logger.Debugf("session %d: wrote %d bytes to %s", s.token.Handle, n, s.peerName())
	s.interest = (s.interest &^ Writable) | Readable
	now := s.clock.Counter()

	switch s.mode {
	case ActingAsServer:
		// P4 done: response delivered to the client
		s.ts.WriteResponse = now
		if s.ts.ReadResponse != 0 {
			s.sink.Push(s.ts.ReadResponse, now, stats.Ok)
		}
		s.rearm(r, s.client, Edge)
	case ActingAsClient:
		// P2 done: request forwarded to the backend
		s.ts.WriteRequest = now
		if s.ts.ReadResponse != 0 {
			s.sink.Push(s.ts.ReadResponse, now, stats.FullCycle)
		}
		s.rearm(r, s.backend, Edge)
	}
}

// rearm re-registers one socket with the current interest. A session whose
// socket cannot be re-armed would never be woken again, so it is closed.
func (s *Session) rearm(r Registrar, fd int, opts PollOpt) {
	if err := r.Reregister(fd, s.token, s.interest, opts); err != nil {
		Logger.Warningf("session %d: failed to re-arm socket %d: %v", s.token.Handle, fd, err)
		s.pushError()
		s.close()
	}
}

// close moves the session to its final state, teardown is done by the table
func (s *Session) close() {
	s.state = Closed
	s.interest &^= Readable
}

func (s *Session) pushError() {
	now := s.clock.Counter()
	s.sink.Push(now, now, stats.Error)
}
