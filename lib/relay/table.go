//go:build linux

package relay

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/brayniac/perfprox/lib/stats"
	"go.uber.org/multierr"
)

// DefaultCapacity is the default upper bound on concurrent sessions
const DefaultCapacity = 32768

// TableConfig configures a Table
type TableConfig struct {
	// Capacity is the maximum number of concurrent sessions
	Capacity int
	// BufferSize is the size of each session's stage buffer in bytes
	BufferSize int
	// Backend is the address every accepted client is relayed to
	Backend *net.TCPAddr
	// DialTimeout bounds the synchronous backend connect, 0 waits forever
	DialTimeout time.Duration
	// NoDelay disables Nagle's algorithm on both sockets of a session
	NoDelay bool
}

// slot is one entry of the arena. gen is bumped on every removal so that
// tokens of removed sessions never match a reused slot.
type slot struct {
	session *Session
	gen     uint32
}

// Table owns the listener-side accept path and every live session. Handles are
// slot indices offset by one, handle 0 belongs to the listener. Like the
// sessions it is only touched from the reactor goroutine.
type Table struct {
	config   TableConfig
	listener *Listener
	slots    []slot
	free     []int
	live     int
	sink     stats.Sink
	clock    *stats.Clocksource
}

// NewTable creates an empty table accepting from listener
func NewTable(listener *Listener, config TableConfig, sink stats.Sink, clock *stats.Clocksource) *Table {
	if config.Capacity <= 0 {
		config.Capacity = DefaultCapacity
	}
	if config.BufferSize <= 0 {
		config.BufferSize = 2048
	}
	return &Table{
		config:   config,
		listener: listener,
		sink:     sink,
		clock:    clock,
	}
}

// Len returns the number of live sessions
func (t *Table) Len() int {
	return t.live
}

// Capacity returns the maximum number of live sessions
func (t *Table) Capacity() int {
	return t.config.Capacity
}

// --------------------------------------------------------------------------
// Arena operations
// --------------------------------------------------------------------------

// Insert stores a session and returns its token
func (t *Table) Insert(s *Session) (Token, error) {
	if t.live >= t.config.Capacity {
		return Token{}, ErrTableFull
	}

	var idx int
	if n := len(t.free); n > 0 {
		idx = t.free[n-1]
		t.free = t.free[:n-1]
	} else {
		t.slots = append(t.slots, slot{})
		idx = len(t.slots) - 1
	}

	t.slots[idx].session = s
	t.live++

	return Token{Handle: Handle(idx + 1), Gen: t.slots[idx].gen}, nil
}

// Get returns the session registered under token, or nil if the token is
// unknown or stale
func (t *Table) Get(token Token) *Session {
	idx := int(token.Handle) - 1
	if idx < 0 || idx >= len(t.slots) {
		return nil
	}
	sl := &t.slots[idx]
	if sl.session == nil || sl.gen != token.Gen {
		return nil
	}
	return sl.session
}

// Remove takes the session out of the table and frees its handle
func (t *Table) Remove(token Token) *Session {
	s := t.Get(token)
	if s == nil {
		return nil
	}
	idx := int(token.Handle) - 1
	t.slots[idx].session = nil
	t.slots[idx].gen++
	t.free = append(t.free, idx)
	t.live--
	return s
}

// --------------------------------------------------------------------------
// Accept
// --------------------------------------------------------------------------

// Accept takes one pending client, dials the backend and registers both
// sockets: the client for readable, the backend for hangup only, both edge
// triggered and one-shot. A failure only affects the new connection.
func (t *Table) Accept(r Registrar) error {
	start := t.clock.Counter()

	client, err := t.listener.accept()
	if errors.Is(err, ErrWouldBlock) {
		return nil
	}
	if err != nil {
		t.pushError()
		return fmt.Errorf("accept failed: %w", err)
	}

	if t.live >= t.config.Capacity {
		_ = closeFd(client)
		t.pushError()
		return ErrTableFull
	}

	backend, err := dialTCP(t.config.Backend, t.config.DialTimeout)
	if err != nil {
		_ = closeFd(client)
		t.pushError()
		return fmt.Errorf("failed to dial backend %s: %w", t.config.Backend, err)
	}

	if t.config.NoDelay {
		if err := multierr.Append(setNoDelay(client, true), setNoDelay(backend, true)); err != nil {
			Logger.Warningf("failed to set TCP_NODELAY: %v", err)
		}
	}

	opened := t.clock.Counter()
	s := NewSession(client, backend, t.config.BufferSize, t.sink, t.clock, opened)

	token, err := t.Insert(s)
	if err != nil {
		_ = multierr.Append(closeFd(client), closeFd(backend))
		t.pushError()
		return err
	}
	s.SetToken(token)
	t.sink.Push(start, opened, stats.Connect)

	if err := r.Register(client, token, Readable, Edge|Oneshot); err != nil {
		t.teardown(r, token)
		return fmt.Errorf("failed to register client socket: %w", err)
	}
	if err := r.Register(backend, token, Hangup, Edge|Oneshot); err != nil {
		t.teardown(r, token)
		return fmt.Errorf("failed to register backend socket: %w", err)
	}

	Logger.Debugf("session %d: accepted (gen %d, %d live)", token.Handle, token.Gen, t.live)
	return nil
}

// --------------------------------------------------------------------------
// Dispatch
// --------------------------------------------------------------------------

// DispatchReadable forwards a readable notification to the session and tears
// it down when it closed
func (t *Table) DispatchReadable(r Registrar, token Token) {
	s := t.Get(token)
	if s == nil {
		Logger.Debugf("readable event for stale token %d/%d", token.Handle, token.Gen)
		return
	}
	s.OnReadable(r)
	if s.IsClosed() {
		t.teardown(r, token)
	}
}

// DispatchWritable forwards a writable notification to the session and tears
// it down when it closed
func (t *Table) DispatchWritable(r Registrar, token Token) {
	s := t.Get(token)
	if s == nil {
		Logger.Debugf("writable event for stale token %d/%d", token.Handle, token.Gen)
		return
	}
	s.OnWritable(r)
	if s.IsClosed() {
		t.teardown(r, token)
	}
}

// --------------------------------------------------------------------------
// Teardown
// --------------------------------------------------------------------------

// teardown removes the session, deregisters and closes both sockets.
// Deregistration errors are ignored, the sockets are dropped regardless.
func (t *Table) teardown(r Registrar, token Token) error {
	s := t.Remove(token)
	if s == nil {
		return nil
	}

	_ = r.Deregister(s.client)
	_ = r.Deregister(s.backend)
	err := multierr.Append(closeFd(s.client), closeFd(s.backend))

	t.sink.Push(s.opened, t.clock.Counter(), stats.Close)
	Logger.Debugf("session %d: closed (%d live)", token.Handle, t.live)
	return err
}

// Close tears down every live session
func (t *Table) Close(r Registrar) error {
	var err error
	for idx := range t.slots {
		if t.slots[idx].session == nil {
			continue
		}
		token := Token{Handle: Handle(idx + 1), Gen: t.slots[idx].gen}
		err = multierr.Append(err, t.teardown(r, token))
	}
	return err
}

func (t *Table) pushError() {
	now := t.clock.Counter()
	t.sink.Push(now, now, stats.Error)
}
