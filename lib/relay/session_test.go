//go:build linux

package relay

import (
	"bytes"
	"errors"
	"testing"

	"github.com/brayniac/perfprox/lib/stats"
	"golang.org/x/sys/unix"
)

// sessionFixture wires a session to two socket pairs. The test plays the
// client on clientPeer and the backend on backendPeer.
type sessionFixture struct {
	session     *Session
	registrar   *fakeRegistrar
	sink        *recordingSink
	clock       *stats.Clocksource
	clientPeer  int
	backendPeer int
}

func newSessionFixture(t *testing.T, bufferSize int) *sessionFixture {
	t.Helper()
	client, clientPeer := socketPair(t)
	backend, backendPeer := socketPair(t)

	sink := &recordingSink{}
	clock := stats.NewClocksource()
	s := NewSession(client, backend, bufferSize, sink, clock, clock.Counter())
	s.SetToken(Token{Handle: 1})

	return &sessionFixture{
		session:     s,
		registrar:   &fakeRegistrar{},
		sink:        sink,
		clock:       clock,
		clientPeer:  clientPeer,
		backendPeer: backendPeer,
	}
}

// exchange runs one full request/response cycle through the session
func (f *sessionFixture) exchange(t *testing.T, request, response string) {
	t.Helper()
	s := f.session

	mustWrite(t, f.clientPeer, request)
	s.OnReadable(f.registrar)
	s.OnWritable(f.registrar)
	mustRead(t, f.backendPeer, request)

	mustWrite(t, f.backendPeer, response)
	s.OnReadable(f.registrar)
	s.OnWritable(f.registrar)
	mustRead(t, f.clientPeer, response)

	if s.IsClosed() {
		t.Fatalf("Session closed during exchange")
	}
}

func TestNewSession(t *testing.T) {
	f := newSessionFixture(t, 64)
	s := f.session

	if s.Mode() != ActingAsServer {
		t.Errorf("Expected initial mode server, got %s", s.Mode())
	}
	if s.Interest() != Readable|Hangup {
		t.Errorf("Expected initial interest readable|hangup, got %s", s.Interest())
	}
	ts := s.Timestamps()
	if ts.ReadResponse != s.Opened() || ts.WriteResponse != s.Opened() {
		t.Errorf("Expected t0 and t1 to be seeded with the open time, got %+v", ts)
	}
	if ts.ReadRequest != 0 || ts.WriteRequest != 0 {
		t.Errorf("Expected t2 and t3 to be unset, got %+v", ts)
	}
}

func TestSessionPhases(t *testing.T) {
	f := newSessionFixture(t, 64)
	s := f.session
	opened := s.Opened()

	// P1: request from client
	mustWrite(t, f.clientPeer, "PING")
	s.OnReadable(f.registrar)

	if s.Mode() != ActingAsClient {
		t.Fatalf("Expected mode client after reading the request, got %s", s.Mode())
	}
	if !s.Interest().Has(Writable) || s.Interest().Has(Readable) {
		t.Errorf("Expected writable interest, got %s", s.Interest())
	}
	if call := f.registrar.last(t); call.fd != s.Backend() || call.opts != Edge {
		t.Errorf("Expected backend re-armed edge triggered, got %+v", call)
	}
	ct := f.sink.byCategory(stats.ClientTurnaround)
	if len(ct) != 1 || ct[0].Start != opened || ct[0].End != s.Timestamps().ReadRequest {
		t.Fatalf("Unexpected client turnaround samples %+v", ct)
	}

	// P2: forward to backend
	s.OnWritable(f.registrar)
	mustRead(t, f.backendPeer, "PING")

	if !s.Interest().Has(Readable) || s.Interest().Has(Writable) {
		t.Errorf("Expected readable interest, got %s", s.Interest())
	}
	if call := f.registrar.last(t); call.fd != s.Backend() {
		t.Errorf("Expected backend re-armed, got %+v", call)
	}
	fc := f.sink.byCategory(stats.FullCycle)
	if len(fc) != 1 || fc[0].Start != opened || fc[0].End != s.Timestamps().WriteRequest {
		t.Fatalf("Unexpected full cycle samples %+v", fc)
	}

	// P3: response from backend
	mustWrite(t, f.backendPeer, "PONG")
	s.OnReadable(f.registrar)

	if s.Mode() != ActingAsServer {
		t.Fatalf("Expected mode server after reading the response, got %s", s.Mode())
	}
	if call := f.registrar.last(t); call.fd != s.Client() || !call.interest.Has(Writable) {
		t.Errorf("Expected client re-armed writable, got %+v", call)
	}

	// P4: deliver to client
	s.OnWritable(f.registrar)
	mustRead(t, f.clientPeer, "PONG")

	ts := s.Timestamps()
	if !(ts.ReadRequest < ts.WriteRequest && ts.WriteRequest < ts.ReadResponse && ts.ReadResponse < ts.WriteResponse) {
		t.Errorf("Expected strictly increasing timestamps, got %+v", ts)
	}
	ok := f.sink.byCategory(stats.Ok)
	if len(ok) != 1 || ok[0].Start != ts.ReadResponse || ok[0].End != ts.WriteResponse {
		t.Errorf("Unexpected ok samples %+v", ok)
	}
	if call := f.registrar.last(t); call.fd != s.Client() || !call.interest.Has(Readable) {
		t.Errorf("Expected client re-armed readable, got %+v", call)
	}
}

func TestSessionSampleOrdering(t *testing.T) {
	f := newSessionFixture(t, 64)

	const exchanges = 50
	for i := 0; i < exchanges; i++ {
		f.exchange(t, "PING", "PONG")
	}

	ct := f.sink.byCategory(stats.ClientTurnaround)
	fc := f.sink.byCategory(stats.FullCycle)
	if len(ct) != exchanges || len(fc) != exchanges {
		t.Fatalf("Expected %d samples each, got %d client turnaround and %d full cycle", exchanges, len(ct), len(fc))
	}

	for i := 1; i < exchanges; i++ {
		if !(fc[i].Start < ct[i].Start && ct[i].Start < ct[i].End && ct[i].End < fc[i].End) {
			t.Errorf("Exchange %d: expected fc.start < ct.start < ct.end < fc.end, got ct=%+v fc=%+v", i, ct[i], fc[i])
		}
	}
}

func TestSessionWouldBlockDefers(t *testing.T) {
	f := newSessionFixture(t, 64)
	s := f.session
	before := s.Timestamps()

	s.OnReadable(f.registrar)

	if s.IsClosed() {
		t.Fatalf("Expected session to stay open")
	}
	if s.Mode() != ActingAsClient {
		t.Errorf("Expected mode to flip to client, got %s", s.Mode())
	}
	if call := f.registrar.last(t); call.fd != s.Backend() || call.interest != Readable|Hangup {
		t.Errorf("Expected backend re-armed readable|hangup, got %+v", call)
	}
	if s.Timestamps() != before {
		t.Errorf("Expected timestamps unchanged, got %+v", s.Timestamps())
	}
	if len(f.sink.samples) != 0 {
		t.Errorf("Expected no samples, got %+v", f.sink.samples)
	}

	// and back again
	s.OnReadable(f.registrar)
	if s.Mode() != ActingAsServer {
		t.Errorf("Expected mode to flip back to server, got %s", s.Mode())
	}
	if call := f.registrar.last(t); call.fd != s.Client() {
		t.Errorf("Expected client re-armed, got %+v", call)
	}
}

func TestSessionSpuriousWritable(t *testing.T) {
	f := newSessionFixture(t, 64)
	s := f.session

	s.OnWritable(f.registrar)

	if s.IsClosed() || len(f.registrar.calls) != 0 || len(f.sink.samples) != 0 {
		t.Errorf("Expected a writable event on an empty buffer to be ignored")
	}
}

func TestSessionClientHangup(t *testing.T) {
	f := newSessionFixture(t, 64)
	s := f.session

	_ = unix.Close(f.clientPeer)
	s.OnReadable(f.registrar)

	if !s.IsClosed() {
		t.Fatalf("Expected session to close on client hangup")
	}
	if len(f.sink.samples) != 0 {
		t.Errorf("Expected an orderly hangup to emit no samples, got %+v", f.sink.samples)
	}

	// closed is final
	s.OnReadable(f.registrar)
	s.OnWritable(f.registrar)
	if len(f.registrar.calls) != 0 {
		t.Errorf("Expected no registrations for a closed session, got %+v", f.registrar.calls)
	}
}

func TestSessionBackendHangupWhileIdle(t *testing.T) {
	f := newSessionFixture(t, 64)
	s := f.session

	_ = unix.Close(f.backendPeer)

	// the hangup is reported against the session while it reads the client
	s.OnReadable(f.registrar)
	if s.IsClosed() {
		t.Fatalf("Expected the first wakeup to defer to the backend")
	}
	s.OnReadable(f.registrar)
	if !s.IsClosed() {
		t.Fatalf("Expected session to close once the backend hangup is read")
	}
}

func TestSessionReadableWhileStaged(t *testing.T) {
	f := newSessionFixture(t, 64)
	s := f.session

	mustWrite(t, f.clientPeer, "PING")
	s.OnReadable(f.registrar)
	s.OnReadable(f.registrar)

	if !s.IsClosed() {
		t.Errorf("Expected session to close on input while a message is staged")
	}
}

func TestSessionWriteError(t *testing.T) {
	f := newSessionFixture(t, 64)
	s := f.session

	mustWrite(t, f.clientPeer, "PING")
	s.OnReadable(f.registrar)
	_ = unix.Close(f.backendPeer)
	s.OnWritable(f.registrar)

	if !s.IsClosed() {
		t.Fatalf("Expected session to close on write error")
	}
	if f.sink.count(stats.Error) != 1 {
		t.Errorf("Expected one error sample, got %d", f.sink.count(stats.Error))
	}
	if f.sink.count(stats.FullCycle) != 0 {
		t.Errorf("Expected no full cycle sample for a failed forward")
	}
}

func TestSessionRearmFailure(t *testing.T) {
	f := newSessionFixture(t, 64)
	s := f.session
	f.registrar.err = errors.New("epoll_ctl failed")

	mustWrite(t, f.clientPeer, "PING")
	s.OnReadable(f.registrar)

	if !s.IsClosed() {
		t.Fatalf("Expected session to close when re-arming fails")
	}
	if f.sink.count(stats.Error) != 1 {
		t.Errorf("Expected one error sample, got %d", f.sink.count(stats.Error))
	}
}

func TestSessionPartialWrite(t *testing.T) {
	const size = 64 * 1024
	f := newSessionFixture(t, size)
	s := f.session

	// shrink the backend send buffer so the forward cannot complete at once
	if err := unix.SetsockoptInt(s.Backend(), unix.SOL_SOCKET, unix.SO_SNDBUF, 4096); err != nil {
		t.Fatalf("failed to set SO_SNDBUF: %v", err)
	}

	payload := bytes.Repeat([]byte("0123456789abcdef"), size/16)
	n, err := unix.Write(f.clientPeer, payload)
	if err != nil {
		t.Fatalf("write failed: %v", err)
	}
	payload = payload[:n]

	s.OnReadable(f.registrar)
	staged := len(s.buf.pending())
	if staged == 0 {
		t.Fatalf("Expected data to be staged")
	}

	var received []byte
	chunk := make([]byte, size)
	partial := false
	for i := 0; i < 10000 && !s.buf.isEmpty(); i++ {
		s.OnWritable(f.registrar)
		if s.IsClosed() {
			t.Fatalf("Session closed during partial write")
		}
		if !s.buf.isEmpty() {
			partial = true
			if s.Mode() != ActingAsClient {
				t.Fatalf("Expected mode to stay client while data is pending")
			}
			if call := f.registrar.last(t); call.fd != s.Backend() || call.opts != Edge|Oneshot || !call.interest.Has(Writable) {
				t.Fatalf("Expected backend re-armed writable edge|oneshot, got %+v", call)
			}
			if f.sink.count(stats.FullCycle) != 0 {
				t.Fatalf("Expected no full cycle sample before the forward completed")
			}
		}
		if m, err := unix.Read(f.backendPeer, chunk); err == nil {
			received = append(received, chunk[:m]...)
		}
	}

	for len(received) < staged {
		m, err := unix.Read(f.backendPeer, chunk)
		if err != nil {
			break
		}
		received = append(received, chunk[:m]...)
	}

	if !partial {
		t.Logf("Forward completed in one write, partial path not exercised")
	}
	if !bytes.Equal(received, payload[:staged]) {
		t.Errorf("Expected %d forwarded bytes to match, got %d", staged, len(received))
	}
	if f.sink.count(stats.FullCycle) != 1 {
		t.Errorf("Expected one full cycle sample, got %d", f.sink.count(stats.FullCycle))
	}
}
