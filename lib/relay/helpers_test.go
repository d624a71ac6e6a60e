//go:build linux

package relay

import (
	"sync"
	"testing"
	"time"

	"github.com/brayniac/perfprox/lib/stats"
	"golang.org/x/sys/unix"
)

// --------------------------------------------------------------------------
// Recording sink
// --------------------------------------------------------------------------

type recordingSink struct {
	mu      sync.Mutex
	samples []stats.Sample
}

func (s *recordingSink) Push(start, end uint64, category stats.Category) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = append(s.samples, stats.Sample{Start: start, End: end, Category: category})
}

func (s *recordingSink) byCategory(c stats.Category) []stats.Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []stats.Sample
	for _, sample := range s.samples {
		if sample.Category == c {
			out = append(out, sample)
		}
	}
	return out
}

func (s *recordingSink) count(c stats.Category) int {
	return len(s.byCategory(c))
}

// waitCount polls until the sink holds n samples of category c
func (s *recordingSink) waitCount(t *testing.T, c stats.Category, n int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for s.count(c) < n {
		if time.Now().After(deadline) {
			t.Fatalf("Timeout waiting for %d %s samples, got %d", n, c, s.count(c))
		}
		time.Sleep(time.Millisecond)
	}
}

// --------------------------------------------------------------------------
// Recording registrar
// --------------------------------------------------------------------------

type registration struct {
	op       string
	fd       int
	token    Token
	interest Interest
	opts     PollOpt
}

type fakeRegistrar struct {
	calls []registration
	err   error
}

func (f *fakeRegistrar) Register(fd int, token Token, interest Interest, opts PollOpt) error {
	f.calls = append(f.calls, registration{"register", fd, token, interest, opts})
	return f.err
}

func (f *fakeRegistrar) Reregister(fd int, token Token, interest Interest, opts PollOpt) error {
	f.calls = append(f.calls, registration{"reregister", fd, token, interest, opts})
	return f.err
}

func (f *fakeRegistrar) Deregister(fd int) error {
	f.calls = append(f.calls, registration{op: "deregister", fd: fd})
	return nil
}

func (f *fakeRegistrar) last(t *testing.T) registration {
	t.Helper()
	if len(f.calls) == 0 {
		t.Fatalf("Expected at least one registration call")
	}
	return f.calls[len(f.calls)-1]
}

// --------------------------------------------------------------------------
// Socket helpers
// --------------------------------------------------------------------------

// socketPair returns two connected non-blocking stream sockets
func socketPair(t *testing.T) (int, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		t.Fatalf("socketpair failed: %v", err)
	}
	t.Cleanup(func() {
		_ = closeFd(fds[0])
		_ = closeFd(fds[1])
	})
	return fds[0], fds[1]
}

func mustWrite(t *testing.T, fd int, data string) {
	t.Helper()
	n, err := unix.Write(fd, []byte(data))
	if err != nil || n != len(data) {
		t.Fatalf("write failed: n=%d err=%v", n, err)
	}
}

func mustRead(t *testing.T, fd int, want string) {
	t.Helper()
	buf := make([]byte, len(want)+16)
	n, err := unix.Read(fd, buf)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if string(buf[:n]) != want {
		t.Fatalf("Expected %q, got %q", want, buf[:n])
	}
}
