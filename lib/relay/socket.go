//go:build linux

package relay

import (
	"errors"
	"fmt"
	"net"
	"time"

	"golang.org/x/sys/unix"
)

var (
	// ErrWouldBlock is returned by non-blocking socket operations that cannot make progress
	ErrWouldBlock = errors.New("relay: operation would block")
	// ErrTableFull is returned when the session table reached its capacity
	ErrTableFull = errors.New("relay: session table is full")
	// ErrDialTimeout is returned when the backend did not accept the connection in time
	ErrDialTimeout = errors.New("relay: backend dial timed out")
)

const defaultBacklog = 1024

// --------------------------------------------------------------------------
// Listener
// --------------------------------------------------------------------------

// Listener is a non-blocking TCP listening socket owned by the reactor
type Listener struct {
	fd int
}

// Listen binds a non-blocking TCP listener to address (host:port).
// A backlog <= 0 selects a default.
func Listen(address string, backlog int) (*Listener, error) {
	addr, err := net.ResolveTCPAddr("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve listen address %s: %w", address, err)
	}

	domain, sa, err := toSockaddr(addr)
	if err != nil {
		return nil, err
	}

	fd, err := unix.Socket(domain, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return nil, fmt.Errorf("failed to create socket: %w", err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("failed to set SO_REUSEADDR: %w", err)
	}

	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("failed to bind %s: %w", address, err)
	}

	if backlog <= 0 {
		backlog = defaultBacklog
	}
	if err := unix.Listen(fd, backlog); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("failed to listen on %s: %w", address, err)
	}

	return &Listener{fd: fd}, nil
}

// Fd returns the file descriptor of the listener
func (l *Listener) Fd() int {
	return l.fd
}

// Addr returns the bound address, useful when listening on port 0
func (l *Listener) Addr() *net.TCPAddr {
	sa, err := unix.Getsockname(l.fd)
	if err != nil {
		return nil
	}
	return fromSockaddr(sa)
}

// Close closes the listening socket
func (l *Listener) Close() error {
	return unix.Close(l.fd)
}

// accept takes one pending connection as a non-blocking socket
func (l *Listener) accept() (int, error) {
	for {
		fd, _, err := unix.Accept4(l.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		switch {
		case err == nil:
			return fd, nil
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN, err == unix.ECONNABORTED:
			return -1, ErrWouldBlock
		default:
			return -1, err
		}
	}
}

// --------------------------------------------------------------------------
// Backend dialing
// --------------------------------------------------------------------------

// dialTCP connects a non-blocking socket to addr and waits up to timeout for
// the connection to complete. A timeout <= 0 waits forever.
func dialTCP(addr *net.TCPAddr, timeout time.Duration) (int, error) {
	domain, sa, err := toSockaddr(addr)
	if err != nil {
		return -1, err
	}

	fd, err := unix.Socket(domain, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return -1, fmt.Errorf("failed to create socket: %w", err)
	}

	err = unix.Connect(fd, sa)
	if err == nil {
		return fd, nil
	}
	if err != unix.EINPROGRESS && err != unix.EINTR {
		_ = unix.Close(fd)
		return -1, err
	}

	ms := -1
	if timeout > 0 {
		ms = int(timeout / time.Millisecond)
		if ms == 0 {
			ms = 1
		}
	}

	pfd := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLOUT}}
	for {
		n, err := unix.Poll(pfd, ms)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			_ = unix.Close(fd)
			return -1, err
		}
		if n == 0 {
			_ = unix.Close(fd)
			return -1, ErrDialTimeout
		}
		break
	}

	soErr, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		_ = unix.Close(fd)
		return -1, err
	}
	if soErr != 0 {
		_ = unix.Close(fd)
		return -1, unix.Errno(soErr)
	}

	return fd, nil
}

// setNoDelay toggles Nagle's algorithm
func setNoDelay(fd int, noDelay bool) error {
	v := 0
	if noDelay {
		v = 1
	}
	return unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, v)
}

// --------------------------------------------------------------------------
// Non-blocking I/O
// --------------------------------------------------------------------------

// readFd performs one non-blocking read. A return of (0, nil) means the peer closed.
func readFd(fd int, p []byte) (int, error) {
	for {
		n, err := unix.Read(fd, p)
		switch {
		case err == nil:
			return n, nil
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			return 0, ErrWouldBlock
		default:
			return 0, err
		}
	}
}

// writeFd performs one non-blocking write and returns the number of bytes accepted
func writeFd(fd int, p []byte) (int, error) {
	for {
		n, err := unix.Write(fd, p)
		switch {
		case err == nil:
			return n, nil
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			return 0, ErrWouldBlock
		default:
			return 0, err
		}
	}
}

// closeFd closes a socket, ignoring already closed descriptors
func closeFd(fd int) error {
	if fd < 0 {
		return nil
	}
	if err := unix.Close(fd); err != nil && err != unix.EBADF {
		return err
	}
	return nil
}

// --------------------------------------------------------------------------
// Address conversion
// --------------------------------------------------------------------------

func toSockaddr(addr *net.TCPAddr) (int, unix.Sockaddr, error) {
	if addr.IP == nil || addr.IP.To4() != nil {
		sa := &unix.SockaddrInet4{Port: addr.Port}
		if ip4 := addr.IP.To4(); ip4 != nil {
			copy(sa.Addr[:], ip4)
		}
		return unix.AF_INET, sa, nil
	}

	if ip6 := addr.IP.To16(); ip6 != nil {
		sa := &unix.SockaddrInet6{Port: addr.Port}
		copy(sa.Addr[:], ip6)
		if addr.Zone != "" {
			iface, err := net.InterfaceByName(addr.Zone)
			if err != nil {
				return 0, nil, fmt.Errorf("invalid zone %q: %w", addr.Zone, err)
			}
			sa.ZoneId = uint32(iface.Index)
		}
		return unix.AF_INET6, sa, nil
	}

	return 0, nil, fmt.Errorf("unsupported address %s", addr)
}

func fromSockaddr(sa unix.Sockaddr) *net.TCPAddr {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: net.IP(append([]byte(nil), a.Addr[:]...)), Port: a.Port}
	case *unix.SockaddrInet6:
		return &net.TCPAddr{IP: net.IP(append([]byte(nil), a.Addr[:]...)), Port: a.Port}
	default:
		return nil
	}
}
