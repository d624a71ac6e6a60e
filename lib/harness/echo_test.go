package harness

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"
)

func startEchoServer(t *testing.T) *EchoServer {
	t.Helper()
	s, err := NewEchoServer("127.0.0.1:0")
	if err != nil {
		t.Fatalf("NewEchoServer failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Serve returned error: %v", err)
			}
		case <-time.After(3 * time.Second):
			t.Errorf("Timeout waiting for the echo server to stop")
		}
	})
	return s
}

func TestEchoServer(t *testing.T) {
	s := startEchoServer(t)

	conn, err := net.Dial("tcp", s.Addr())
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(3 * time.Second))

	if _, err := conn.Write([]byte("hello")); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	buf := make([]byte, 5)
	if _, err := io.ReadFull(conn, buf); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if string(buf) != "hello" {
		t.Errorf("Expected hello, got %q", buf)
	}
}

func TestEchoServerCloseDropsConnections(t *testing.T) {
	s := startEchoServer(t)

	conn, err := net.Dial("tcp", s.Addr())
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	// make sure the connection is being served
	_ = conn.SetDeadline(time.Now().Add(3 * time.Second))
	_, _ = conn.Write([]byte("x"))
	_, _ = io.ReadFull(conn, make([]byte, 1))

	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := conn.Read(make([]byte, 1)); err == nil {
		t.Errorf("Expected the connection to be closed")
	}
}

func TestRunEcho(t *testing.T) {
	s := startEchoServer(t)

	result, err := RunEcho(context.Background(), Config{
		Target:      s.Addr(),
		Messages:    []string{"PING", "a longer message", "x"},
		Rounds:      10,
		Connections: 4,
		Timeout:     3 * time.Second,
	})
	if err != nil {
		t.Fatalf("RunEcho failed: %v", err)
	}

	if result.Exchanges != 3*10*4 {
		t.Errorf("Expected 120 exchanges, got %d", result.Exchanges)
	}
	if result.RTT.Count != result.Exchanges || result.RTT.Min <= 0 || result.RTT.Max < result.RTT.Min {
		t.Errorf("Unexpected round trip stats %+v", result.RTT)
	}
	if result.Throughput() <= 0 {
		t.Errorf("Expected positive throughput")
	}
}

func TestRunEchoMismatch(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	defer ln.Close()

	// a backend that answers with the wrong bytes
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 4)
		if _, err := io.ReadFull(conn, buf); err != nil {
			return
		}
		_, _ = conn.Write([]byte("PONG"))
		_, _ = io.Copy(io.Discard, conn)
	}()

	_, err = RunEcho(context.Background(), Config{
		Target:   ln.Addr().String(),
		Messages: []string{"PING"},
		Timeout:  3 * time.Second,
	})
	if !errors.Is(err, ErrMismatch) {
		t.Errorf("Expected ErrMismatch, got %v", err)
	}
}

func TestRunEchoValidation(t *testing.T) {
	if _, err := RunEcho(context.Background(), Config{Target: "127.0.0.1:1"}); err == nil {
		t.Errorf("Expected an error without messages")
	}
	if _, err := RunEcho(context.Background(), Config{Target: "127.0.0.1:1", Messages: []string{""}}); err == nil {
		t.Errorf("Expected an error for an empty message")
	}
}
