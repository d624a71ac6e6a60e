package harness

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"golang.org/x/sync/errgroup"
)

// RunEcho dials Connections connections to the target and runs the message
// script Rounds times on each. Every message must come back unchanged.
// The first failing exchange cancels the run.
func RunEcho(ctx context.Context, config Config) (*Result, error) {
	config = config.withDefaults()
	if len(config.Messages) == 0 {
		return nil, errors.New("harness: no messages to send")
	}
	for i, msg := range config.Messages {
		if msg == "" {
			return nil, fmt.Errorf("harness: message %d is empty", i+1)
		}
	}

	rtts := make([][]time.Duration, config.Connections)
	g, gctx := errgroup.WithContext(ctx)

	start := time.Now()
	for i := 0; i < config.Connections; i++ {
		i := i // per-iteration copy (go directive < 1.22)
		g.Go(func() error {
			var err error
			rtts[i], err = runEchoConnection(gctx, config, i)
			return err
		})
	}
	err := g.Wait()
	elapsed := time.Since(start)

	var all []time.Duration
	for _, r := range rtts {
		all = append(all, r...)
	}
	return newResult(all, elapsed), err
}

// runEchoConnection runs the script on one connection
func runEchoConnection(ctx context.Context, config Config, id int) ([]time.Duration, error) {
	dialer := net.Dialer{Timeout: config.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", config.Target)
	if err != nil {
		return nil, fmt.Errorf("connection %d: failed to dial %s: %w", id, config.Target, err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	rtts := make([]time.Duration, 0, config.Rounds*len(config.Messages))
	response := make([]byte, maxLen(config.Messages))

	for round := 0; round < config.Rounds; round++ {
		for _, msg := range config.Messages {
			rtt, err := exchange(conn, []byte(msg), response[:len(msg)], config.Timeout)
			if err != nil {
				return rtts, fmt.Errorf("connection %d, round %d: %w", id, round+1, err)
			}
			rtts = append(rtts, rtt)
		}
	}

	Logger.Debugf("connection %d: completed %d exchanges", id, len(rtts))
	return rtts, nil
}

// exchange writes request and reads exactly len(response) bytes back
func exchange(conn net.Conn, request, response []byte, timeout time.Duration) (time.Duration, error) {
	start := time.Now()
	if err := conn.SetDeadline(start.Add(timeout)); err != nil {
		return 0, err
	}

	if _, err := conn.Write(request); err != nil {
		return 0, fmt.Errorf("write failed: %w", err)
	}
	if _, err := io.ReadFull(conn, response); err != nil {
		return 0, fmt.Errorf("read failed: %w", err)
	}
	rtt := time.Since(start)

	if !bytes.Equal(request, response) {
		return rtt, fmt.Errorf("%w: sent %q, received %q", ErrMismatch, request, response)
	}
	return rtt, nil
}

func maxLen(messages []string) int {
	n := 0
	for _, msg := range messages {
		n = max(n, len(msg))
	}
	return n
}
