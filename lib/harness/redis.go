package harness

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

// RunRedis drives a redis backend through the target. Every connection
// issues PING, SET and GET sequentially Rounds times and checks the replies.
// The client speaks RESP2 and does not send CLIENT SETINFO, so the handshake
// is a single HELLO exchange and no commands are pipelined.
func RunRedis(ctx context.Context, config Config) (*Result, error) {
	config = config.withDefaults()

	rtts := make([][]time.Duration, config.Connections)
	g, gctx := errgroup.WithContext(ctx)

	start := time.Now()
	for i := 0; i < config.Connections; i++ {
		i := i // per-iteration copy (go directive < 1.22)
		g.Go(func() error {
			var err error
			rtts[i], err = runRedisConnection(gctx, config, i)
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

func newRedisClient(config Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:            config.Target,
		Protocol:        2,
		DisableIdentity: true,
		PoolSize:        1,
		MaxRetries:      -1,
		DialTimeout:     config.Timeout,
		ReadTimeout:     config.Timeout,
		WriteTimeout:    config.Timeout,
	})
}

// runRedisConnection runs the command script on a single pooled connection
func runRedisConnection(ctx context.Context, config Config, id int) ([]time.Duration, error) {
	rdb := newRedisClient(config)
	defer rdb.Close()

	key := fmt.Sprintf("perfprox:%d", id)
	rtts := make([]time.Duration, 0, config.Rounds*3)

	timed := func(f func() error) error {
		start := time.Now()
		if err := f(); err != nil {
			return err
		}
		rtts = append(rtts, time.Since(start))
		return nil
	}

	for round := 0; round < config.Rounds; round++ {
		value := strconv.Itoa(round)

		err := timed(func() error {
			pong, err := rdb.Ping(ctx).Result()
			if err != nil {
				return fmt.Errorf("PING failed: %w", err)
			}
			if pong != "PONG" {
				return fmt.Errorf("%w: PING returned %q", ErrMismatch, pong)
			}
			return nil
		})
		if err == nil {
			err = timed(func() error {
				if err := rdb.Set(ctx, key, value, 0).Err(); err != nil {
					return fmt.Errorf("SET failed: %w", err)
				}
				return nil
			})
		}
		if err == nil {
			err = timed(func() error {
				got, err := rdb.Get(ctx, key).Result()
				if err != nil {
					return fmt.Errorf("GET failed: %w", err)
				}
				if got != value {
					return fmt.Errorf("%w: GET %s returned %q, expected %q", ErrMismatch, key, got, value)
				}
				return nil
			})
		}
		if err != nil {
			return rtts, fmt.Errorf("connection %d, round %d: %w", id, round+1, err)
		}
	}

	Logger.Debugf("redis connection %d: completed %d commands", id, len(rtts))
	return rtts, nil
}
