package data

import (
	"context"
	"fmt"
	"time"

	"mediasync/internal/biz"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Only the holder's token may extend or drop the lock.
var (
	extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
)

type runLocker struct {
	rdb *redis.Client
	log *log.Helper
}

// NewRunLocker creates a redis backed stream lock. Without redis every acquire succeeds.
func NewRunLocker(data *Data, logger log.Logger) biz.RunLocker {
	return &runLocker{
		rdb: data.rdb,
		log: log.NewHelper(log.With(logger, "module", "data/lock")),
	}
}

func (l *runLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (func(), bool, error) {
	if l.rdb == nil {
		return func() {}, true, nil
	}
	token, err := uuid.NewV7()
	if err != nil {
		return nil, false, fmt.Errorf("failed to generate lock token: %w", err)
	}
	ok, err := l.rdb.SetNX(ctx, name, token.String(), ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire lock %s: %w", name, err)
	}
	if !ok {
		return nil, false, nil
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go l.keepalive(name, token.String(), ttl, stop, done)

	release := func() {
		close(stop)
		<-done
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(rctx, l.rdb, []string{name}, token.String()).Err(); err != nil {
			l.log.Warnf("failed to release lock %s: %v", name, err)
		}
	}
	return release, true, nil
}

// keepalive extends the lock at a third of its ttl until stop is closed.
func (l *runLocker) keepalive(name, token string, ttl time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), ttl/3)
			n, err := extendScript.Run(ctx, l.rdb, []string{name}, token, ttl.Milliseconds()).Int()
			cancel()
			if err != nil {
				l.log.Warnf("failed to extend lock %s: %v", name, err)
				continue
			}
			if n == 0 {
				l.log.Errorf("lock %s was lost", name)
				return
			}
		}
	}
}
