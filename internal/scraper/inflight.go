package scraper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// InFlight is the per-source "scan running" marker. TryAcquire is a
// compare-and-set: it returns ok=false when another scan holds the marker.
// The returned release must be called once the attempt reaches a terminal
// state.
type InFlight interface {
	TryAcquire(ctx context.Context, sourceID string) (release func(), ok bool, err error)
}

// LocalInFlight guards scans within one process.
type LocalInFlight struct {
	mu      sync.Mutex
	running map[string]struct{}
}

// NewLocalInFlight returns an empty marker set.
func NewLocalInFlight() *LocalInFlight {
	return &LocalInFlight{running: make(map[string]struct{})}
}

func (l *LocalInFlight) TryAcquire(_ context.Context, sourceID string) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.running[sourceID]; busy {
		return nil, false, nil
	}
	l.running[sourceID] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.running, sourceID)
			l.mu.Unlock()
		})
	}, true, nil
}

// releaseScript deletes the lease only if it still carries our token, so an
// expired lease taken over by another node is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisInFlight shares the marker across nodes with a SET NX lease. The TTL
// bounds how long a crashed node can block a source.
type RedisInFlight struct {
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
	log    *zap.Logger
}

// NewRedisInFlight returns a lease-based marker. ttl should exceed the scan
// timeout.
func NewRedisInFlight(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisInFlight {
	return &RedisInFlight{rdb: rdb, ttl: ttl, prefix: "jobmate:scan:inflight:", log: logger.Named("inflight")}
}

func (r *RedisInFlight) TryAcquire(ctx context.Context, sourceID string) (func(), bool, error) {
	key := r.prefix + sourceID
	token := uuid.NewString()

	ok, err := r.rdb.SetNX(ctx, key, token, r.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire scan lease %s: %w", sourceID, err)
	}
	if !ok {
		return nil, false, nil
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(ctx, r.rdb, []string{key}, token).Err(); err != nil {
				r.log.Warn("release scan lease failed, held until ttl",
					zap.String("source_id", sourceID), zap.Duration("ttl", r.ttl), zap.Error(err))
			}
		})
	}, true, nil
}
