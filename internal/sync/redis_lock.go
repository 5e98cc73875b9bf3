package sync

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/fisioflow/calsync/internal/calendar"
	"github.com/fisioflow/calsync/pkg/logging"
)

// releaseScript deletes the lock key only when the caller still owns it, so a
// holder that outlived its TTL cannot release someone else's lock.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLock serializes appointment syncs across replicas via SET NX with a
// TTL. Unlike KeyedLock it rejects a busy key with ErrSyncInFlight instead of
// queueing; the caller retries later. The TTL bounds how long a crashed
// holder can block an appointment.
type RedisLock struct {
	client redis.UniversalClient
	ttl    time.Duration
	prefix string
	logger *logging.Logger
}

func NewRedisLock(client redis.UniversalClient, ttl time.Duration, logger *logging.Logger) *RedisLock {
	if client == nil {
		panic("sync: redis client required")
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &RedisLock{
		client: client,
		ttl:    ttl,
		prefix: "calsync:lock:",
		logger: logger,
	}
}

func (l *RedisLock) Acquire(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	redisKey := l.prefix + key

	ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
	if err != nil {
		return nil, &calendar.TransientError{Err: err}
	}
	if !ok {
		return nil, ErrSyncInFlight
	}
	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, l.client, []string{redisKey}, token).Err(); err != nil {
			l.logger.Warn("release sync lock", "key", key, "error", err)
		}
	}, nil
}
