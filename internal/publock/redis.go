package publock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"openshelf/internal/util"
	"openshelf/pkg/domain"
)

// lockTTL bounds how long a crashed publisher can keep a book locked.
const lockTTL = 5 * time.Minute

// Redis is a Locker backed by a shared redis instance, for deployments
// where multiple nodes ingest into the same object store.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis returns a redis-backed Locker.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client, prefix: "openshelf:publock:"}
}

// Acquire implements Locker with SET NX and a TTL. The lock value is a
// random token so a release after TTL expiry cannot delete someone else's
// lock.
func (r *Redis) Acquire(ctx context.Context, key string) (func(), error) {
	token := util.NewID()
	full := r.prefix + key
	ok, err := r.client.SetNX(ctx, full, token, lockTTL).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("lock %s held: %w", key, domain.ErrPublishConflict)
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			r.client.Eval(ctx, releaseScript, []string{full}, token)
		})
	}
	return release, nil
}

// releaseScript deletes the lock only when the stored token still matches.
const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`
