package redis

import (
	// Go Internal Packages
	"context"
	"time"

	// External Packages
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Lease is a best-effort cross-replica mutex so only one replica sweeps at a time.
// Correctness never depends on it; it only avoids duplicated ledger lookups.
type Lease struct {
	client *redis.Client
	key    string
	token  string
}

func NewLease(client *redis.Client, name string) *Lease {
	return &Lease{client: client, key: "lease:" + name, token: uuid.NewString()}
}

// Acquire takes the lease for ttl. It returns false when another holder owns it.
func (l *Lease) Acquire(ctx context.Context, ttl time.Duration) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.token, ttl).Result()
}

// Release drops the lease if this holder still owns it.
func (l *Lease) Release(ctx context.Context) error {
	return releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err()
}
