package repository

import (
	"context"
	"fmt"
	"strconv"

	"github.com/flowdesk/msggate/infrastructure/valkey"
)

// incrScript checks the ceiling and increments atomically. Embedding the
// window start in the key makes pruning a TTL concern.
const incrScript = `
local current = redis.call("GET", KEYS[1])
if current and tonumber(current) >= tonumber(ARGV[1]) then
	return 0
end
current = redis.call("INCR", KEYS[1])
if current == 1 then
	redis.call("EXPIRE", KEYS[1], ARGV[2])
end
return 1
`

// BucketValkeyStore keeps windowed counters in Valkey. Buckets expire on
// their own; PruneBefore is a no-op.
type BucketValkeyStore struct {
	client *valkey.Client
	ttlSec int64
}

func NewBucketValkeyStore(client *valkey.Client, ttlSec int64) *BucketValkeyStore {
	if ttlSec <= 0 {
		ttlSec = 3600
	}
	return &BucketValkeyStore{client: client, ttlSec: ttlSec}
}

func (s *BucketValkeyStore) Increment(ctx context.Context, key, action string, windowStart int64, limit int) (bool, error) {
	bucketKey := s.client.Key("ratelimit", key, action, strconv.FormatInt(windowStart, 10))

	inner := s.client.Inner()
	cmd := inner.B().Eval().Script(incrScript).Numkeys(1).Key(bucketKey).
		Arg(strconv.Itoa(limit), strconv.FormatInt(s.ttlSec, 10)).Build()

	res, err := inner.Do(ctx, cmd).AsInt64()
	if err != nil {
		return false, fmt.Errorf("ratelimit eval: %w", err)
	}
	return res == 1, nil
}

func (s *BucketValkeyStore) PruneBefore(ctx context.Context, horizon int64) error {
	return nil
}
