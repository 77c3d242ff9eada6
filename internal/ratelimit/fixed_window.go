package ratelimit

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrWithExpiry counts a hit and stamps the window TTL on first use of a key.
var incrWithExpiry = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// FixedWindow is a Redis-backed fixed-window counter shared across replicas.
// Redis failures count against the caller: the limiter fails closed.
type FixedWindow struct {
	client *redis.Client
	prefix string
	limit  int64
	window time.Duration
}

// NewFixedWindow builds a limiter allowing limit hits per key per window.
func NewFixedWindow(client *redis.Client, prefix string, limit int, window time.Duration) (*FixedWindow, error) {
	if client == nil {
		return nil, errors.New("rate limiter requires a redis client")
	}
	if limit <= 0 || window <= 0 {
		return nil, errors.New("rate limiter requires positive limit and window")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "epubshelf:ratelimit"
	}
	return &FixedWindow{
		client: client,
		prefix: prefix,
		limit:  int64(limit),
		window: window,
	}, nil
}

// Allow reports whether key has quota left in the current window.
func (fw *FixedWindow) Allow(ctx context.Context, key string) bool {
	if fw == nil {
		return false
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = "unknown"
	}
	windowMs := fw.window.Milliseconds()
	slot := time.Now().UTC().UnixMilli() / windowMs
	redisKey := fw.prefix + ":" + key + ":" + strconv.FormatInt(slot, 10)

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	count, err := incrWithExpiry.Run(ctx, fw.client, []string{redisKey}, windowMs).Int64()
	if err != nil {
		return false
	}
	return count <= fw.limit
}
