package presence

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// decrementScript lowers a user's connection count and drops the field at zero.
var decrementScript = redis.NewScript(`
local n = redis.call('HINCRBY', KEYS[1], ARGV[1], -1)
if n <= 0 then
	redis.call('HDEL', KEYS[1], ARGV[1])
	return 0
end
return n
`)

// Directory is the cluster-wide record of online users. Each user maps to
// the number of live connections it holds across all instances.
type Directory struct {
	rdb redis.UniversalClient
	key string
}

func NewDirectory(rdb redis.UniversalClient, key string) *Directory {
	return &Directory{rdb: rdb, key: key}
}

// Connect counts one more live connection for userID.
func (d *Directory) Connect(ctx context.Context, userID uuid.UUID) (int64, error) {
	n, err := d.rdb.HIncrBy(ctx, d.key, userID.String(), 1).Result()
	if err != nil {
		return 0, fmt.Errorf("presence connect: %w", err)
	}
	return n, nil
}

// Disconnect counts one fewer live connection. The user is absent once the count reaches zero.
func (d *Directory) Disconnect(ctx context.Context, userID uuid.UUID) (int64, error) {
	n, err := decrementScript.Run(ctx, d.rdb, []string{d.key}, userID.String()).Int64()
	if err != nil {
		return 0, fmt.Errorf("presence disconnect: %w", err)
	}
	return n, nil
}

func (d *Directory) IsOnline(ctx context.Context, userID uuid.UUID) (bool, error) {
	val, err := d.rdb.HGet(ctx, d.key, userID.String()).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("presence lookup: %w", err)
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return false, fmt.Errorf("presence lookup: %w", err)
	}
	return n > 0, nil
}

// OnlineAmong returns the subset of userIDs currently online.
func (d *Directory) OnlineAmong(ctx context.Context, userIDs []uuid.UUID) (map[uuid.UUID]bool, error) {
	online := make(map[uuid.UUID]bool, len(userIDs))
	if len(userIDs) == 0 {
		return online, nil
	}
	fields := make([]string, len(userIDs))
	for i, id := range userIDs {
		fields[i] = id.String()
	}
	vals, err := d.rdb.HMGet(ctx, d.key, fields...).Result()
	if err != nil {
		return nil, fmt.Errorf("presence lookup: %w", err)
	}
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil && n > 0 {
			online[userIDs[i]] = true
		}
	}
	return online, nil
}

// Count returns the number of online users.
func (d *Directory) Count(ctx context.Context) (int64, error) {
	return d.rdb.HLen(ctx, d.key).Result()
}
