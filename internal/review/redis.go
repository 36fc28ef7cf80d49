package review

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyQueue      = "review:queue"
	keyItemPrefix = "review:item:"
)

// RedisQueue keeps the ordering in a sorted set and the item bodies as JSON
// strings, so several processes can share one queue.
type RedisQueue struct {
	client redis.Cmdable
}

func NewRedisQueue(client redis.Cmdable) *RedisQueue {
	return &RedisQueue{client: client}
}

func itemKey(claimID string) string {
	return keyItemPrefix + claimID
}

// score sorts by priority rank and then by enqueue time in milliseconds,
// which stays well inside float64 integer precision.
func score(item Item) float64 {
	return float64(item.Priority.Rank())*1e13 + float64(item.EnqueuedAt.UnixMilli())
}

func (q *RedisQueue) Enqueue(ctx context.Context, item Item) error {
	item = normalize(item, time.Now().UTC())
	body, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal review item: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.Set(ctx, itemKey(item.ClaimID), body, 0)
	pipe.ZAdd(ctx, keyQueue, redis.Z{Score: score(item), Member: item.ClaimID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("enqueue review %s: %w", item.ClaimID, err)
	}
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context, claimID string) (bool, error) {
	pipe := q.client.TxPipeline()
	removed := pipe.ZRem(ctx, keyQueue, claimID)
	pipe.Del(ctx, itemKey(claimID))
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("dequeue review %s: %w", claimID, err)
	}
	return removed.Val() > 0, nil
}

func (q *RedisQueue) List(ctx context.Context, f Filter) ([]Item, error) {
	ids, err := q.client.ZRange(ctx, keyQueue, 0, -1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []Item{}, nil
		}
		return nil, fmt.Errorf("list review queue: %w", err)
	}
	if len(ids) == 0 {
		return []Item{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = itemKey(id)
	}
	bodies, err := q.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load review items: %w", err)
	}

	out := make([]Item, 0, len(bodies))
	for i, raw := range bodies {
		s, ok := raw.(string)
		if !ok {
			// Item body expired or was removed between the two reads.
			continue
		}
		var item Item
		if err := json.Unmarshal([]byte(s), &item); err != nil {
			return nil, fmt.Errorf("decode review item %s: %w", ids[i], err)
		}
		if f.Priority != "" && item.Priority != f.Priority {
			continue
		}
		out = append(out, item)
	}
	sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out, nil
}
