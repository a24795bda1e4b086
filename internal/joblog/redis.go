package joblog

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JakeFAU/diecast-crawler/internal/catalog"
)

const keyPrefix = "joblog:"

// RedisStore keeps each job's lines in a sorted set scored by timestamp. The
// key expires ttl after the last append.
type RedisStore struct {
	client  redis.Cmdable
	ttl     time.Duration
	stamper *stamper
	clock   catalog.Clock
}

// NewRedisStore builds a RedisStore. ttl <= 0 uses DefaultTTL.
func NewRedisStore(client redis.Cmdable, clock catalog.Clock, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, ttl: ttl, stamper: newStamper(clock), clock: clock}
}

func key(jobID string) string {
	return keyPrefix + jobID
}

// Append records a line.
func (s *RedisStore) Append(ctx context.Context, jobID, message string) error {
	if jobID == "" {
		return fmt.Errorf("job id is required")
	}
	ts, now := s.stamper.next(jobID)
	entry := Entry{JobID: jobID, TS: ts, Message: message, ExpiresAt: now.Add(s.ttl).UnixMilli()}
	member, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal log entry: %w", err)
	}

	k := key(jobID)
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZAdd(ctx, k, redis.Z{Score: float64(ts), Member: string(member)})
		p.Expire(ctx, k, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("append log entry: %w", err)
	}
	return nil
}

// Poll returns entries newer than afterTS. Expired members are stepped over
// and removed, so they never count toward a page.
func (s *RedisStore) Poll(ctx context.Context, jobID string, afterTS int64, limit int) (Page, error) {
	limit = normalizeLimit(limit)
	k := key(jobID)
	nowMs := s.clock.Now().UnixMilli()
	page := Page{Logs: make([]Entry, 0, limit)}
	cursor := afterTS

	for {
		want := limit + 1 - len(page.Logs)
		members, err := s.client.ZRangeByScore(ctx, k, &redis.ZRangeBy{
			Min:   "(" + strconv.FormatInt(cursor, 10),
			Max:   "+inf",
			Count: int64(want),
		}).Result()
		if err != nil {
			return Page{}, fmt.Errorf("poll log entries: %w", err)
		}

		var expired []any
		for _, m := range members {
			var e Entry
			if err := json.Unmarshal([]byte(m), &e); err != nil {
				return Page{}, fmt.Errorf("decode log entry: %w", err)
			}
			cursor = e.TS
			if e.ExpiresAt <= nowMs {
				expired = append(expired, m)
				continue
			}
			if len(page.Logs) == limit {
				page.HasMore = true
				break
			}
			page.Logs = append(page.Logs, e)
		}
		if len(expired) > 0 {
			if err := s.client.ZRem(ctx, k, expired...).Err(); err != nil {
				return Page{}, fmt.Errorf("prune expired log entries: %w", err)
			}
		}
		if page.HasMore || len(members) < want {
			return page, nil
		}
	}
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}
