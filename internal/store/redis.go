// Package store persists canvas state in Redis so a restart resumes from
// the last applied placement instead of an empty grid.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"pixel-canvas/server/internal/cooldown"
	"pixel-canvas/server/internal/grid"
	"pixel-canvas/server/internal/history"
)

// RedisStore keeps three structures under a shared key prefix: a hash of
// cells keyed "x,y", an append-only list of history entries, and a hash of
// per-participant cooldown state. The store is safe for concurrent use.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisStore creates a store on the given connection. The prefix
// namespaces keys so several canvases can share one Redis.
func NewRedisStore(redisOpts *redis.Options, prefix string) (*RedisStore, error) {
	if prefix == "" {
		return nil, fmt.Errorf("key prefix cannot be empty")
	}
	return &RedisStore{
		rdb:    redis.NewClient(redisOpts),
		prefix: prefix,
	}, nil
}

// Close closes the Redis connection. Implements io.Closer.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

// Ping verifies Redis connectivity. Useful for health checks.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *RedisStore) cellsKey() string     { return s.prefix + ":cells" }
func (s *RedisStore) historyKey() string   { return s.prefix + ":history" }
func (s *RedisStore) cooldownsKey() string { return s.prefix + ":cooldowns" }

func cellField(x, y int) string {
	return strconv.Itoa(x) + "," + strconv.Itoa(y)
}

func parseCellField(field string) (int, int, error) {
	parts := strings.SplitN(field, ",", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("malformed cell field %q", field)
	}
	x, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("malformed cell field %q: %w", field, err)
	}
	y, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("malformed cell field %q: %w", field, err)
	}
	return x, y, nil
}

type cellRecord struct {
	Color    grid.Color `json:"color"`
	PlacedBy string     `json:"placedBy"`
	PlacedAt int64      `json:"placedAt"`
}

// SaveCell upserts one cell. Writing the same coordinate twice keeps only
// the newest record, matching the in-memory grid.
func (s *RedisStore) SaveCell(ctx context.Context, x, y int, cell grid.Cell) error {
	payload, err := json.Marshal(cellRecord{
		Color:    cell.Color,
		PlacedBy: cell.PlacedBy,
		PlacedAt: cell.PlacedAt.UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("failed to serialize cell: %w", err)
	}
	if err := s.rdb.HSet(ctx, s.cellsKey(), cellField(x, y), payload).Err(); err != nil {
		return fmt.Errorf("failed to write cell to Redis: %w", err)
	}
	return nil
}

// AppendHistory appends one provenance entry. The list order matches
// sequence order because the hub's persistence worker is single-threaded.
func (s *RedisStore) AppendHistory(ctx context.Context, entry history.Entry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to serialize history entry: %w", err)
	}
	if err := s.rdb.RPush(ctx, s.historyKey(), payload).Err(); err != nil {
		return fmt.Errorf("failed to append history to Redis: %w", err)
	}
	return nil
}

// SaveCooldown upserts one participant's cooldown state.
func (s *RedisStore) SaveCooldown(ctx context.Context, participantID string, state cooldown.State) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to serialize cooldown state: %w", err)
	}
	if err := s.rdb.HSet(ctx, s.cooldownsKey(), participantID, payload).Err(); err != nil {
		return fmt.Errorf("failed to write cooldown to Redis: %w", err)
	}
	return nil
}

// Reset deletes the stored cells. History and cooldowns survive, matching
// the hub's reset semantics.
func (s *RedisStore) Reset(ctx context.Context) error {
	if err := s.rdb.Del(ctx, s.cellsKey()).Err(); err != nil {
		return fmt.Errorf("failed to clear cells in Redis: %w", err)
	}
	return nil
}

// LoadCells reads every stored cell for boot-time restore.
func (s *RedisStore) LoadCells(ctx context.Context) (map[[2]int]grid.Cell, error) {
	hashData, err := s.rdb.HGetAll(ctx, s.cellsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read cells from Redis: %w", err)
	}

	cells := make(map[[2]int]grid.Cell, len(hashData))
	for field, raw := range hashData {
		x, y, err := parseCellField(field)
		if err != nil {
			return nil, err
		}
		var rec cellRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("failed to deserialize cell %q: %w", field, err)
		}
		cells[[2]int{x, y}] = grid.Cell{
			Color:    rec.Color,
			PlacedBy: rec.PlacedBy,
			PlacedAt: time.UnixMilli(rec.PlacedAt),
		}
	}
	return cells, nil
}

// LoadHistory reads the full provenance log in append order.
func (s *RedisStore) LoadHistory(ctx context.Context) ([]history.Entry, error) {
	raw, err := s.rdb.LRange(ctx, s.historyKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read history from Redis: %w", err)
	}

	entries := make([]history.Entry, 0, len(raw))
	for i, item := range raw {
		var entry history.Entry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			return nil, fmt.Errorf("failed to deserialize history entry %d: %w", i, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// LoadCooldowns reads every participant's cooldown state.
func (s *RedisStore) LoadCooldowns(ctx context.Context) (map[string]cooldown.State, error) {
	hashData, err := s.rdb.HGetAll(ctx, s.cooldownsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read cooldowns from Redis: %w", err)
	}

	states := make(map[string]cooldown.State, len(hashData))
	for participantID, raw := range hashData {
		var state cooldown.State
		if err := json.Unmarshal([]byte(raw), &state); err != nil {
			return nil, fmt.Errorf("failed to deserialize cooldown for %q: %w", participantID, err)
		}
		states[participantID] = state
	}
	return states, nil
}
