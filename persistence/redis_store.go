package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a Redis-based implementation of ExecutionStore.
// Suitable for distributed deployments. Execution records are stored
// as JSON blobs with a sorted-set index ordered by start time.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

// RedisOptions configures a RedisStore.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int

	// KeyPrefix namespaces all keys (default "flowforge:").
	KeyPrefix string

	// TTL expires execution data after the given duration.
	// Zero means keep forever.
	TTL time.Duration
}

// NewRedisStore creates a Redis-based execution store.
func NewRedisStore(opts RedisOptions) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	keyPrefix := opts.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = "flowforge:"
	}

	return &RedisStore{
		client:    client,
		keyPrefix: keyPrefix + "exec:",
		ttl:       opts.TTL,
	}, nil
}

// NewRedisStoreFromClient wraps an existing client, mainly for tests.
func NewRedisStoreFromClient(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{
		client:    client,
		keyPrefix: "flowforge:exec:",
		ttl:       ttl,
	}
}

func (s *RedisStore) dataKey(executionID string) string {
	return s.keyPrefix + "data:" + executionID
}

func (s *RedisStore) logKey(executionID string) string {
	return s.keyPrefix + "log:" + executionID
}

func (s *RedisStore) indexKey() string {
	return s.keyPrefix + "index"
}

// SaveExecution inserts or replaces an execution record.
func (s *RedisStore) SaveExecution(ctx context.Context, rec *ExecutionRecord) error {
	if rec == nil || rec.ID == "" {
		return ErrInvalidInput
	}

	cp := *rec
	cp.UpdatedAt = time.Now()

	data, err := json.Marshal(&cp)
	if err != nil {
		return fmt.Errorf("failed to encode execution: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.dataKey(rec.ID), data, s.ttl)
	pipe.ZAdd(ctx, s.indexKey(), redis.Z{
		Score:  float64(rec.StartedAt.UnixNano()),
		Member: rec.ID,
	})
	_, err = pipe.Exec(ctx)
	return err
}

// LoadExecution retrieves a record by execution ID.
func (s *RedisStore) LoadExecution(ctx context.Context, executionID string) (*ExecutionRecord, error) {
	data, err := s.client.Get(ctx, s.dataKey(executionID)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var rec ExecutionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode execution: %w", err)
	}
	return &rec, nil
}

// ListExecutions returns records matching the filter, newest first.
func (s *RedisStore) ListExecutions(ctx context.Context, filter ListFilter) ([]*ExecutionRecord, error) {
	ids, err := s.client.ZRevRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	out := make([]*ExecutionRecord, 0, len(ids))
	for _, id := range ids {
		rec, err := s.LoadExecution(ctx, id)
		if err == ErrNotFound {
			// Expired record still in index.
			continue
		}
		if err != nil {
			return nil, err
		}
		if filter.WorkflowID != "" && rec.WorkflowID != filter.WorkflowID {
			continue
		}
		if filter.Status != "" && rec.Status != filter.Status {
			continue
		}
		out = append(out, rec)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// AppendLog appends one log entry to an execution's log.
func (s *RedisStore) AppendLog(ctx context.Context, entry *LogEntry) error {
	if entry == nil || entry.ExecutionID == "" {
		return ErrInvalidInput
	}

	cp := *entry
	if cp.Timestamp.IsZero() {
		cp.Timestamp = time.Now()
	}

	data, err := json.Marshal(&cp)
	if err != nil {
		return fmt.Errorf("failed to encode log entry: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, s.logKey(entry.ExecutionID), data)
	if s.ttl > 0 {
		pipe.Expire(ctx, s.logKey(entry.ExecutionID), s.ttl)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// LoadLog returns all log entries for an execution in append order.
func (s *RedisStore) LoadLog(ctx context.Context, executionID string) ([]*LogEntry, error) {
	raw, err := s.client.LRange(ctx, s.logKey(executionID), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	out := make([]*LogEntry, 0, len(raw))
	for i, item := range raw {
		var entry LogEntry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			return nil, fmt.Errorf("failed to decode log entry %d: %w", i, err)
		}
		entry.Seq = i
		out = append(out, &entry)
	}
	return out, nil
}

// Ping checks if the store is healthy.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
