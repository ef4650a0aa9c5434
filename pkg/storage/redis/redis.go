// Package redis provides a Redis-based implementation of the storage interface.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/ideaforge/ideaforge/pkg/model"
	"github.com/ideaforge/ideaforge/pkg/storage"
)

// DefaultKeyPrefix namespaces all keys written by the store.
const DefaultKeyPrefix = "ideaforge:"

// Config holds configuration for RedisStorage.
type Config struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	// TTL expires run records and documents; 0 keeps them forever.
	TTL time.Duration
}

// RedisStorage implements the Storage interface using Redis.
//
// Runs are JSON values at {prefix}run:{id}; documents are one JSON array at
// {prefix}run:{id}:docs; {prefix}runs is a sorted set of run ids scored by
// creation time.
type RedisStorage struct {
	client goredis.UniversalClient
	prefix string
	ttl    time.Duration
	owned  bool
}

var _ storage.Storage = (*RedisStorage)(nil)

// NewRedisStorage connects to Redis and verifies the connection.
func NewRedisStorage(ctx context.Context, cfg *Config) (*RedisStorage, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, &storage.StorageUnavailableError{Cause: err}
	}
	s := NewWithClient(client, cfg.KeyPrefix, cfg.TTL)
	s.owned = true
	return s, nil
}

// NewWithClient wraps an existing client. Close does not close it.
func NewWithClient(client goredis.UniversalClient, prefix string, ttl time.Duration) *RedisStorage {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisStorage{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisStorage) runKey(id string) string  { return r.prefix + "run:" + id }
func (r *RedisStorage) docsKey(id string) string { return r.prefix + "run:" + id + ":docs" }
func (r *RedisStorage) indexKey() string         { return r.prefix + "runs" }

func unavailable(err error) error {
	return &storage.StorageUnavailableError{Cause: err}
}

// SaveRun stores the run and indexes it by creation time.
func (r *RedisStorage) SaveRun(ctx context.Context, run *storage.RunRecord) error {
	data, err := json.Marshal(run)
	if err != nil {
		return &storage.SerializationError{Operation: "marshal", Cause: err}
	}

	_, err = r.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, r.runKey(run.ID), data, r.ttl)
		pipe.ZAdd(ctx, r.indexKey(), goredis.Z{
			Score:  float64(run.CreatedAt.UnixNano()),
			Member: run.ID,
		})
		return nil
	})
	if err != nil {
		return unavailable(err)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (r *RedisStorage) GetRun(ctx context.Context, id string) (*storage.RunRecord, error) {
	data, err := r.client.Get(ctx, r.runKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, &storage.NotFoundError{EntityType: "run", ID: id}
		}
		return nil, unavailable(err)
	}

	var run storage.RunRecord
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, &storage.SerializationError{Operation: "unmarshal", Cause: err}
	}
	return &run, nil
}

// ListRuns lists runs newest first with optional filtering and pagination.
func (r *RedisStorage) ListRuns(ctx context.Context, filter *storage.RunFilter) ([]*storage.RunRecord, int, error) {
	ids, err := r.client.ZRevRange(ctx, r.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, 0, unavailable(err)
	}
	if len(ids) == 0 {
		return []*storage.RunRecord{}, 0, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.runKey(id)
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, 0, unavailable(err)
	}

	runs := make([]*storage.RunRecord, 0, len(values))
	var stale []any
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			// Expired or deleted behind the index.
			stale = append(stale, ids[i])
			continue
		}
		var run storage.RunRecord
		if err := json.Unmarshal([]byte(s), &run); err != nil {
			continue
		}
		if filter.Match(&run) {
			runs = append(runs, &run)
		}
	}
	if len(stale) > 0 {
		_ = r.client.ZRem(ctx, r.indexKey(), stale...).Err()
	}

	storage.SortRuns(runs)
	page, total := storage.Paginate(runs, filter)
	return page, total, nil
}

// DeleteRun deletes a run and its documents.
func (r *RedisStorage) DeleteRun(ctx context.Context, id string) error {
	var del *goredis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		del = pipe.Del(ctx, r.runKey(id))
		pipe.Del(ctx, r.docsKey(id))
		pipe.ZRem(ctx, r.indexKey(), id)
		return nil
	})
	if err != nil {
		return unavailable(err)
	}
	if del.Val() == 0 {
		return &storage.NotFoundError{EntityType: "run", ID: id}
	}
	return nil
}

// SaveDocuments replaces the documents of a run.
func (r *RedisStorage) SaveDocuments(ctx context.Context, runID string, docs []model.Document) error {
	if err := r.requireRun(ctx, runID); err != nil {
		return err
	}
	if docs == nil {
		docs = []model.Document{}
	}
	data, err := json.Marshal(docs)
	if err != nil {
		return &storage.SerializationError{Operation: "marshal", Cause: err}
	}
	if err := r.client.Set(ctx, r.docsKey(runID), data, r.ttl).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

// ListDocuments returns the documents of a run in saved order.
func (r *RedisStorage) ListDocuments(ctx context.Context, runID string) ([]model.Document, error) {
	if err := r.requireRun(ctx, runID); err != nil {
		return nil, err
	}
	data, err := r.client.Get(ctx, r.docsKey(runID)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, unavailable(err)
	}
	var docs []model.Document
	if err := json.Unmarshal(data, &docs); err != nil {
		return nil, &storage.SerializationError{Operation: "unmarshal", Cause: err}
	}
	return docs, nil
}

func (r *RedisStorage) requireRun(ctx context.Context, id string) error {
	n, err := r.client.Exists(ctx, r.runKey(id)).Result()
	if err != nil {
		return unavailable(err)
	}
	if n == 0 {
		return &storage.NotFoundError{EntityType: "run", ID: id}
	}
	return nil
}

// Close closes the client when the store created it.
func (r *RedisStorage) Close() error {
	if !r.owned {
		return nil
	}
	return r.client.Close()
}
