package redis

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/ideaforge/ideaforge/pkg/storage"
)

func requireRedisClient(tb testing.TB) goredis.UniversalClient {
	tb.Helper()

	addr := os.Getenv("IDEAFORGE_REDIS_ADDR")
	if addr == "" {
		addr = "127.0.0.1:6379"
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:         addr,
		DialTimeout:  500 * time.Millisecond,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		tb.Skipf("redis is not available at %s: %v", addr, err)
	}

	tb.Cleanup(func() {
		_ = client.Close()
	})

	return client
}

// TestRedisStorageSuite runs the full storage test suite against RedisStorage.
// Each subtest gets its own key prefix so runs never see each other's data.
func TestRedisStorageSuite(t *testing.T) {
	client := requireRedisClient(t)
	n := 0

	suite := &storage.StorageTestSuite{
		NewStorage: func(t *testing.T) storage.Storage {
			n++
			prefix := fmt.Sprintf("ideaforge-test:%d:%d:", time.Now().UnixNano(), n)
			t.Cleanup(func() {
				ctx := context.Background()
				keys, err := client.Keys(ctx, prefix+"*").Result()
				if err == nil && len(keys) > 0 {
					_ = client.Del(ctx, keys...).Err()
				}
			})
			return NewWithClient(client, prefix, 0)
		},
	}
	suite.RunAllTests(t)
}

func TestNewRedisStorage_Unavailable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := NewRedisStorage(ctx, &Config{Addr: "127.0.0.1:1"})
	if err == nil {
		t.Fatal("expected error for unreachable redis")
	}
	if _, ok := err.(*storage.StorageUnavailableError); !ok {
		t.Errorf("expected StorageUnavailableError, got %T", err)
	}
}
