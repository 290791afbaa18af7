package redis

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	rd "github.com/redis/go-redis/v9"
)

func getRedisClient(t *testing.T) *rd.Client {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	client := rd.NewClient(&rd.Options{Addr: addr, DB: 15})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	return client
}

func TestTryLock_MutualExclusion(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	client.Del(ctx, LockKey("test-mutex"))

	a := NewLock(client, "test-mutex")
	b := NewLock(client, "test-mutex")

	ok, err := a.TryLock(ctx, 10*time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected first acquire to succeed")
	}

	ok, err = b.TryLock(ctx, 10*time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected second acquire to fail while held")
	}

	if err := a.Unlock(ctx); err != nil {
		t.Fatalf("unlock failed: %v", err)
	}

	ok, err = b.TryLock(ctx, 10*time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Error("expected acquire to succeed after release")
	}
	b.Unlock(ctx)
}

func TestUnlock_ForeignTokenKeepsLock(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	client.Del(ctx, LockKey("test-foreign"))

	holder := NewLock(client, "test-foreign")
	if ok, _ := holder.TryLock(ctx, 10*time.Second); !ok {
		t.Fatal("setup: acquire failed")
	}

	// 另一个实例令牌不同，释放不应删除持有者的锁。
	stranger := NewLock(client, "test-foreign")
	if err := stranger.Unlock(ctx); err != nil {
		t.Fatalf("unlock failed: %v", err)
	}

	val, err := client.Get(ctx, LockKey("test-foreign")).Result()
	if err != nil {
		t.Fatalf("lock disappeared: %v", err)
	}
	if val == "" {
		t.Error("expected lock to survive a foreign unlock")
	}
	holder.Unlock(ctx)
}

func TestTryLock_ConcurrentSingleWinner(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	client.Del(ctx, LockKey("test-race"))

	var winners atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l := NewLock(client, "test-race")
			ok, err := l.TryLock(ctx, 10*time.Second)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if ok {
				winners.Add(1)
			}
		}()
	}

	wg.Wait()

	if winners.Load() != 1 {
		t.Errorf("expected exactly 1 winner, got %d", winners.Load())
	}
	client.Del(ctx, LockKey("test-race"))
}

func TestTryLock_ExpiresByTTL(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	client.Del(ctx, LockKey("test-ttl"))

	a := NewLock(client, "test-ttl")
	if ok, _ := a.TryLock(ctx, 50*time.Millisecond); !ok {
		t.Fatal("setup: acquire failed")
	}

	time.Sleep(100 * time.Millisecond)

	b := NewLock(client, "test-ttl")
	ok, err := b.TryLock(ctx, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Error("expected acquire to succeed after TTL expiry")
	}
	b.Unlock(ctx)
}
