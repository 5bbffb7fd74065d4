package lock

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestLocalSerializesKey(t *testing.T) {
	l := NewLocal()

	var active, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(context.Background(), "c1")
			if err != nil {
				t.Errorf("Lock: %v", err)
				return
			}
			defer unlock()

			n := atomic.AddInt32(&active, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&active, -1)
		}()
	}
	wg.Wait()

	if peak != 1 {
		t.Fatalf("expected at most one holder, saw %d", peak)
	}
	if n := l.held(); n != 0 {
		t.Fatalf("expected no tracked keys after release, have %d", n)
	}
}

func TestLocalIndependentKeys(t *testing.T) {
	l := NewLocal()

	unlockA, err := l.Lock(context.Background(), "a")
	if err != nil {
		t.Fatalf("Lock a: %v", err)
	}
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	unlockB, err := l.Lock(ctx, "b")
	if err != nil {
		t.Fatalf("Lock b should not wait on a: %v", err)
	}
	unlockB()
}

func TestLocalContextCancel(t *testing.T) {
	l := NewLocal()

	unlock, err := l.Lock(context.Background(), "c1")
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := l.Lock(ctx, "c1"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	unlock()
	unlock()

	if n := l.held(); n != 0 {
		t.Fatalf("expected no tracked keys, have %d", n)
	}
}

func TestRedisLock(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDRESS")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDRESS not set")
	}

	r, err := NewRedis(RedisConfig{Address: addr, TTL: 5 * time.Second})
	if err != nil {
		t.Fatalf("NewRedis: %v", err)
	}
	defer r.Close()

	key := uuid.NewString()
	unlock, err := r.Lock(context.Background(), key)
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, err := r.Lock(ctx, key); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("second Lock should time out, got %v", err)
	}

	unlock()

	unlock2, err := r.Lock(context.Background(), key)
	if err != nil {
		t.Fatalf("Lock after release: %v", err)
	}
	unlock2()
}
