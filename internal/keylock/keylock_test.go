package keylock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestLockSerialisesSameKey(t *testing.T) {
	l := New(0)
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		active  int
		maxSeen int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.Lock(context.Background(), "root-1")
			if err != nil {
				t.Errorf("lock: %v", err)
				return
			}
			mu.Lock()
			active++
			if active > maxSeen {
				maxSeen = active
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
			release()
		}()
	}
	wg.Wait()
	if maxSeen != 1 {
		t.Fatalf("expected at most one holder, saw %d", maxSeen)
	}
	if n := l.Len(); n != 0 {
		t.Fatalf("expected entries to be dropped, got %d", n)
	}
}

func TestLockDifferentKeysDoNotContend(t *testing.T) {
	l := New(50 * time.Millisecond)
	releaseA, err := l.Lock(context.Background(), "a")
	if err != nil {
		t.Fatalf("lock a: %v", err)
	}
	defer releaseA()
	releaseB, err := l.Lock(context.Background(), "b")
	if err != nil {
		t.Fatalf("lock b while a held: %v", err)
	}
	releaseB()
}

func TestLockTimeout(t *testing.T) {
	l := New(20 * time.Millisecond)
	release, err := l.Lock(context.Background(), "k")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	if _, err := l.Lock(context.Background(), "k"); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	release()
	release2, err := l.Lock(context.Background(), "k")
	if err != nil {
		t.Fatalf("lock after release: %v", err)
	}
	release2()
}

func TestLockHonoursContext(t *testing.T) {
	l := New(0)
	release, _ := l.Lock(context.Background(), "k")
	defer release()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := l.Lock(ctx, "k"); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout on cancelled context, got %v", err)
	}
}
