package nonce

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/db3-network/db3-go/internal/errs"
)

func TestPeekBeforeSyncFails(t *testing.T) {
	sequencer := NewSequencer()
	if _, err := sequencer.Peek(); !errors.Is(err, errs.ErrNotInitialized) {
		t.Fatalf("expected not initialized, got %v", err)
	}
	if err := sequencer.Advance(); !errors.Is(err, errs.ErrNotInitialized) {
		t.Fatalf("expected not initialized on advance, got %v", err)
	}
	if _, err := sequencer.Acquire(context.Background()); !errors.Is(err, errs.ErrNotInitialized) {
		t.Fatalf("expected not initialized on acquire, got %v", err)
	}
}

func TestAcquireAfterFailedAcquireDoesNotDeadlock(t *testing.T) {
	sequencer := NewSequencer()
	if _, err := sequencer.Acquire(context.Background()); err == nil {
		t.Fatalf("expected error before sync")
	}
	sequencer.Sync(3)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	lease, err := sequencer.Acquire(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lease.Nonce() != 3 {
		t.Fatalf("expected nonce 3, got %d", lease.Nonce())
	}
	lease.Release()
}

func TestCommitAdvancesReleaseDoesNot(t *testing.T) {
	sequencer := NewSequencer()
	sequencer.Sync(5)

	for i := 0; i < 3; i++ {
		lease, err := sequencer.Acquire(context.Background())
		if err != nil {
			t.Fatalf("unexpected acquire error: %v", err)
		}
		if lease.Nonce() != uint64(5+i) {
			t.Fatalf("submission %d carried nonce %d", i, lease.Nonce())
		}
		lease.Commit()
	}
	if current, _ := sequencer.Peek(); current != 8 {
		t.Fatalf("expected 8 after three commits, got %d", current)
	}

	lease, err := sequencer.Acquire(context.Background())
	if err != nil {
		t.Fatalf("unexpected acquire error: %v", err)
	}
	lease.Release()
	lease.Release()
	if current, _ := sequencer.Peek(); current != 8 {
		t.Fatalf("expected release to keep 8, got %d", current)
	}
}

func TestCommitAfterResyncKeepsResyncedValue(t *testing.T) {
	sequencer := NewSequencer()
	sequencer.Sync(1)

	lease, err := sequencer.Acquire(context.Background())
	if err != nil {
		t.Fatalf("unexpected acquire error: %v", err)
	}
	sequencer.Sync(10)
	lease.Commit()

	if current, _ := sequencer.Peek(); current != 10 {
		t.Fatalf("expected resynced value 10, got %d", current)
	}
}

func TestAcquireHonoursContextWhileWaiting(t *testing.T) {
	sequencer := NewSequencer()
	sequencer.Sync(0)

	held, err := sequencer.Acquire(context.Background())
	if err != nil {
		t.Fatalf("unexpected acquire error: %v", err)
	}
	defer held.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := sequencer.Acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestConcurrentLeasesNeverShareANonce(t *testing.T) {
	sequencer := NewSequencer()
	sequencer.Sync(100)

	const workers = 32
	seen := make(chan uint64, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lease, err := sequencer.Acquire(context.Background())
			if err != nil {
				t.Errorf("unexpected acquire error: %v", err)
				return
			}
			seen <- lease.Nonce()
			lease.Commit()
		}()
	}
	wg.Wait()
	close(seen)

	unique := make(map[uint64]struct{}, workers)
	for n := range seen {
		if _, dup := unique[n]; dup {
			t.Fatalf("nonce %d handed out twice", n)
		}
		unique[n] = struct{}{}
	}
	if current, _ := sequencer.Peek(); current != 100+workers {
		t.Fatalf("expected %d, got %d", 100+workers, current)
	}
}

func TestSyncStringParsesDecimal(t *testing.T) {
	sequencer := NewSequencer()
	if err := sequencer.SyncString(" 42 "); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if value, _ := sequencer.PeekString(); value != "42" {
		t.Fatalf("expected 42, got %s", value)
	}
	for _, bad := range []string{"", "-1", "abc", "1.5"} {
		if err := sequencer.SyncString(bad); !errors.Is(err, errs.ErrInvalidArgument) {
			t.Fatalf("expected invalid argument for %q, got %v", bad, err)
		}
	}
}
