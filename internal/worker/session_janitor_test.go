package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakeEvictor struct {
	mu    sync.Mutex
	ttls  []time.Duration
	swept chan struct{}
}

func (f *fakeEvictor) EvictIdle(ttl time.Duration) int {
	f.mu.Lock()
	f.ttls = append(f.ttls, ttl)
	f.mu.Unlock()
	select {
	case f.swept <- struct{}{}:
	default:
	}
	return 1
}

func (f *fakeEvictor) Len() int { return 0 }

func TestSessionJanitor_SweepsUntilCancelled(t *testing.T) {
	ev := &fakeEvictor{swept: make(chan struct{}, 1)}
	j := NewSessionJanitor(ev, 30*time.Minute, 5*time.Millisecond, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		j.Start(ctx)
		close(done)
	}()

	select {
	case <-ev.swept:
	case <-time.After(2 * time.Second):
		t.Fatal("janitor never swept")
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("janitor did not stop after cancel")
	}

	ev.mu.Lock()
	defer ev.mu.Unlock()
	if len(ev.ttls) == 0 || ev.ttls[0] != 30*time.Minute {
		t.Errorf("ttls = %v", ev.ttls)
	}
}
