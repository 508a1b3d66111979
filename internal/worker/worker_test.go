package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestPoolPreservesPerKeyOrder(t *testing.T) {
	p := New(Config{Lanes: 4, Logger: zerolog.Nop()})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = p.Start(ctx) }()

	const perKey = 50
	keys := []string{"a", "b", "c", "d", "e"}

	var mu sync.Mutex
	got := map[string][]int{}
	var wg sync.WaitGroup
	for i := 0; i < perKey; i++ {
		for _, k := range keys {
			k, i := k, i
			wg.Add(1)
			err := p.Submit(ctx, Job{Key: k, Run: func(context.Context) error {
				defer wg.Done()
				mu.Lock()
				got[k] = append(got[k], i)
				mu.Unlock()
				return nil
			}})
			if err != nil {
				t.Fatalf("submit: %v", err)
			}
		}
	}

	waitOrFail(t, &wg)
	for _, k := range keys {
		if len(got[k]) != perKey {
			t.Fatalf("key %s: expected %d jobs, got %d", k, perKey, len(got[k]))
		}
		for i, v := range got[k] {
			if v != i {
				t.Fatalf("key %s: job %d ran at position %d", k, v, i)
			}
		}
	}
}

func TestPoolOtherLanesProceedWhileOneBlocks(t *testing.T) {
	p := New(Config{Lanes: 8, Logger: zerolog.Nop()})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = p.Start(ctx) }()

	slowKey := "slow"
	fastKey := ""
	for i := 0; i < 100; i++ {
		k := fmt.Sprintf("chat-%d", i)
		if p.laneFor(k) != p.laneFor(slowKey) {
			fastKey = k
			break
		}
	}
	if fastKey == "" {
		t.Fatalf("could not find a key on a different lane")
	}

	release := make(chan struct{})
	defer close(release)
	if err := p.Submit(ctx, Job{Key: slowKey, Run: func(context.Context) error {
		<-release
		return nil
	}}); err != nil {
		t.Fatalf("submit slow: %v", err)
	}

	done := make(chan struct{})
	if err := p.Submit(ctx, Job{Key: fastKey, Run: func(context.Context) error {
		close(done)
		return nil
	}}); err != nil {
		t.Fatalf("submit fast: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("job on another lane was blocked")
	}
}

func TestPoolSurvivesFailingJobs(t *testing.T) {
	p := New(Config{Lanes: 1, Logger: zerolog.Nop()})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = p.Start(ctx) }()

	var wg sync.WaitGroup
	wg.Add(3)
	_ = p.Submit(ctx, Job{Key: "k", Run: func(context.Context) error { defer wg.Done(); return errors.New("boom") }})
	_ = p.Submit(ctx, Job{Key: "k", Run: func(context.Context) error { defer wg.Done(); panic("bad job") }})
	_ = p.Submit(ctx, Job{Key: "k", Run: func(context.Context) error { wg.Done(); return nil }})
	waitOrFail(t, &wg)
}

func TestSubmitRejectsNilRun(t *testing.T) {
	p := New(Config{Logger: zerolog.Nop()})
	if err := p.Submit(context.Background(), Job{Key: "k"}); err == nil {
		t.Fatalf("expected error for job without run func")
	}
}

func TestSubmitHonoursContextWhenLaneFull(t *testing.T) {
	p := New(Config{Lanes: 1, QueueSize: 1, Logger: zerolog.Nop()})
	noop := func(context.Context) error { return nil }
	if err := p.Submit(context.Background(), Job{Key: "k", Run: noop}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := p.Submit(ctx, Job{Key: "k", Run: noop}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func waitOrFail(t *testing.T, wg *sync.WaitGroup) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for jobs")
	}
}
