package cache_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/shabda/pkg/scorer"
	"github.com/MrWong99/shabda/pkg/scorer/cache"
	"github.com/MrWong99/shabda/pkg/scorer/mock"
)

func TestScore_Memoises(t *testing.T) {
	t.Parallel()

	inner := &mock.Scorer{Scores: map[string]float64{"नेपाल सुन्दर": -1}, DefaultScore: -9}
	s, err := cache.New(inner, 8)
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	for range 3 {
		got, err := s.Score(ctx, []string{"नेपाल", "सुन्दर"})
		if err != nil {
			t.Fatal(err)
		}
		if got != -1 {
			t.Errorf("score = %v, want -1", got)
		}
	}
	if _, err := s.Score(ctx, []string{"नेपाल"}); err != nil {
		t.Fatal(err)
	}

	if n := inner.CallCount(); n != 2 {
		t.Errorf("inner calls = %d, want 2", n)
	}
	st := s.Stats()
	if st.Hits != 2 || st.Misses != 2 || st.Len != 2 {
		t.Errorf("stats = %+v, want 2 hits, 2 misses, 2 entries", st)
	}

	s.Purge()
	if st := s.Stats(); st.Len != 0 {
		t.Errorf("Len after Purge = %d, want 0", st.Len)
	}
}

func TestScore_KeyIsSequence(t *testing.T) {
	t.Parallel()

	inner := scorer.Func(func(_ context.Context, tokens []string) (float64, error) {
		return float64(len(tokens)), nil
	})
	s, err := cache.New(inner, 0)
	if err != nil {
		t.Fatal(err)
	}
	a, _ := s.Score(context.Background(), []string{"क ख"})
	b, _ := s.Score(context.Background(), []string{"क", "ख"})
	if a != 1 || b != 2 {
		t.Errorf("scores = %v, %v; want 1, 2", a, b)
	}
}

func TestScore_ErrorsNotCached(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	inner := &mock.Scorer{ScoreErr: boom}
	s, err := cache.New(inner, 8)
	if err != nil {
		t.Fatal(err)
	}

	for range 2 {
		if _, err := s.Score(context.Background(), []string{"क"}); !errors.Is(err, boom) {
			t.Fatalf("err = %v, want boom", err)
		}
	}
	if n := inner.CallCount(); n != 2 {
		t.Errorf("inner calls = %d, want 2", n)
	}
}

func TestScore_CollapsesConcurrentMisses(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	var mu sync.Mutex
	calls := 0
	inner := scorer.Func(func(context.Context, []string) (float64, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		<-release
		return -2, nil
	})
	s, err := cache.New(inner, 8)
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	results := make([]float64, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], _ = s.Score(context.Background(), []string{"क"})
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for i, r := range results {
		if r != -2 {
			t.Errorf("results[%d] = %v, want -2", i, r)
		}
	}
	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Errorf("inner calls = %d, want 1", calls)
	}
}

func TestScore_CancelledCallerDoesNotFailOthers(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	inner := scorer.Func(func(ctx context.Context, _ []string) (float64, error) {
		once.Do(func() { close(started) })
		<-release
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		return -3, nil
	})
	s, err := cache.New(inner, 8)
	if err != nil {
		t.Fatal(err)
	}

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := s.Score(ctxA, []string{"नेपाल", "सुन्दर"})
		errA <- err
	}()
	<-started

	type result struct {
		score float64
		err   error
	}
	resB := make(chan result, 1)
	go func() {
		score, err := s.Score(context.Background(), []string{"नेपाल", "सुन्दर"})
		resB <- result{score, err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancelA()
	select {
	case err := <-errA:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("cancelled caller: err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled caller did not return")
	}

	close(release)
	select {
	case r := <-resB:
		if r.err != nil || r.score != -3 {
			t.Errorf("live caller: got (%v, %v), want (-3, nil)", r.score, r.err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("live caller did not return")
	}

	if got, err := s.Score(context.Background(), []string{"नेपाल", "सुन्दर"}); err != nil || got != -3 {
		t.Errorf("cached score = (%v, %v), want (-3, nil)", got, err)
	}
}

func TestNew_NilInner(t *testing.T) {
	t.Parallel()

	if _, err := cache.New(nil, 1); err == nil {
		t.Error("expected error for nil inner")
	}
}
