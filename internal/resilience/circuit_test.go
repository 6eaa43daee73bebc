package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func transientFail(_ context.Context) (int, error) {
	return 0, NewTransientError(errors.New("503"), 503)
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b := NewBreaker("alphavantage", BreakerConfig{Threshold: 3, Cooldown: time.Minute})

	for i := 0; i < 3; i++ {
		if _, err := Call(context.Background(), b, transientFail); err == nil {
			t.Fatal("expected failure")
		}
	}
	if b.State() != StateOpen {
		t.Fatalf("expected open, got %s", b.State())
	}

	_, err := Call(context.Background(), b, func(_ context.Context) (int, error) {
		t.Error("provider called while open")
		return 1, nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestBreaker_PermanentErrorsDoNotCount(t *testing.T) {
	b := NewBreaker("alphavantage", BreakerConfig{Threshold: 2, Cooldown: time.Minute})

	for i := 0; i < 5; i++ {
		_, _ = Call(context.Background(), b, func(_ context.Context) (int, error) {
			return 0, errors.New("invalid symbol")
		})
	}
	if b.State() != StateClosed {
		t.Fatalf("expected closed, got %s", b.State())
	}
}

func TestBreaker_HalfOpenTrialCall(t *testing.T) {
	now := time.Now()
	b := NewBreaker("alphavantage", BreakerConfig{Threshold: 1, Cooldown: time.Second})
	b.now = func() time.Time { return now }

	_, _ = Call(context.Background(), b, transientFail)
	if b.State() != StateOpen {
		t.Fatalf("expected open, got %s", b.State())
	}

	now = now.Add(2 * time.Second)
	if b.State() != StateHalfOpen {
		t.Fatalf("expected half-open, got %s", b.State())
	}

	v, err := Call(context.Background(), b, func(_ context.Context) (int, error) { return 7, nil })
	if err != nil || v != 7 {
		t.Fatalf("trial call failed: %v %v", v, err)
	}
	if b.State() != StateClosed {
		t.Fatalf("expected closed after trial call, got %s", b.State())
	}
}

func TestBreaker_FailedTrialCallReopens(t *testing.T) {
	now := time.Now()
	b := NewBreaker("alphavantage", BreakerConfig{Threshold: 1, Cooldown: time.Second})
	b.now = func() time.Time { return now }

	_, _ = Call(context.Background(), b, transientFail)
	now = now.Add(2 * time.Second)
	_, _ = Call(context.Background(), b, transientFail)

	if b.State() != StateOpen {
		t.Fatalf("expected open after failed trial call, got %s", b.State())
	}
}

func TestBreaker_ConcurrentCalls(t *testing.T) {
	b := NewBreaker("alphavantage", BreakerConfig{Threshold: 1000, Cooldown: time.Minute})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_, _ = Call(context.Background(), b, transientFail)
				return
			}
			_, _ = Call(context.Background(), b, func(_ context.Context) (int, error) { return i, nil })
		}(i)
	}
	wg.Wait()

	if b.State() != StateClosed {
		t.Fatalf("expected closed, got %s", b.State())
	}
}

func TestBreakerFrom(t *testing.T) {
	cfg := BreakerFrom(0, 0)
	if cfg.Threshold != 5 || cfg.Cooldown != 30*time.Second {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	cfg = BreakerFrom(2, 5)
	if cfg.Threshold != 2 || cfg.Cooldown != 5*time.Second {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}
