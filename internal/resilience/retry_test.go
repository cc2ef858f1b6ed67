package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastPolicy(maxRetries int) RetryPolicy {
	return RetryPolicy{
		MaxRetries: maxRetries,
		BaseDelay:  time.Millisecond,
		MaxDelay:   5 * time.Millisecond,
		Factor:     2,
	}
}

func TestRetrySucceedsBeforeExhaustion(t *testing.T) {
	calls := 0
	got, err := Retry(context.Background(), fastPolicy(3), "llm recovery", func(ctx context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("transient")
		}
		return 42, nil
	})
	if err != nil {
		t.Fatalf("expected success: %v", err)
	}
	if got != 42 {
		t.Fatalf("expected 42, got %d", got)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestRetryExhaustsAndTagsError(t *testing.T) {
	boom := errors.New("provider down")
	calls := 0
	_, err := Retry(context.Background(), fastPolicy(2), "text-analysis", func(ctx context.Context) (int, error) {
		calls++
		return 0, boom
	})
	if calls != 3 {
		t.Fatalf("expected maxRetries+1 calls, got %d", calls)
	}
	var retryErr *RetryError
	if !errors.As(err, &retryErr) {
		t.Fatalf("expected RetryError, got %v", err)
	}
	if retryErr.Attempts != 3 || retryErr.Context != "text-analysis" {
		t.Fatalf("unexpected tagging: %+v", retryErr)
	}
	if !errors.Is(err, boom) {
		t.Fatal("expected last error to be wrapped")
	}
}

func TestRetryDelayCapsAtMax(t *testing.T) {
	p := RetryPolicy{MaxRetries: 5, BaseDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond, Factor: 2}
	cases := []struct {
		n    int
		want time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 300 * time.Millisecond},
		{4, 300 * time.Millisecond},
	}
	for _, tc := range cases {
		if got := p.Delay(tc.n); got != tc.want {
			t.Errorf("Delay(%d) = %s, want %s", tc.n, got, tc.want)
		}
	}
}

func TestRetryStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()
	_, err := Retry(ctx, RetryPolicy{MaxRetries: 10, BaseDelay: 50 * time.Millisecond, Factor: 2}, "cancelled", func(ctx context.Context) (int, error) {
		calls++
		return 0, errors.New("keep trying")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls == 0 {
		t.Fatal("expected at least one attempt before cancellation")
	}
}
