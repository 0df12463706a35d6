package poll

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestUntilDone(t *testing.T) {
	calls := 0
	res, err := Until(context.Background(), Options{Interval: time.Millisecond, MaxWait: time.Second}, func(context.Context) (bool, error) {
		calls++
		return calls == 3, nil
	})
	if err != nil {
		t.Fatalf("until: %v", err)
	}
	if !res.Done || res.TimedOut || res.Attempts != 3 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestUntilTimesOut(t *testing.T) {
	res, err := Until(context.Background(), Options{Interval: 5 * time.Millisecond, MaxWait: 30 * time.Millisecond}, func(context.Context) (bool, error) {
		return false, nil
	})
	if err != nil {
		t.Fatalf("timeout must not be an error: %v", err)
	}
	if res.Done || !res.TimedOut || res.Attempts < 2 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestUntilStopsOnError(t *testing.T) {
	boom := errors.New("boom")
	res, err := Until(context.Background(), Options{Interval: time.Millisecond, MaxWait: time.Second}, func(context.Context) (bool, error) {
		return false, boom
	})
	if !errors.Is(err, boom) || res.Attempts != 1 {
		t.Fatalf("expected boom after one attempt, got %v %+v", err, res)
	}
}

func TestUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Until(ctx, Options{Interval: time.Hour, MaxWait: time.Hour}, func(context.Context) (bool, error) {
		return false, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}
