// Package poll repeats a check until it succeeds or a deadline passes.
package poll

import (
	"context"
	"time"
)

const (
	DefaultInterval = 15 * time.Second
	DefaultMaxWait  = 180 * time.Second
)

type Options struct {
	Interval time.Duration
	MaxWait  time.Duration
}

// Result reports how the loop ended. TimedOut is not an error: the caller
// decides what giving up means.
type Result struct {
	Done     bool
	Attempts int
	TimedOut bool
}

// CheckFunc reports whether the awaited condition holds. An error stops the
// loop and is returned as-is.
type CheckFunc func(ctx context.Context) (bool, error)

// Until calls fn immediately and then every Interval until it reports done,
// MaxWait elapses, fn fails or ctx is cancelled.
func Until(ctx context.Context, opts Options, fn CheckFunc) (Result, error) {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.MaxWait <= 0 {
		opts.MaxWait = DefaultMaxWait
	}
	deadline := time.NewTimer(opts.MaxWait)
	defer deadline.Stop()
	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()

	var res Result
	for {
		res.Attempts++
		done, err := fn(ctx)
		if err != nil {
			return res, err
		}
		if done {
			res.Done = true
			return res, nil
		}
		select {
		case <-ctx.Done():
			return res, ctx.Err()
		case <-deadline.C:
			res.TimedOut = true
			return res, nil
		case <-ticker.C:
		}
	}
}
