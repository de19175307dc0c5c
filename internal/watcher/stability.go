package watcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"
)

// ErrUnstable is returned when a file keeps changing size (or cannot be
// read) until the stability timeout expires.
var ErrUnstable = errors.New("file did not stabilise")

// ErrVanished is returned when the file is gone: removed before it
// stabilised, or already missing when the wait started.
var ErrVanished = errors.New("file removed while waiting")

// Stabilizer waits for a file copy to finish by polling its size.
type Stabilizer struct {
	// Interval between polls.
	Interval time.Duration
	// Polls is how many consecutive polls must repeat the previous size.
	Polls int
	// Timeout bounds the whole wait.
	Timeout time.Duration

	stat func(path string) (int64, error)
}

func NewStabilizer(interval time.Duration, polls int, timeout time.Duration) *Stabilizer {
	return &Stabilizer{Interval: interval, Polls: polls, Timeout: timeout}
}

// Wait blocks until path reports the same size on Polls consecutive polls
// and returns that size. Callers only wait on files the watcher has already
// seen, so a missing file gets one retry before it counts as vanished.
// Other stat failures are retried until the timeout.
func (s *Stabilizer) Wait(ctx context.Context, path string) (int64, error) {
	stat := s.stat
	if stat == nil {
		stat = fileSize
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	last, stable, missing := int64(-1), 0, 0
	for {
		size, err := stat(path)
		if errors.Is(err, os.ErrNotExist) {
			missing++
			if last >= 0 || missing > 1 {
				return 0, fmt.Errorf("%w: %s", ErrVanished, path)
			}
		}
		if err == nil {
			if size == last {
				stable++
			} else {
				last, stable = size, 0
			}
			if stable >= s.Polls {
				return size, nil
			}
		}

		select {
		case <-waitCtx.Done():
			if err := ctx.Err(); err != nil {
				return 0, err
			}
			return 0, fmt.Errorf("%w after %s: %s", ErrUnstable, s.Timeout, path)
		case <-ticker.C:
		}
	}
}

func fileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
