package replay

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type realSleeper struct{}

func (realSleeper) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ErrNoSamples is returned by Play for a log holding only START markers.
var ErrNoSamples = errors.New("no sample records")

func hasSamples(records []Record) bool {
	for _, r := range records {
		if !r.IsStart() {
			return true
		}
	}
	return false
}

// Play delivers sample records to cb with their recorded spacing. START
// markers reset the origin, so concatenated sessions do not wait across the
// boundary.
//
// speed: 1.0 = real time, 2.0 = twice as fast, 0.5 = half speed.
// cb receives the sample clock: recorded time since playback began, summed
// across passes and unaffected by speed.
func Play(ctx context.Context, records []Record, speed float64, loop bool, sleeper Sleeper, cb func(at time.Duration, r Record) error) error {
	if speed <= 0 {
		return fmt.Errorf("speed must be > 0")
	}
	if sleeper == nil {
		sleeper = realSleeper{}
	}
	if cb == nil {
		return errors.New("callback is nil")
	}
	if len(records) == 0 {
		return errors.New("no records")
	}
	if !hasSamples(records) {
		return ErrNoSamples
	}

	var elapsed time.Duration
	for {
		var origin, lastAt time.Duration
		haveLast := false

		for _, r := range records {
			if err := ctx.Err(); err != nil {
				return err
			}
			if r.IsStart() {
				origin = r.At
				lastAt = 0
				haveLast = false
				continue
			}

			at := r.At - origin
			if at < 0 {
				at = 0
			}
			if haveLast {
				step := at - lastAt
				if step < 0 {
					step = 0
				}
				elapsed += step
				if wait := time.Duration(float64(step) / speed); wait > 0 {
					if err := sleeper.Sleep(ctx, wait); err != nil {
						return err
					}
				}
			}

			if err := cb(elapsed, r); err != nil {
				return err
			}
			lastAt = at
			haveLast = true
		}

		if !loop {
			return nil
		}
	}
}
