// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package zeroipc

import (
	"time"

	"code.hybscloud.com/spin"
)

const (
	// backoffSpinLimit is the number of pause-instruction spins a waiter
	// burns before it starts sleeping. Covers the common case where the
	// awaited writer is mid-critical-section on another core.
	backoffSpinLimit = 64

	// backoffSleepMin is the first sleep interval of a contended wait.
	backoffSleepMin = time.Microsecond

	// backoffSleepMax bounds the doubling sleep interval.
	backoffSleepMax = time.Millisecond
)

// backoff implements the shared waiting discipline of the blocking
// primitives: a short spin phase, then exponential sleeps from 1 µs
// doubling up to 1 ms per iteration. The zero value is ready to use.
type backoff struct {
	spins int
	sleep time.Duration
}

// wait burns one backoff iteration.
func (b *backoff) wait() {
	if b.spins < backoffSpinLimit {
		b.spins++
		spin.Yield()
		return
	}
	if b.sleep == 0 {
		b.sleep = backoffSleepMin
	}
	time.Sleep(b.sleep)
	if b.sleep < backoffSleepMax {
		b.sleep *= 2
		if b.sleep > backoffSleepMax {
			b.sleep = backoffSleepMax
		}
	}
}

// reset returns the waiter to the spin phase. Called after the awaited
// condition held so the next wait starts cheap again.
func (b *backoff) reset() {
	b.spins = 0
	b.sleep = 0
}

// deadline resolves a timeout to an absolute steady-clock instant.
// Timed waits poll the condition and compare against it between
// backoff iterations.
func deadline(timeout time.Duration) time.Time {
	return time.Now().Add(timeout)
}

// expired reports whether the deadline has passed.
func expired(d time.Time) bool {
	return !time.Now().Before(d)
}
