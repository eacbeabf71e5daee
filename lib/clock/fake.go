// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"slices"
	"sync"
	"time"
)

// Fake returns a FakeClock frozen at the given time. Time moves only
// when Advance is called; pending waits fire in deadline order when
// the clock passes them.
//
// FakeClock is safe for concurrent use.
func Fake(initial time.Time) *FakeClock {
	c := &FakeClock{current: initial}
	c.changed = sync.NewCond(&c.mu)
	return c
}

// FakeClock is a deterministic Clock for tests.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
	waiters []*waiter
	changed *sync.Cond
}

// waiter is a pending After, Sleep, or Ticker wait.
type waiter struct {
	deadline time.Time
	channel  chan time.Time

	// interval is non-zero for tickers; the waiter is rescheduled at
	// deadline+interval after firing.
	interval time.Duration

	stopped bool
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// register queues a wait firing at now+d, rescheduling every interval
// if interval > 0. Caller holds c.mu.
func (c *FakeClock) register(d, interval time.Duration) *waiter {
	w := &waiter{
		deadline: c.current.Add(d),
		channel:  make(chan time.Time, 1),
		interval: interval,
	}
	c.waiters = append(c.waiters, w)
	c.changed.Broadcast()
	return w
}

// After returns a channel that receives once the clock advances past
// the deadline. If d <= 0 the channel receives immediately and no
// waiter is registered.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	if d <= 0 {
		channel := make(chan time.Time, 1)
		channel <- c.current
		return channel
	}
	return c.register(d, 0).channel
}

// NewTicker returns a Ticker that fires each time the clock advances
// by d. Panics if d <= 0.
func (c *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	w := c.register(d, d)
	return &Ticker{
		C: w.channel,
		stop: func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			w.stopped = true
		},
	}
}

// Sleep blocks until the clock advances past the deadline. Returns
// immediately if d <= 0.
func (c *FakeClock) Sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	<-c.After(d)
}

// Advance moves the clock forward by d and fires every waiter whose
// deadline falls within the new time, in deadline order. Channel sends
// are non-blocking; a tick nobody is reading is dropped.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.current = c.current.Add(d)
	target := c.current
	c.mu.Unlock()

	for {
		expired := c.takeExpired(target)
		if len(expired) == 0 {
			return
		}
		slices.SortFunc(expired, func(a, b *waiter) int {
			return a.deadline.Compare(b.deadline)
		})
		for _, w := range expired {
			select {
			case w.channel <- target:
			default:
			}
		}
	}
}

// takeExpired removes expired waiters from the pending list and
// reschedules tickers for their next interval.
func (c *FakeClock) takeExpired(target time.Time) []*waiter {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expired, remaining []*waiter
	for _, w := range c.waiters {
		switch {
		case w.stopped:
		case !w.deadline.After(target):
			expired = append(expired, w)
		default:
			remaining = append(remaining, w)
		}
	}
	for _, w := range expired {
		if w.interval > 0 {
			w.deadline = w.deadline.Add(w.interval)
			remaining = append(remaining, w)
		}
	}
	c.waiters = remaining
	return expired
}

// WaitForTimers blocks until at least n waits are pending. Call it
// before Advance when the waits are registered by other goroutines,
// so the advance cannot race the registration.
func (c *FakeClock) WaitForTimers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.pendingLocked() < n {
		c.changed.Wait()
	}
}

// PendingCount returns the number of active pending waits.
func (c *FakeClock) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingLocked()
}

func (c *FakeClock) pendingLocked() int {
	count := 0
	for _, w := range c.waiters {
		if !w.stopped {
			count++
		}
	}
	return count
}
