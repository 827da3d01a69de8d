// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sort"
	"sync"
	"time"
)

// FakeClock is a Clock whose time only moves when Advance is called.
// It is safe for concurrent use.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	pending []*fakeTimer
	changed *sync.Cond
}

type fakeTimer struct {
	deadline time.Time

	// Exactly one of channel or callback is set.
	channel  chan time.Time
	callback func()

	// period is non-zero for tickers, which are rescheduled after firing.
	period time.Duration

	// active is false once a one-shot timer has fired or any timer has
	// been stopped.
	active bool

	// queued is true while the timer sits in FakeClock.pending.
	queued bool

	// firing is true between a one-shot timer being taken as due and its
	// delivery, so a Stop issued by an earlier callback in the same
	// Advance still cancels it.
	firing bool
}

// Fake returns a FakeClock reading start until advanced.
func Fake(start time.Time) *FakeClock {
	clock := &FakeClock{now: start}
	clock.changed = sync.NewCond(&clock.mu)
	return clock
}

// Now returns the fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// After registers a one-shot channel timer.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	channel := make(chan time.Time, 1)
	if d <= 0 {
		channel <- c.now
		return channel
	}
	c.addLocked(&fakeTimer{deadline: c.now.Add(d), channel: channel, active: true})
	return channel
}

// AfterFunc registers f to run during the Advance call that crosses the
// deadline. A non-positive d runs f before AfterFunc returns. f must not
// call Advance.
func (c *FakeClock) AfterFunc(d time.Duration, f func()) *Timer {
	if d <= 0 {
		f()
		return &Timer{
			stop:  func() bool { return false },
			reset: func(time.Duration) bool { return false },
		}
	}

	c.mu.Lock()
	timer := &fakeTimer{deadline: c.now.Add(d), callback: f, active: true}
	c.addLocked(timer)
	c.mu.Unlock()

	return &Timer{
		stop: func() bool {
			c.mu.Lock()
			defer c.mu.Unlock()
			wasActive := timer.active || timer.firing
			timer.active = false
			timer.firing = false
			return wasActive
		},
		reset: func(d time.Duration) bool {
			c.mu.Lock()
			defer c.mu.Unlock()
			wasActive := timer.active || timer.firing
			timer.firing = false
			timer.deadline = c.now.Add(d)
			timer.active = true
			c.addLocked(timer)
			return wasActive
		},
	}
}

// NewTicker registers a periodic channel timer.
func (c *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive ticker period")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	channel := make(chan time.Time, 1)
	timer := &fakeTimer{deadline: c.now.Add(d), channel: channel, period: d, active: true}
	c.addLocked(timer)

	return &Ticker{
		C: channel,
		stop: func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			timer.active = false
		},
	}
}

// Advance moves time forward by d and fires every timer whose deadline
// is reached, earliest first. Callbacks run on the calling goroutine
// without the clock's lock held.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	target := c.now
	c.mu.Unlock()

	for {
		due := c.takeDue(target)
		if len(due) == 0 {
			return
		}
		for _, timer := range due {
			if !c.claim(timer) {
				continue
			}
			if timer.callback != nil {
				timer.callback()
				continue
			}
			select {
			case timer.channel <- target:
			default:
			}
		}
	}
}

// takeDue removes due timers from the pending list, reschedules tickers,
// and returns what should fire in deadline order.
func (c *FakeClock) takeDue(target time.Time) []*fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()

	var due, remaining []*fakeTimer
	for _, timer := range c.pending {
		switch {
		case !timer.active:
			timer.queued = false
		case timer.deadline.After(target):
			remaining = append(remaining, timer)
		default:
			due = append(due, timer)
		}
	}
	sort.SliceStable(due, func(i, j int) bool {
		return due[i].deadline.Before(due[j].deadline)
	})
	for _, timer := range due {
		if timer.period > 0 {
			timer.deadline = timer.deadline.Add(timer.period)
			remaining = append(remaining, timer)
		} else {
			timer.active = false
			timer.queued = false
			timer.firing = true
		}
	}
	c.pending = remaining
	return due
}

// claim reports whether a due timer should still be delivered.
func (c *FakeClock) claim(timer *fakeTimer) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if timer.period > 0 {
		return timer.active
	}
	if !timer.firing {
		return false
	}
	timer.firing = false
	return true
}

// WaitForTimers blocks until at least n timers are pending.
func (c *FakeClock) WaitForTimers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.pendingLocked() < n {
		c.changed.Wait()
	}
}

// PendingCount returns the number of timers that have not fired or been
// stopped.
func (c *FakeClock) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingLocked()
}

func (c *FakeClock) pendingLocked() int {
	count := 0
	for _, timer := range c.pending {
		if timer.active {
			count++
		}
	}
	return count
}

func (c *FakeClock) addLocked(timer *fakeTimer) {
	if !timer.queued {
		timer.queued = true
		c.pending = append(c.pending, timer)
	}
	c.changed.Broadcast()
}
