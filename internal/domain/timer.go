package domain

import (
	"fmt"
	"sync"
	"time"
)

// TickFunc receives the elapsed whole seconds and their hh:mm:ss rendering.
type TickFunc func(seconds int, formatted string)

// Timer counts elapsed seconds and reports once per second. Each tick is
// anchored to the start instant rather than chained off the previous tick,
// so the counter does not drift under scheduler delay.
type Timer struct {
	mutex   sync.Mutex
	seconds int
	started time.Time
	stop    chan struct{}
	onTick  TickFunc
}

func NewTimer(onTick TickFunc) *Timer {
	return &Timer{onTick: onTick}
}

// Start begins counting from the current elapsed value. Starting a running
// timer is a no-op.
func (t *Timer) Start() *Timer {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if t.stop != nil {
		return t
	}
	t.started = time.Now().Add(-time.Duration(t.seconds) * time.Second)
	t.stop = make(chan struct{})
	go t.run(t.stop)
	return t
}

// Stop cancels the periodic task and zeroes the counter.
func (t *Timer) Stop() *Timer {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	t.stopLocked()
	return t
}

// Restart atomically stops the timer and starts it again from the given
// elapsed seconds.
func (t *Timer) Restart(seconds int) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	t.stopLocked()
	t.seconds = seconds
	t.started = time.Now().Add(-time.Duration(seconds) * time.Second)
	t.stop = make(chan struct{})
	go t.run(t.stop)
}

func (t *Timer) stopLocked() {
	if t.stop != nil {
		close(t.stop)
		t.stop = nil
	}
	t.seconds = 0
}

// SetTickFunc replaces the tick callback. Safe to call while running.
func (t *Timer) SetTickFunc(onTick TickFunc) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.onTick = onTick
}

// Seconds returns the current elapsed whole seconds.
func (t *Timer) Seconds() int {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.seconds
}

func (t *Timer) run(stop chan struct{}) {
	for {
		t.mutex.Lock()
		next := t.started.Add(time.Duration(t.seconds+1) * time.Second)
		t.mutex.Unlock()

		delay := time.Until(next)
		if delay < 0 {
			delay = 0
		}

		select {
		case <-stop:
			return
		case <-time.After(delay):
		}

		t.mutex.Lock()
		if t.stop == nil {
			t.mutex.Unlock()
			return
		}
		t.seconds++
		seconds := t.seconds
		onTick := t.onTick
		t.mutex.Unlock()

		if onTick != nil {
			onTick(seconds, FormatSeconds(seconds))
		}
	}
}

// Format renders the elapsed time with custom unit separators, e.g.
// Format("h", "m", "s") for "01h02m03s". Hours are omitted while zero.
func (t *Timer) Format(hourSep, minuteSep, secondSep string) string {
	return formatSeconds(t.Seconds(), hourSep, minuteSep, secondSep)
}

// FormatSeconds renders seconds as [hh:]mm:ss.
func FormatSeconds(seconds int) string {
	return formatSeconds(seconds, ":", ":", "")
}

func formatSeconds(seconds int, hourSep, minuteSep, secondSep string) string {
	second := seconds
	minute := 0
	hour := 0
	if second > 60 {
		minute = second / 60
		second = second % 60
		if minute > 60 {
			hour = minute / 60
			minute = minute % 60
		}
	}
	result := ""
	if hour > 0 {
		result += fmt.Sprintf("%02d%s", hour, hourSep)
	}
	result += fmt.Sprintf("%02d%s%02d%s", minute, minuteSep, second, secondSep)
	return result
}
