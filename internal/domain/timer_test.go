package domain

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimerCountsSeconds(t *testing.T) {
	var mu sync.Mutex
	var ticks []int
	timer := NewTimer(func(seconds int, formatted string) {
		mu.Lock()
		ticks = append(ticks, seconds)
		mu.Unlock()
	})
	timer.Start()
	defer timer.Stop()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(ticks) >= 2
	}, 5*time.Second, 50*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, ticks[0])
	assert.Equal(t, 2, ticks[1])
}

func TestTimerRestartResetsCounter(t *testing.T) {
	timer := NewTimer(nil)
	timer.Start()
	timer.Restart(120)
	assert.Equal(t, 120, timer.Seconds())
	timer.Stop()
	assert.Equal(t, 0, timer.Seconds())
}

func TestTimerStartWhileRunningIsNoOp(t *testing.T) {
	timer := NewTimer(nil)
	timer.Restart(30)
	timer.Start()
	assert.Equal(t, 30, timer.Seconds())
	timer.Stop()
}

func TestFormatSeconds(t *testing.T) {
	tests := []struct {
		seconds int
		want    string
	}{
		{0, "00:00"},
		{59, "00:59"},
		{61, "01:01"},
		{3599, "59:59"},
		{3661, "01:01:01"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatSeconds(tt.seconds))
	}
}

func TestTimerFormatSeparators(t *testing.T) {
	timer := NewTimer(nil)
	timer.Restart(3661)
	defer timer.Stop()
	assert.Equal(t, "01h01m01s", timer.Format("h", "m", "s"))
}
