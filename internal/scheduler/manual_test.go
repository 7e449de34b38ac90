package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func TestManualFiresInDueOrder(t *testing.T) {
	clock := NewManual(epoch)
	var order []string

	clock.AfterFunc(3*time.Second, func() { order = append(order, "c") })
	clock.AfterFunc(1*time.Second, func() { order = append(order, "a") })
	clock.AfterFunc(2*time.Second, func() { order = append(order, "b") })

	clock.Advance(2 * time.Second)
	assert.Equal(t, []string{"a", "b"}, order)

	clock.Advance(time.Second)
	assert.Equal(t, []string{"a", "b", "c"}, order)
	assert.Equal(t, epoch.Add(3*time.Second), clock.Now())
}

func TestManualTiesKeepRegistrationOrder(t *testing.T) {
	clock := NewManual(epoch)
	var order []int
	for i := 0; i < 4; i++ {
		i := i
		clock.AfterFunc(time.Second, func() { order = append(order, i) })
	}
	clock.Advance(time.Second)
	assert.Equal(t, []int{0, 1, 2, 3}, order)
}

func TestManualEveryRepeatsUntilCancelled(t *testing.T) {
	clock := NewManual(epoch)
	ticks := 0
	task := clock.Every(time.Second, func() { ticks++ })

	clock.Advance(5 * time.Second)
	require.Equal(t, 5, ticks)

	assert.True(t, task.Cancel())
	assert.False(t, task.Cancel())

	clock.Advance(10 * time.Second)
	assert.Equal(t, 5, ticks)
	assert.Zero(t, clock.Pending())
}

func TestManualCallbackCanScheduleWithinWindow(t *testing.T) {
	clock := NewManual(epoch)
	fired := false
	clock.AfterFunc(time.Second, func() {
		clock.AfterFunc(time.Second, func() { fired = true })
	})

	clock.Advance(2 * time.Second)
	assert.True(t, fired)
}

func TestManualCancelAfterFire(t *testing.T) {
	clock := NewManual(epoch)
	task := clock.AfterFunc(time.Second, func() {})
	clock.Advance(time.Second)
	assert.False(t, task.Cancel())
}

func TestGroupCancelAll(t *testing.T) {
	clock := NewManual(epoch)
	group := NewGroup()
	fired := 0

	group.Add(clock.AfterFunc(time.Second, func() { fired++ }))
	group.Add(clock.AfterFunc(2*time.Second, func() { fired++ }))
	group.Add(clock.Every(time.Second, func() { fired++ }))

	clock.Advance(time.Second)
	require.Equal(t, 2, fired)

	assert.Equal(t, 2, group.CancelAll())
	assert.True(t, group.Closed())

	late := group.Add(clock.AfterFunc(time.Second, func() { fired++ }))
	assert.False(t, late.Cancel(), "tasks added after CancelAll are cancelled on arrival")

	clock.Advance(time.Minute)
	assert.Equal(t, 2, fired)
	assert.Zero(t, clock.Pending())
}

func TestRealAfterFuncCancel(t *testing.T) {
	sched := Real()
	done := make(chan struct{})
	task := sched.AfterFunc(time.Hour, func() { close(done) })
	assert.True(t, task.Cancel())

	ticks := make(chan struct{}, 8)
	ticker := sched.Every(5*time.Millisecond, func() { ticks <- struct{}{} })
	select {
	case <-ticks:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for ticker")
	}
	assert.True(t, ticker.Cancel())
	assert.False(t, ticker.Cancel())
}
