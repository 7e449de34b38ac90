package media

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/echoes/backend/internal/apperr"
	"github.com/zhouzirui/echoes/backend/internal/scheduler"
)

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func TestRecorderLifecycle(t *testing.T) {
	clock := scheduler.NewManual(epoch)
	capture := NewSimulatedCapture()
	var ticks []int
	rec := NewRecorder(capture, clock, func(s int) { ticks = append(ticks, s) })

	require.NoError(t, rec.Start(context.Background()))
	assert.True(t, rec.Recording())
	assert.Equal(t, 1, capture.Active())
	assert.ErrorIs(t, rec.Start(context.Background()), ErrAlreadyRecording)

	require.NoError(t, rec.Append([]byte("abc")))
	clock.Advance(3 * time.Second)
	require.NoError(t, rec.Append([]byte("def")))

	out, err := rec.Stop()
	require.NoError(t, err)
	assert.Equal(t, "Recording 1 (2024-05-01T12-00-03-000Z)", out.Name)
	assert.Equal(t, 3*time.Second, out.Duration)
	assert.Equal(t, []byte("abcdef"), out.Data)
	assert.Equal(t, []int{1, 2, 3}, ticks)

	assert.False(t, rec.Recording())
	assert.Zero(t, capture.Active(), "stopping releases the microphone")
	assert.Zero(t, clock.Pending(), "stopping cancels the recording timer")

	clock.Advance(5 * time.Second)
	assert.Len(t, ticks, 3)

	_, err = rec.Stop()
	assert.ErrorIs(t, err, ErrNotRecording)
}

func TestRecorderNamesIncrement(t *testing.T) {
	clock := scheduler.NewManual(epoch)
	rec := NewRecorder(NewSimulatedCapture(), clock, nil)

	for i := 1; i <= 2; i++ {
		require.NoError(t, rec.Start(context.Background()))
		out, err := rec.Stop()
		require.NoError(t, err)
		assert.Contains(t, out.Name, "Recording "+string(rune('0'+i))+" (")
	}
}

func TestRecorderDenied(t *testing.T) {
	clock := scheduler.NewManual(epoch)
	rec := NewRecorder(DeniedCapture{}, clock, nil)

	err := rec.Start(context.Background())
	denied, ok := apperr.AsPermissionDenied(err)
	require.True(t, ok)
	assert.Equal(t, DefaultDeniedNotice, denied.Notice)
	assert.False(t, rec.Recording())
	assert.Zero(t, clock.Pending())
	assert.ErrorIs(t, rec.Append([]byte("x")), ErrNotRecording)
}

func TestRecorderRelease(t *testing.T) {
	clock := scheduler.NewManual(epoch)
	capture := NewSimulatedCapture()
	rec := NewRecorder(capture, clock, nil)

	require.NoError(t, rec.Start(context.Background()))
	rec.Release()
	rec.Release()

	assert.False(t, rec.Recording())
	assert.Zero(t, capture.Active())
	assert.Equal(t, 1, capture.Opened())
	assert.Zero(t, clock.Pending())
}
