package audio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormat_Valid(t *testing.T) {
	assert.True(t, DefaultFormat().Valid())

	f := DefaultFormat()
	f.SampleRate = 0
	assert.False(t, f.Valid())

	f = DefaultFormat()
	f.FrameDuration = 0
	assert.False(t, f.Valid())
}

func TestFormat_FramesFor(t *testing.T) {
	f := DefaultFormat() // 60ms frames
	assert.Equal(t, 0, f.FramesFor(0))
	assert.Equal(t, 1, f.FramesFor(time.Millisecond))
	assert.Equal(t, 1, f.FramesFor(60*time.Millisecond))
	assert.Equal(t, 2, f.FramesFor(61*time.Millisecond))
	assert.Equal(t, 50, f.FramesFor(3*time.Second))
}

func TestFormat_Duration(t *testing.T) {
	f := DefaultFormat()
	assert.Equal(t, 600*time.Millisecond, f.Duration(10))
}
