package ttlstate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSetGetClear(t *testing.T) {
	s := New(time.Minute)

	s.Set("k", "v", time.Minute)
	v, ok := s.Get("k")
	assert.True(t, ok)
	assert.Equal(t, "v", v)

	s.Clear("k")
	_, ok = s.Get("k")
	assert.False(t, ok)
}

func TestExpiry(t *testing.T) {
	s := New(time.Minute)

	s.Set("short", true, 10*time.Millisecond)
	time.Sleep(30 * time.Millisecond)

	_, ok := s.Get("short")
	assert.False(t, ok)
}

func TestGetBool(t *testing.T) {
	s := New(time.Minute)

	s.Set("flag", true, time.Minute)
	b, ok := s.GetBool("flag")
	assert.True(t, ok)
	assert.True(t, b)

	_, ok = s.GetBool("missing")
	assert.False(t, ok)

	s.Set("notbool", "yes", time.Minute)
	_, ok = s.GetBool("notbool")
	assert.False(t, ok)
}

func TestSetIfAbsent(t *testing.T) {
	s := New(time.Minute)

	assert.True(t, s.SetIfAbsent("once", 1, time.Minute))
	assert.False(t, s.SetIfAbsent("once", 2, time.Minute))

	v, ok := s.Get("once")
	assert.True(t, ok)
	assert.Equal(t, 1, v)
}

func TestSendDedupKey(t *testing.T) {
	a := SendDedupKey("conv-1", "hello")
	b := SendDedupKey("conv-1", "hello")
	c := SendDedupKey("conv-1", "other")
	d := SendDedupKey("conv-2", "hello")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, a, d)
}
