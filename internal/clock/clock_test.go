package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSystemClock(t *testing.T) {
	before := time.Now().UnixMilli()
	now := System{}.NowMillis()
	after := time.Now().UnixMilli()

	assert.GreaterOrEqual(t, now, before)
	assert.LessOrEqual(t, now, after)
}

func TestFakeClock(t *testing.T) {
	f := NewFake(1000)
	assert.Equal(t, int64(1000), f.NowMillis())

	f.Advance(5 * time.Second)
	assert.Equal(t, int64(6000), f.NowMillis())

	f.Set(42)
	assert.Equal(t, int64(42), f.NowMillis())
}
