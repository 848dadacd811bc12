package antispam

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func TestHashOrderInvariant(t *testing.T) {
	assert.Equal(t, Hash("T", "p1", "p2"), Hash("T", "p2", "p1"))
	assert.NotEqual(t, Hash("T", "p1", "p2"), Hash("U", "p1", "p2"))
	assert.Len(t, Hash("T", "a", "b"), 32)
}

func TestCooldowns(t *testing.T) {
	clk := &clock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	d := New(Options{}, clk.now, zerolog.Nop())

	h1 := Hash("T", "p1", "p2")
	h2 := Hash("T", "p1", "p3")

	assert.True(t, d.ShouldNotify("T", h1))
	d.Record("T", h1)
	assert.False(t, d.ShouldNotify("T", h1))
	assert.False(t, d.ShouldNotify("T", h2), "token cooldown blocks other pairs")
	assert.True(t, d.ShouldNotify("U", Hash("U", "p1", "p2")))

	clk.t = clk.t.Add(DefaultTokenCooldown)
	assert.True(t, d.ShouldNotify("T", h2))
	assert.False(t, d.ShouldNotify("T", h1), "same opportunity still cooling down")

	clk.t = clk.t.Add(DefaultOpportunityCooldown - DefaultTokenCooldown - time.Second)
	assert.False(t, d.ShouldNotify("T", h1))
	clk.t = clk.t.Add(time.Second)
	assert.True(t, d.ShouldNotify("T", h1))
}

func TestRecordPurgesOldEntries(t *testing.T) {
	clk := &clock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	d := New(Options{}, clk.now, zerolog.Nop())

	d.Record("T", Hash("T", "a", "b"))
	clk.t = clk.t.Add(DefaultRetention + time.Minute)
	d.Record("U", Hash("U", "a", "b"))

	hashes, tokens := d.Size()
	assert.Equal(t, 1, hashes)
	assert.Equal(t, 1, tokens)
}
