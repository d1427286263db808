package redis

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDisabledCache(t *testing.T) {
	c := NewScheduleCache("", "", "", "default")
	assert.Nil(t, c)

	_, ok := c.ETag(context.Background())
	assert.False(t, ok)
	assert.NotPanics(t, func() { c.Invalidate(context.Background()) })
	assert.NoError(t, c.Close())
}

func TestKeyIncludesChannel(t *testing.T) {
	c := &ScheduleCache{channel: "news"}
	assert.Equal(t, "playout:news:schedule:version", c.key())
}
