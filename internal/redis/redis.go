package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// ScheduleCache keeps a version counter for the published schedule so
// clients can revalidate with ETags. A nil cache or client disables it.
type ScheduleCache struct {
	Rdb     *redis.Client
	channel string
}

func NewScheduleCache(address, username, password, channel string) *ScheduleCache {
	if address == "" {
		log.Info().Msg("[redis] no address configured, schedule cache disabled")
		return nil
	}
	return &ScheduleCache{
		Rdb: redis.NewClient(&redis.Options{
			Addr:     address,
			Username: username,
			Password: password,
			DB:       0,
		}),
		channel: channel,
	}
}

func (c *ScheduleCache) key() string {
	return fmt.Sprintf("playout:%s:schedule:version", c.channel)
}

// ETag returns the current schedule version as a quoted entity tag. ok is
// false when the cache is disabled or unreachable.
func (c *ScheduleCache) ETag(ctx context.Context) (tag string, ok bool) {
	if c == nil || c.Rdb == nil {
		return "", false
	}
	v, err := c.Rdb.Get(ctx, c.key()).Int64()
	if errors.Is(err, redis.Nil) {
		v = 0
	} else if err != nil {
		log.Warn().Err(err).Msg("[redis] failed to read schedule version")
		return "", false
	}
	return strconv.Quote("s" + strconv.FormatInt(v, 10)), true
}

// Invalidate bumps the schedule version. Failures are only logged.
func (c *ScheduleCache) Invalidate(ctx context.Context) {
	if c == nil || c.Rdb == nil {
		return
	}
	if err := c.Rdb.Incr(ctx, c.key()).Err(); err != nil {
		log.Warn().Err(err).Msg("[redis] failed to bump schedule version")
	}
}

func (c *ScheduleCache) Close() error {
	if c == nil || c.Rdb == nil {
		return nil
	}
	return c.Rdb.Close()
}
