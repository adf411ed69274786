package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vayu-advisor/server/internal/agent/model"
	logx "github.com/vayu-advisor/server/pkg/logger"
)

// CachedWeather is a read-through Redis cache in front of a WeatherProvider.
// Cache failures are logged and never fail the lookup; errors from the
// provider are not cached.
type CachedWeather struct {
	next WeatherProvider
	rdb  redis.Cmdable
	ttl  time.Duration
}

func NewCachedWeather(next WeatherProvider, rdb redis.Cmdable, ttl time.Duration) *CachedWeather {
	return &CachedWeather{next: next, rdb: rdb, ttl: ttl}
}

func (c *CachedWeather) cacheKey(location, start, end string) string {
	loc := strings.Join(strings.Fields(strings.ToLower(location)), " ")
	return fmt.Sprintf("weather:%s:%s:%s", loc, start, end)
}

func (c *CachedWeather) GetWeather(ctx context.Context, location, start, end string) (*model.WeatherReport, error) {
	key := c.cacheKey(location, start, end)

	raw, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var report model.WeatherReport
		if err := json.Unmarshal(raw, &report); err == nil {
			logx.Debug().Str("key", key).Msg("weather cache hit")
			return &report, nil
		}
		logx.Warn().Str("key", key).Msg("dropping undecodable weather cache entry")
	case !errors.Is(err, redis.Nil):
		logx.Warn().Err(err).Str("key", key).Msg("weather cache read failed")
	}

	report, err := c.next.GetWeather(ctx, location, start, end)
	if err != nil {
		return nil, err
	}

	b, err := json.Marshal(report)
	if err != nil {
		logx.Warn().Err(err).Str("key", key).Msg("failed to marshal weather report")
		return report, nil
	}
	if err := c.rdb.Set(ctx, key, b, c.ttl).Err(); err != nil {
		logx.Warn().Err(err).Str("key", key).Msg("weather cache write failed")
	}
	return report, nil
}

var _ WeatherProvider = (*CachedWeather)(nil)
