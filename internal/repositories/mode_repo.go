package repositories

import (
	"context"
	"strconv"

	"github.com/redis/go-redis/v9"
)

const liveModeKey = "marketplace:live_mode"

// ModeRepo keeps the live-mode toggle in redis so that the API, worker and
// indexer observe the same setting.
type ModeRepo struct {
	rdb      *redis.Client
	fallback bool
}

func NewModeRepo(rdb *redis.Client, fallback bool) *ModeRepo {
	return &ModeRepo{rdb: rdb, fallback: fallback}
}

func (r *ModeRepo) LiveMode(ctx context.Context) bool {
	val, err := r.rdb.Get(ctx, liveModeKey).Result()
	if err != nil {
		return r.fallback
	}
	enabled, err := strconv.ParseBool(val)
	if err != nil {
		return r.fallback
	}
	return enabled
}

func (r *ModeRepo) SetLiveMode(ctx context.Context, enabled bool) error {
	return r.rdb.Set(ctx, liveModeKey, strconv.FormatBool(enabled), 0).Err()
}
