package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/goodtune/scrollcap/internal/clock"
	"github.com/goodtune/scrollcap/internal/storage"
	"github.com/redis/go-redis/v9"
)

const (
	fieldTrackedApps        = "tracked_apps"
	fieldGlobalLimit        = "global_limit"
	fieldGeneralLockUntil   = "general_lock_until"
	fieldAppLimitsLockUntil = "app_limits_lock_until"
)

var (
	guardedWrite = redis.NewScript(guardedWriteScript)
	extendLock   = redis.NewScript(extendLockScript)
)

type settingsStore struct {
	client             *redis.Client
	keys               keyspace
	clock              clock.Clock
	defaultGlobalLimit float64
}

// Load reads every setting with a single HGETALL
func (s *settingsStore) Load(ctx context.Context) (storage.Settings, error) {
	data, err := s.client.HGetAll(ctx, s.keys.settings()).Result()
	if err != nil {
		return storage.Settings{}, fmt.Errorf("load settings: %w", err)
	}
	return parseSettings(data, s.defaultGlobalLimit)
}

func (s *settingsStore) SetTrackedApps(ctx context.Context, apps []string) error {
	encoded, err := json.Marshal(storage.NewAppSet(apps...))
	if err != nil {
		return fmt.Errorf("encode tracked apps: %w", err)
	}
	return s.write(ctx, fieldGeneralLockUntil, "set", fieldTrackedApps, string(encoded))
}

func (s *settingsStore) SetGlobalLimit(ctx context.Context, limit float64) error {
	if limit < 0 {
		return fmt.Errorf("global limit must not be negative, got %v", limit)
	}
	return s.write(ctx, fieldGeneralLockUntil, "set", fieldGlobalLimit, formatFloat(limit))
}

func (s *settingsStore) SetAppLimit(ctx context.Context, app string, limit float64) error {
	if app == "" {
		return fmt.Errorf("app limit requires an app")
	}
	if limit < 0 {
		return fmt.Errorf("limit for %s must not be negative, got %v", app, limit)
	}
	return s.write(ctx, fieldAppLimitsLockUntil, "set", appLimitFieldPrefix+app, formatFloat(limit))
}

func (s *settingsStore) ClearAppLimit(ctx context.Context, app string) error {
	return s.write(ctx, fieldAppLimitsLockUntil, "del", appLimitFieldPrefix+app, "")
}

func (s *settingsStore) SetGeneralLock(ctx context.Context, until time.Time) error {
	return s.lock(ctx, fieldGeneralLockUntil, until)
}

func (s *settingsStore) SetAppLimitsLock(ctx context.Context, until time.Time) error {
	return s.lock(ctx, fieldAppLimitsLockUntil, until)
}

// Watch signals every settings change until ctx is cancelled
func (s *settingsStore) Watch(ctx context.Context) (<-chan struct{}, error) {
	return subscribe(ctx, s.client, s.keys.settingsChanged(), func(string) struct{} { return struct{}{} })
}

func (s *settingsStore) write(ctx context.Context, lockField, op, field, value string) error {
	now := s.clock.Now().UnixMilli()
	err := guardedWrite.Run(ctx, s.client, []string{s.keys.settings()}, lockField, now, op, field, value).Err()
	if err != nil {
		return fmt.Errorf("write %s: %w", field, lockError(err))
	}
	return s.notify(ctx, field)
}

func (s *settingsStore) lock(ctx context.Context, field string, until time.Time) error {
	now := s.clock.Now().UnixMilli()
	err := extendLock.Run(ctx, s.client, []string{s.keys.settings()}, field, now, until.UnixMilli()).Err()
	if err != nil {
		return fmt.Errorf("write %s: %w", field, lockError(err))
	}
	return s.notify(ctx, field)
}

func (s *settingsStore) notify(ctx context.Context, field string) error {
	return s.client.Publish(ctx, s.keys.settingsChanged(), field).Err()
}

// lockError maps the scripts' LOCKED reply onto storage.ErrLocked
func lockError(err error) error {
	var redisErr redis.Error
	if errors.As(err, &redisErr) && strings.HasPrefix(redisErr.Error(), lockedReply) {
		return storage.ErrLocked
	}
	return err
}
