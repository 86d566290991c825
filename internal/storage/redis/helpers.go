package redis

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/goodtune/scrollcap/internal/storage"
)

const appLimitFieldPrefix = "app_limit:"

// keyspace builds every key and channel name under one prefix
type keyspace struct {
	prefix string
}

func (k keyspace) record(id string) string { return k.prefix + "usage:record:" + id }
func (k keyspace) dayIndex(day string) string { return k.prefix + "usage:day:" + day }
func (k keyspace) days() string { return k.prefix + "usage:days" }
func (k keyspace) live(day string) string { return k.prefix + "usage:live:" + day }
func (k keyspace) archive(day string) string { return k.prefix + "usage:archive:" + day }
func (k keyspace) archivedDays() string { return k.prefix + "usage:archived" }
func (k keyspace) usageChanged() string { return k.prefix + "usage:changed" }
func (k keyspace) settings() string { return k.prefix + "settings" }
func (k keyspace) settingsChanged() string { return k.prefix + "settings:changed" }

// parseUsageRecord converts a Redis hash to UsageRecord
func parseUsageRecord(data map[string]string) (*storage.UsageRecord, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	timestamp, err := time.Parse(time.RFC3339Nano, data["timestamp"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse timestamp: %w", err)
	}

	distance, err := strconv.ParseFloat(data["distance"], 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse distance: %w", err)
	}

	return &storage.UsageRecord{
		ID:        data["id"],
		App:       data["app"],
		Distance:  distance,
		Timestamp: timestamp,
		Day:       data["day"],
	}, nil
}

// parseDistances converts an app → distance hash, skipping unparsable fields
func parseDistances(data map[string]string, into map[string]float64) {
	for app, raw := range data {
		distance, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			continue
		}
		into[app] += distance
	}
}

// parseSettings converts the settings hash to Settings
func parseSettings(data map[string]string, defaultGlobalLimit float64) (storage.Settings, error) {
	settings := storage.Settings{
		TrackedApps: storage.AppSet{},
		GlobalLimit: defaultGlobalLimit,
		AppLimits:   map[string]float64{},
	}

	for field, raw := range data {
		switch {
		case field == "tracked_apps":
			if err := json.Unmarshal([]byte(raw), &settings.TrackedApps); err != nil {
				return storage.Settings{}, fmt.Errorf("failed to parse tracked_apps: %w", err)
			}
		case field == "global_limit":
			limit, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return storage.Settings{}, fmt.Errorf("failed to parse global_limit: %w", err)
			}
			settings.GlobalLimit = limit
		case field == "general_lock_until":
			until, err := parseMillis(raw)
			if err != nil {
				return storage.Settings{}, fmt.Errorf("failed to parse general_lock_until: %w", err)
			}
			settings.GeneralLockUntil = until
		case field == "app_limits_lock_until":
			until, err := parseMillis(raw)
			if err != nil {
				return storage.Settings{}, fmt.Errorf("failed to parse app_limits_lock_until: %w", err)
			}
			settings.AppLimitsLockUntil = until
		case strings.HasPrefix(field, appLimitFieldPrefix):
			limit, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return storage.Settings{}, fmt.Errorf("failed to parse %s: %w", field, err)
			}
			settings.AppLimits[strings.TrimPrefix(field, appLimitFieldPrefix)] = limit
		}
	}

	return settings, nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func parseMillis(raw string) (time.Time, error) {
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	if ms <= 0 {
		return time.Time{}, nil
	}
	return time.UnixMilli(ms), nil
}
