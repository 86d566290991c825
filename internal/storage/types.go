package storage

import (
	"slices"
	"time"

	"github.com/goccy/go-json"
)

// UsageRecord is one flushed slice of scroll distance.
type UsageRecord struct {
	ID        string    `json:"id"`
	App       string    `json:"app"`
	Distance  float64   `json:"distance"`
	Timestamp time.Time `json:"timestamp"`
	Day       string    `json:"day"`
}

// DailyAppTotal is the archived distance for one app on one day.
// Day and App together form its key.
type DailyAppTotal struct {
	Day      string  `json:"day"`
	App      string  `json:"app"`
	Distance float64 `json:"distance"`
}

// ArchiveResult summarises one ArchiveAndPrune run.
type ArchiveResult struct {
	Days           int `json:"days"`
	TotalsUpserted int `json:"totals_upserted"`
	RecordsPruned  int `json:"records_pruned"`
}

// AppSet is a set of app identifiers. It encodes as a sorted JSON array.
type AppSet map[string]struct{}

// NewAppSet builds a set from the given identifiers, skipping empty ones.
func NewAppSet(apps ...string) AppSet {
	set := make(AppSet, len(apps))
	for _, app := range apps {
		if app != "" {
			set[app] = struct{}{}
		}
	}
	return set
}

// Has reports whether app is in the set.
func (s AppSet) Has(app string) bool {
	_, ok := s[app]
	return ok
}

// Sorted returns the members in lexical order.
func (s AppSet) Sorted() []string {
	apps := make([]string, 0, len(s))
	for app := range s {
		apps = append(apps, app)
	}
	slices.Sort(apps)
	return apps
}

// MarshalJSON implements json.Marshaler.
func (s AppSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *AppSet) UnmarshalJSON(data []byte) error {
	var apps []string
	if err := json.Unmarshal(data, &apps); err != nil {
		return err
	}
	*s = NewAppSet(apps...)
	return nil
}

// Settings is the user's configuration as seen by the enforcement engine.
type Settings struct {
	TrackedApps        AppSet             `json:"tracked_apps"`
	GlobalLimit        float64            `json:"global_limit"`
	AppLimits          map[string]float64 `json:"app_limits"`
	GeneralLockUntil   time.Time          `json:"general_lock_until"`
	AppLimitsLockUntil time.Time          `json:"app_limits_lock_until"`
}

// IsTracked reports whether app is measured and enforced against.
func (s Settings) IsTracked(app string) bool {
	return s.TrackedApps.Has(app)
}

// AppLimit returns the per-app override for app. Non-positive limits are
// treated as absent.
func (s Settings) AppLimit(app string) (float64, bool) {
	limit, ok := s.AppLimits[app]
	if !ok || limit <= 0 {
		return 0, false
	}
	return limit, true
}

// GeneralLocked reports whether the general settings lock is active at now.
func (s Settings) GeneralLocked(now time.Time) bool {
	return now.Before(s.GeneralLockUntil)
}

// AppLimitsLocked reports whether the per-app limits lock is active at now.
func (s Settings) AppLimitsLocked(now time.Time) bool {
	return now.Before(s.AppLimitsLockUntil)
}
