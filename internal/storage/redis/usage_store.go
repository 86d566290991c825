package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/scrollcap/internal/storage"
	"github.com/redis/go-redis/v9"
)

var (
	appendRecord    = redis.NewScript(appendRecordScript)
	archiveAndPrune = redis.NewScript(archiveAndPruneScript)
)

type usageStore struct {
	client *redis.Client
	keys   keyspace
}

// Append writes a raw usage record and announces the changed day
func (s *usageStore) Append(ctx context.Context, record storage.UsageRecord) error {
	if record.ID == "" {
		return fmt.Errorf("usage record has no id")
	}
	if record.Distance < 0 {
		return fmt.Errorf("usage record %s has negative distance %v", record.ID, record.Distance)
	}

	day := record.Day
	if day == "" {
		day = storage.DayKey(record.Timestamp)
	}
	score, err := storage.DayScore(day)
	if err != nil {
		return err
	}

	keys := []string{
		s.keys.record(record.ID),
		s.keys.dayIndex(day),
		s.keys.days(),
		s.keys.live(day),
	}
	args := []interface{}{
		record.ID,
		record.App,
		formatFloat(record.Distance),
		record.Timestamp.Format(time.RFC3339Nano),
		day,
		score,
	}

	if err := appendRecord.Run(ctx, s.client, keys, args...).Err(); err != nil {
		return fmt.Errorf("append usage record: %w", err)
	}

	return s.client.Publish(ctx, s.keys.usageChanged(), day).Err()
}

// DailyTotal returns the distance recorded across all apps for a day
func (s *usageStore) DailyTotal(ctx context.Context, day string) (float64, error) {
	byApp, err := s.DailyTotalsByApp(ctx, day)
	if err != nil {
		return 0, err
	}

	var total float64
	for _, distance := range byApp {
		total += distance
	}
	return total, nil
}

// DailyTotalsByApp merges the live (raw) and archived totals for a day
func (s *usageStore) DailyTotalsByApp(ctx context.Context, day string) (map[string]float64, error) {
	pipe := s.client.Pipeline()
	live := pipe.HGetAll(ctx, s.keys.live(day))
	archived := pipe.HGetAll(ctx, s.keys.archive(day))

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("read daily totals: %w", err)
	}

	totals := make(map[string]float64)
	parseDistances(live.Val(), totals)
	parseDistances(archived.Val(), totals)

	return totals, nil
}

// ListRecords returns the raw records of a day
func (s *usageStore) ListRecords(ctx context.Context, day string) ([]storage.UsageRecord, error) {
	ids, err := s.client.SMembers(ctx, s.keys.dayIndex(day)).Result()
	if err != nil {
		return nil, err
	}

	if len(ids) == 0 {
		return []storage.UsageRecord{}, nil
	}

	// Use pipeline for batch retrieval
	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))

	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, s.keys.record(id))
	}

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	// Parse results
	records := make([]storage.UsageRecord, 0, len(ids))
	for _, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil || len(data) == 0 {
			continue
		}

		record, err := parseUsageRecord(data)
		if err == nil {
			records = append(records, *record)
		}
	}

	return records, nil
}

// ListDailyTotals returns the archived per-app totals of a day
func (s *usageStore) ListDailyTotals(ctx context.Context, day string) ([]storage.DailyAppTotal, error) {
	data, err := s.client.HGetAll(ctx, s.keys.archive(day)).Result()
	if err != nil {
		return nil, err
	}

	byApp := make(map[string]float64, len(data))
	parseDistances(data, byApp)

	totals := make([]storage.DailyAppTotal, 0, len(byApp))
	for app, distance := range byApp {
		totals = append(totals, storage.DailyAppTotal{Day: day, App: app, Distance: distance})
	}

	return totals, nil
}

// ArchiveAndPrune archives every day strictly before beforeDay
func (s *usageStore) ArchiveAndPrune(ctx context.Context, beforeDay string) (storage.ArchiveResult, error) {
	score, err := storage.DayScore(beforeDay)
	if err != nil {
		return storage.ArchiveResult{}, err
	}

	keys := []string{s.keys.days(), s.keys.archivedDays()}
	counts, err := archiveAndPrune.Run(ctx, s.client, keys, score, s.keys.prefix).Int64Slice()
	if err != nil {
		return storage.ArchiveResult{}, fmt.Errorf("archive usage before %s: %w", beforeDay, err)
	}
	if len(counts) != 3 {
		return storage.ArchiveResult{}, fmt.Errorf("archive usage: unexpected reply %v", counts)
	}

	return storage.ArchiveResult{
		Days:           int(counts[0]),
		TotalsUpserted: int(counts[1]),
		RecordsPruned:  int(counts[2]),
	}, nil
}

// Watch forwards usage change notifications until ctx is cancelled
func (s *usageStore) Watch(ctx context.Context) (<-chan string, error) {
	return subscribe(ctx, s.client, s.keys.usageChanged(), func(payload string) string { return payload })
}

// subscribe forwards Pub/Sub payloads on a buffered channel. Notifications
// only prompt a reload, so a full buffer drops rather than blocks.
func subscribe[T any](ctx context.Context, client *redis.Client, channel string, convert func(string) T) (<-chan T, error) {
	pubsub := client.Subscribe(ctx, channel)

	// Wait for confirmation that subscription is created
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	out := make(chan T, 16)
	go func() {
		defer close(out)
		defer func() { _ = pubsub.Close() }()

		messages := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				select {
				case out <- convert(msg.Payload):
				default:
				}
			}
		}
	}()

	return out, nil
}
