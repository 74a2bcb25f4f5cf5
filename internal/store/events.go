package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/xolan/billable/internal/event"
)

// UpsertRawEvent inserts a raw event or refreshes the existing row sharing
// its (source, source_id) natural key, so re-importing fetcher output never
// creates duplicates.
func (s *Store) UpsertRawEvent(ctx context.Context, ev event.RawEvent) error {
	metadata, err := marshalMetadata(ev.Metadata)
	if err != nil {
		return fmt.Errorf("encode event metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO raw_events (source, source_id, timestamp, duration_minutes, description, metadata)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(source, source_id) DO UPDATE SET
			timestamp        = excluded.timestamp,
			duration_minutes = excluded.duration_minutes,
			description      = excluded.description,
			metadata         = excluded.metadata`,
		string(ev.Source), ev.SourceID, ev.Timestamp.UTC().Format(time.RFC3339),
		ev.DurationMinutes, ev.Description, metadata,
	)
	if err != nil {
		return fmt.Errorf("upsert raw event %s/%s: %w", ev.Source, ev.SourceID, err)
	}
	return nil
}

// RawEventsInWindow returns the raw events that start in [start, end) plus
// pre-window events whose duration extends past the window start, ordered
// deterministically for idempotent reprocessing; the normalizer clips the
// straddlers. Stored timestamps are RFC3339, which datetime() parses; its
// output uses sqlite's own "YYYY-MM-DD HH:MM:SS" layout, so the straddle
// bound is passed in that format.
func (s *Store) RawEventsInWindow(ctx context.Context, start, end time.Time) ([]event.RawEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT source, source_id, timestamp, duration_minutes, description, metadata
		FROM raw_events
		WHERE timestamp < ?
		  AND (timestamp >= ? OR datetime(timestamp, '+' || duration_minutes || ' minutes') > ?)
		ORDER BY timestamp, source, source_id`,
		end.UTC().Format(time.RFC3339),
		start.UTC().Format(time.RFC3339),
		start.UTC().Format("2006-01-02 15:04:05"),
	)
	if err != nil {
		return nil, fmt.Errorf("query raw events: %w", err)
	}
	defer rows.Close()

	var events []event.RawEvent
	for rows.Next() {
		var ev event.RawEvent
		var source, timestamp, metadata string
		if err := rows.Scan(&source, &ev.SourceID, &timestamp, &ev.DurationMinutes, &ev.Description, &metadata); err != nil {
			return nil, err
		}
		ev.Source = event.Source(source)
		ev.Timestamp, _ = time.Parse(time.RFC3339, timestamp)
		if err := unmarshalMetadata(metadata, &ev.Metadata); err != nil {
			return nil, fmt.Errorf("decode event metadata: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// CountRawEvents returns the number of stored raw events.
func (s *Store) CountRawEvents(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM raw_events`).Scan(&n)
	return n, err
}

func marshalMetadata(m map[string]string) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func unmarshalMetadata(data string, dst *map[string]string) error {
	if data == "" || data == "{}" {
		return nil
	}
	return json.Unmarshal([]byte(data), dst)
}
