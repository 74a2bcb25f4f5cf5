package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/xolan/billable/internal/block"
	"github.com/xolan/billable/internal/event"
)

// ReplaceWeek atomically swaps the week's derived state: all blocks and the
// summary for weekStart are deleted and reinserted inside one transaction.
// Readers see either the complete prior result or the complete new one.
func (s *Store) ReplaceWeek(ctx context.Context, weekStart time.Time, blocks []block.TimeBlock, summary block.WeekSummary) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace week: %w", err)
	}
	defer tx.Rollback()

	week := weekStart.UTC().Format(time.RFC3339)

	if _, err := tx.ExecContext(ctx, `DELETE FROM time_blocks WHERE week_start = ?`, week); err != nil {
		return fmt.Errorf("clear week blocks: %w", err)
	}

	for _, b := range blocks {
		metadata, err := marshalMetadata(b.Metadata)
		if err != nil {
			return fmt.Errorf("encode block metadata: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO time_blocks (week_start, block_start, block_end, source, description, duration_hours, metadata)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			week, b.Start.UTC().Format(time.RFC3339), b.End.UTC().Format(time.RFC3339),
			string(b.Source), b.Description, b.DurationHours, metadata,
		); err != nil {
			return fmt.Errorf("insert block: %w", err)
		}
	}

	summaryMeta, err := json.Marshal(summary.Metadata)
	if err != nil {
		return fmt.Errorf("encode summary metadata: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO week_summaries (week_start, total_hours, metadata)
		VALUES (?, ?, ?)
		ON CONFLICT(week_start) DO UPDATE SET
			total_hours = excluded.total_hours,
			metadata    = excluded.metadata`,
		week, summary.TotalHours, string(summaryMeta),
	); err != nil {
		return fmt.Errorf("upsert week summary: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace week: %w", err)
	}
	return nil
}

// BlocksForWeek returns the persisted blocks for a week in chronological
// order.
func (s *Store) BlocksForWeek(ctx context.Context, weekStart time.Time) ([]block.TimeBlock, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT week_start, block_start, block_end, source, description, duration_hours, metadata
		FROM time_blocks
		WHERE week_start = ?
		ORDER BY block_start, source, description`,
		weekStart.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("query week blocks: %w", err)
	}
	defer rows.Close()

	var blocks []block.TimeBlock
	for rows.Next() {
		var b block.TimeBlock
		var week, start, end, source, metadata string
		if err := rows.Scan(&week, &start, &end, &source, &b.Description, &b.DurationHours, &metadata); err != nil {
			return nil, err
		}
		b.WeekStart, _ = time.Parse(time.RFC3339, week)
		b.Start, _ = time.Parse(time.RFC3339, start)
		b.End, _ = time.Parse(time.RFC3339, end)
		b.Source = event.Source(source)
		if err := unmarshalMetadata(metadata, &b.Metadata); err != nil {
			return nil, fmt.Errorf("decode block metadata: %w", err)
		}
		blocks = append(blocks, b)
	}
	return blocks, rows.Err()
}

// Summary returns the persisted summary for a week, or nil if the week has
// not been processed.
func (s *Store) Summary(ctx context.Context, weekStart time.Time) (*block.WeekSummary, error) {
	return s.scanSummary(s.db.QueryRowContext(ctx, `
		SELECT week_start, total_hours, metadata
		FROM week_summaries
		WHERE week_start = ?`,
		weekStart.UTC().Format(time.RFC3339),
	))
}

// LatestSummaryBefore returns the most recent summary strictly before
// weekStart, or nil when none exists. The fill-up engine seeds its carry-over
// ledger from it.
func (s *Store) LatestSummaryBefore(ctx context.Context, weekStart time.Time) (*block.WeekSummary, error) {
	return s.scanSummary(s.db.QueryRowContext(ctx, `
		SELECT week_start, total_hours, metadata
		FROM week_summaries
		WHERE week_start < ?
		ORDER BY week_start DESC
		LIMIT 1`,
		weekStart.UTC().Format(time.RFC3339),
	))
}

func (s *Store) scanSummary(row *sql.Row) (*block.WeekSummary, error) {
	var summary block.WeekSummary
	var week, metadata string
	err := row.Scan(&week, &summary.TotalHours, &metadata)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan week summary: %w", err)
	}
	summary.WeekStart, _ = time.Parse(time.RFC3339, week)
	if err := json.Unmarshal([]byte(metadata), &summary.Metadata); err != nil {
		return nil, fmt.Errorf("decode summary metadata: %w", err)
	}
	return &summary, nil
}
