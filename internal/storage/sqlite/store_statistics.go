package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/open-workshop/workshop-cache/internal/storage"
)

func bucketTable(g storage.Granularity) (string, error) {
	switch g {
	case storage.Hourly:
		return "statistics_hour", nil
	case storage.Daily:
		return "statistics_day", nil
	default:
		return "", fmt.Errorf("unknown granularity %q", g)
	}
}

// AddBuckets adds each bucket's count to the persisted counter.
func (s *Store) AddBuckets(ctx context.Context, g storage.Granularity, buckets []storage.Bucket) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	table, err := bucketTable(g)
	if err != nil {
		return err
	}
	if len(buckets) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO `+table+` (type, bucket, count) VALUES (?, ?, ?)
			 ON CONFLICT(type, bucket) DO UPDATE SET count = count + excluded.count`)
		if err != nil {
			return fmt.Errorf("prepare bucket upsert: %w", err)
		}
		defer stmt.Close()
		for _, b := range buckets {
			if _, err := stmt.ExecContext(ctx, b.Type, toMillis(b.Time), b.Count); err != nil {
				return fmt.Errorf("upsert bucket: %w", err)
			}
		}
		return nil
	})
}

// QueryBuckets returns buckets whose time lies in [start, end].
func (s *Store) QueryBuckets(ctx context.Context, g storage.Granularity, start, end time.Time) ([]storage.Bucket, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	table, err := bucketTable(g)
	if err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT type, bucket, count FROM `+table+` WHERE bucket BETWEEN ? AND ? ORDER BY bucket, type`,
		toMillis(start), toMillis(end),
	)
	if err != nil {
		return nil, fmt.Errorf("query buckets: %w", err)
	}
	defer rows.Close()
	buckets := []storage.Bucket{}
	for rows.Next() {
		var (
			b      storage.Bucket
			millis int64
		)
		if err := rows.Scan(&b.Type, &millis, &b.Count); err != nil {
			return nil, fmt.Errorf("scan bucket: %w", err)
		}
		b.Time = fromMillis(millis)
		buckets = append(buckets, b)
	}
	return buckets, rows.Err()
}

// TotalsByType sums every daily bucket per event type.
func (s *Store) TotalsByType(ctx context.Context) (map[string]int64, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT type, SUM(count) FROM statistics_day GROUP BY type`)
	if err != nil {
		return nil, fmt.Errorf("query totals: %w", err)
	}
	defer rows.Close()
	totals := make(map[string]int64)
	for rows.Next() {
		var (
			kind  string
			total int64
		)
		if err := rows.Scan(&kind, &total); err != nil {
			return nil, fmt.Errorf("scan total: %w", err)
		}
		totals[kind] = total
	}
	return totals, rows.Err()
}
