package queue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"
)

var expectedJobColumns = strings.Split(strings.ReplaceAll(jobColumns, " ", ""), ",")

// Stats counts jobs per status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(orBackground(ctx), `SELECT status, COUNT(1) FROM evaluation_jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var (
			status Status
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan job stats: %w", err)
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// Health folds Stats into the summary served by /api/health.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return HealthSummary{}, err
	}
	summary := HealthSummary{
		Pending:    stats[StatusPending],
		Processing: stats[StatusProcessing],
		Failed:     stats[StatusFailed],
		Completed:  stats[StatusCompleted],
		Cancelled:  stats[StatusCancelled],
	}
	for _, n := range stats {
		summary.Total += n
	}
	return summary, nil
}

// CheckHealth inspects the database file, schema, and integrity. A missing
// file is reported in the result, not as an error.
func (s *Store) CheckHealth(ctx context.Context) (DatabaseHealth, error) {
	health := DatabaseHealth{DBPath: s.path}
	if s.path == "" {
		return health, errors.New("job database path is unknown")
	}
	info, err := os.Stat(s.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return health, nil
	case err != nil:
		return health, fmt.Errorf("stat job database: %w", err)
	case info.IsDir():
		return health, fmt.Errorf("job database path %q is a directory", s.path)
	}
	health.DatabaseExists = true
	if s.db == nil {
		return health, errors.New("job database connection unavailable")
	}

	ctx, cancel := context.WithTimeout(orBackground(ctx), 2*time.Second)
	defer cancel()
	fail := func(err error) (DatabaseHealth, error) {
		health.Error = err.Error()
		return health, err
	}

	if err := s.db.PingContext(ctx); err != nil {
		return fail(fmt.Errorf("ping job database: %w", err))
	}
	health.DatabaseReadable = true
	if version, err := s.readSchemaVersion(ctx); err == nil {
		health.SchemaVersion = version
	}

	columns, err := s.columnNames(ctx, "evaluation_jobs")
	if err != nil {
		return fail(err)
	}
	health.ColumnsPresent = columns
	health.TableExists = len(columns) > 0
	if health.TableExists {
		for _, col := range expectedJobColumns {
			if !slices.Contains(columns, col) {
				health.MissingColumns = append(health.MissingColumns, col)
			}
		}
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM evaluation_jobs").Scan(&health.TotalJobs); err != nil {
			return fail(fmt.Errorf("count jobs: %w", err))
		}
	}

	var verdict string
	if err := s.db.QueryRowContext(ctx, "PRAGMA quick_check").Scan(&verdict); err != nil {
		return fail(fmt.Errorf("integrity check: %w", err))
	}
	health.IntegrityCheck = strings.EqualFold(verdict, "ok")
	return health, nil
}

// columnNames lists table's columns; an absent table yields none.
func (s *Store) columnNames(ctx context.Context, table string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name FROM pragma_table_info(?)", table)
	if err != nil {
		return nil, fmt.Errorf("table info: %w", err)
	}
	defer rows.Close()
	var columns []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table info: %w", err)
		}
		columns = append(columns, name)
	}
	return columns, rows.Err()
}
