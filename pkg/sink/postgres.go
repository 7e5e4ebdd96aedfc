package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/Sternrassler/swisscom-heatmap-loader/pkg/heatmap"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/twpayne/go-geom/encoding/ewkb"
)

// DefaultTable receives the rows written by PostgresSink.
const DefaultTable = "heatmap_densities"

// Columns lists the COPY target columns in row order.
var Columns = []string{"run_id", "target_date", "tile_id", "density", "location", "created_at"}

// Pool is the subset of *pgxpool.Pool used by PostgresSink.
type Pool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresSink copies batches into a PostGIS table.
type PostgresSink struct {
	pool  Pool
	table string
}

// NewPostgresSink creates a sink writing to table (DefaultTable if empty).
func NewPostgresSink(pool Pool, table string) *PostgresSink {
	if table == "" {
		table = DefaultTable
	}
	return &PostgresSink{pool: pool, table: table}
}

// EnsureSchema creates the target table and its day index if missing.
// The database needs the postgis extension.
func (s *PostgresSink) EnsureSchema(ctx context.Context) error {
	table := pgx.Identifier{s.table}.Sanitize()
	index := pgx.Identifier{s.table + "_target_date_idx"}.Sanitize()

	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			run_id      uuid             NOT NULL,
			target_date date             NOT NULL,
			tile_id     text             NOT NULL,
			density     double precision NOT NULL,
			location    geometry(Point, 4326) NOT NULL,
			created_at  timestamptz      NOT NULL
		)`, table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (target_date)`, index, table),
	}

	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema for %s: %w", s.table, err)
		}
	}
	return nil
}

// WriteBatch copies all records of b in one transaction.
func (s *PostgresSink) WriteBatch(ctx context.Context, b heatmap.Batch) (err error) {
	start := time.Now()
	defer func() {
		WriteDuration.WithLabelValues("postgres").Observe(time.Since(start).Seconds())
		observe("postgres", len(b.Records), err)
	}()

	if len(b.Records) == 0 {
		return nil
	}

	rows, err := encodeRows(b)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	n, err := tx.CopyFrom(ctx, pgx.Identifier{s.table}, Columns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("copy into %s: %w", s.table, err)
	}
	if n != int64(len(rows)) {
		return fmt.Errorf("copy into %s: wrote %d of %d rows", s.table, n, len(rows))
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func encodeRows(b heatmap.Batch) ([][]any, error) {
	rows := make([][]any, len(b.Records))
	for i, rec := range b.Records {
		location, err := ewkb.Marshal(rec.Location.Geom(), ewkb.NDR)
		if err != nil {
			return nil, fmt.Errorf("encode location of tile %s: %w", rec.TileID, err)
		}
		rows[i] = []any{
			b.RunID,
			b.TargetDate,
			string(rec.TileID),
			rec.Density,
			location,
			b.CreatedAt,
		}
	}
	return rows, nil
}
