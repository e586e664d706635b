// Package pgstore is a Database on PostgreSQL for tuning processes that share
// one server instead of a filesystem. The layout mirrors the SQLite store:
// portable JSON text per row, ordered by a BIGSERIAL seq.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/roach88/tunedb/internal/database"
	"github.com/roach88/tunedb/internal/ir"
	"github.com/roach88/tunedb/internal/querysql"
	"github.com/roach88/tunedb/internal/recordid"
)

const recordsTable = "tunedb_tuning_records"

const schema = `
CREATE TABLE IF NOT EXISTS tunedb_workloads (
	seq      BIGSERIAL PRIMARY KEY,
	hash     TEXT NOT NULL UNIQUE,
	workload TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS tunedb_tuning_records (
	seq           BIGSERIAL PRIMARY KEY,
	id            TEXT NOT NULL UNIQUE,
	workload_hash TEXT NOT NULL REFERENCES tunedb_workloads(hash),
	record        TEXT NOT NULL,
	mean_run_secs DOUBLE PRECISION,
	target        TEXT,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_tunedb_records_rank
	ON tunedb_tuning_records(workload_hash, mean_run_secs, seq);
`

// Store wraps a PostgreSQL connection pool.
type Store struct {
	pool *pgxpool.Pool
	ids  recordid.Generator
	log  zerolog.Logger

	mu        sync.Mutex
	workloads map[ir.Hash]*database.Workload
}

var (
	_ database.Database       = (*Store)(nil)
	_ database.Verifier       = (*Store)(nil)
	_ database.WorkloadLister = (*Store)(nil)
)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) { s.log = l }
}

// WithIDGenerator replaces the UUIDv7 record id generator.
func WithIDGenerator(g recordid.Generator) Option {
	return func(s *Store) { s.ids = g }
}

// Open connects to dsn and creates the tables if needed.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing database DSN: %w", err)
	}
	config.MaxConns = 16
	config.MinConns = 1
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	s := &Store{
		pool:      pool,
		ids:       recordid.UUIDv7Generator{},
		log:       zerolog.Nop(),
		workloads: make(map[ir.Hash]*database.Workload),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log.Info().Msg("connected to PostgreSQL")
	return s, nil
}

// Close shuts down the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Truncate removes every row. Used by tests sharing one server.
func (s *Store) Truncate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `TRUNCATE tunedb_tuning_records, tunedb_workloads RESTART IDENTITY`)
	if err != nil {
		return fmt.Errorf("truncate: %w", err)
	}
	s.mu.Lock()
	s.workloads = make(map[ir.Hash]*database.Workload)
	s.mu.Unlock()
	return nil
}

func (s *Store) HasWorkload(ctx context.Context, mod *ir.Module) (bool, error) {
	h, err := ir.StructuralHash(mod)
	if err != nil {
		return false, fmt.Errorf("has workload: %w", err)
	}
	return s.hasHash(ctx, h)
}

func (s *Store) hasHash(ctx context.Context, h ir.Hash) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM tunedb_workloads WHERE hash = $1)`, h.String()).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("has workload %s: %w", h, err)
	}
	return ok, nil
}

func (s *Store) CommitWorkload(ctx context.Context, mod *ir.Module) (*database.Workload, error) {
	h, err := ir.StructuralHash(mod)
	if err != nil {
		return nil, fmt.Errorf("commit workload: %w", err)
	}
	if w := s.cached(h); w != nil {
		return w, nil
	}
	w := database.NewWorkloadWithHash(mod.Clone(), h)
	text, err := database.EncodeWorkload(w)
	if err != nil {
		return nil, fmt.Errorf("commit workload: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO tunedb_workloads (hash, workload) VALUES ($1, $2)
		ON CONFLICT (hash) DO NOTHING`, h.String(), string(text))
	if err != nil {
		return nil, fmt.Errorf("write workload %s: %w", h, err)
	}
	if tag.RowsAffected() == 1 {
		return s.remember(w), nil
	}
	stored, err := s.workload(ctx, h)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, fmt.Errorf("commit workload %s: row vanished after conflict", h)
	}
	return stored, nil
}

func (s *Store) CommitTuningRecord(ctx context.Context, rec *database.TuningRecord) error {
	if rec == nil || rec.Workload == nil || rec.Trace == nil {
		return fmt.Errorf("commit tuning record: record must have a workload and a trace")
	}
	h := rec.Workload.Hash
	w, err := s.workload(ctx, h)
	if err != nil {
		return fmt.Errorf("commit tuning record for %s: %w", h, err)
	}
	if w == nil {
		return fmt.Errorf("commit tuning record for %s: %w", h, database.ErrWorkloadNotFound)
	}
	_, text, err := database.EncodeCommittedRecord(rec, w)
	if err != nil {
		return fmt.Errorf("commit tuning record for %s: %w", h, err)
	}
	var mean *float64
	if m, ok := rec.MeanRunSecs(); ok {
		mean = &m
	}
	var tgt *string
	if rec.Target != nil {
		str := rec.Target.String()
		tgt = &str
	}
	id := s.ids.Generate()
	_, err = s.pool.Exec(ctx, `
		INSERT INTO tunedb_tuning_records (id, workload_hash, record, mean_run_secs, target)
		VALUES ($1, $2, $3, $4, $5)`, id, h.String(), string(text), mean, tgt)
	if err != nil {
		return fmt.Errorf("write tuning record %s: %w", id, err)
	}
	return nil
}

func (s *Store) GetTopK(ctx context.Context, w *database.Workload, k int) ([]*database.TuningRecord, error) {
	if k <= 0 {
		return []*database.TuningRecord{}, nil
	}
	rows, err := s.selectRecords(ctx, querysql.RankedRecords(recordsTable, w.Hash.String(), k))
	if err != nil {
		return nil, fmt.Errorf("get top %d for %s: %w", k, w.Hash, err)
	}
	return s.decodeRecords(ctx, rows)
}

func (s *Store) GetAllTuningRecords(ctx context.Context) ([]*database.TuningRecord, error) {
	rows, err := s.selectRecords(ctx, querysql.AllRecords(recordsTable))
	if err != nil {
		return nil, fmt.Errorf("get all tuning records: %w", err)
	}
	return s.decodeRecords(ctx, rows)
}

func (s *Store) Size(ctx context.Context) (int, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM tunedb_tuning_records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("size: %w", err)
	}
	return int(n), nil
}

// Workloads returns every stored workload in commit order.
func (s *Store) Workloads(ctx context.Context) ([]*database.Workload, error) {
	hashes, err := s.workloadHashes(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*database.Workload, 0, len(hashes))
	for _, h := range hashes {
		w, err := s.workload(ctx, h)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}

// Verify decodes every workload and record, collecting failures.
func (s *Store) Verify(ctx context.Context) ([]database.Problem, error) {
	hashes, err := s.workloadHashes(ctx)
	if err != nil {
		return nil, err
	}
	problems := []database.Problem{}
	for _, h := range hashes {
		if _, err := s.workload(ctx, h); err != nil {
			problems = append(problems, database.Problem{Kind: "workload", Key: h.String(), Err: err})
		}
	}
	rows, err := s.selectRecords(ctx, querysql.AllRecords(recordsTable))
	if err != nil {
		return nil, fmt.Errorf("verify: %w", err)
	}
	for _, row := range rows {
		if _, err := s.decodeRecord(ctx, row); err != nil {
			problems = append(problems, database.Problem{Kind: "record", Key: row.id, Err: err})
		}
	}
	return problems, nil
}

type recordRow struct {
	id     string
	hash   string
	record string
}

// selectRecords compiles q for Postgres and collects its rows.
func (s *Store) selectRecords(ctx context.Context, q querysql.Select) ([]recordRow, error) {
	query, args, err := querysql.Compile(querysql.Postgres, q)
	if err != nil {
		return nil, err
	}
	return s.queryRecords(ctx, query, args...)
}

func (s *Store) queryRecords(ctx context.Context, query string, args ...any) ([]recordRow, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (recordRow, error) {
		var r recordRow
		err := row.Scan(&r.id, &r.hash, &r.record)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan tuning records: %w", err)
	}
	if out == nil {
		out = []recordRow{}
	}
	return out, nil
}

func (s *Store) workloadHashes(ctx context.Context) ([]ir.Hash, error) {
	rows, err := s.pool.Query(ctx, `SELECT hash FROM tunedb_workloads ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("list workloads: %w", err)
	}
	texts, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("list workloads: %w", err)
	}
	hashes := make([]ir.Hash, 0, len(texts))
	for _, text := range texts {
		h, err := ir.ParseHash(text)
		if err != nil {
			return nil, fmt.Errorf("list workloads: %w", err)
		}
		hashes = append(hashes, h)
	}
	return hashes, nil
}

func (s *Store) decodeRecords(ctx context.Context, rows []recordRow) ([]*database.TuningRecord, error) {
	out := make([]*database.TuningRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := s.decodeRecord(ctx, row)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *Store) decodeRecord(ctx context.Context, row recordRow) (*database.TuningRecord, error) {
	h, err := ir.ParseHash(row.hash)
	if err != nil {
		return nil, fmt.Errorf("tuning record %s: %w", row.id, err)
	}
	w, err := s.workload(ctx, h)
	if err != nil {
		return nil, fmt.Errorf("tuning record %s: %w", row.id, err)
	}
	if w == nil {
		return nil, fmt.Errorf("tuning record %s: %w", row.id, database.ErrWorkloadNotFound)
	}
	rec, err := database.DecodeTuningRecord([]byte(row.record), w)
	if err != nil {
		s.log.Error().Err(err).Str("record", row.id).Str("workload", row.hash).Msg("stored tuning record failed to decode")
		return nil, fmt.Errorf("tuning record %s: %w", row.id, err)
	}
	return rec, nil
}

func (s *Store) workload(ctx context.Context, h ir.Hash) (*database.Workload, error) {
	if w := s.cached(h); w != nil {
		return w, nil
	}
	var text string
	err := s.pool.QueryRow(ctx, `SELECT workload FROM tunedb_workloads WHERE hash = $1`, h.String()).Scan(&text)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read workload %s: %w", h, err)
	}
	w, err := database.DecodeWorkloadKeyed([]byte(text), h)
	if err != nil {
		s.log.Error().Err(err).Str("workload", h.String()).Msg("stored workload failed to decode")
		return nil, fmt.Errorf("read workload %s: %w", h, err)
	}
	return s.remember(w), nil
}

func (s *Store) cached(h ir.Hash) *database.Workload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.workloads[h]
}

func (s *Store) remember(w *database.Workload) *database.Workload {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.workloads[w.Hash]; ok {
		return prev
	}
	s.workloads[w.Hash] = w
	return w
}
