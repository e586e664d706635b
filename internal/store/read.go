package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/tunedb/internal/database"
	"github.com/roach88/tunedb/internal/ir"
	"github.com/roach88/tunedb/internal/querysql"
)

const recordsTable = "tuning_records"

// recordRow is an undecoded tuning_records row. Rows are collected before
// decoding because decoding may query the workloads table, and the pool
// holds a single connection.
type recordRow struct {
	id     string
	hash   string
	record string
}

// GetTopK returns the k fastest measured records of w.
// Ordering: mean_run_secs ASC, seq ASC, so equal means keep commit order.
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

// GetAllTuningRecords returns every record in commit order.
func (s *Store) GetAllTuningRecords(ctx context.Context) ([]*database.TuningRecord, error) {
	rows, err := s.selectRecords(ctx, querysql.AllRecords(recordsTable))
	if err != nil {
		return nil, fmt.Errorf("get all tuning records: %w", err)
	}
	return s.decodeRecords(ctx, rows)
}

// Size returns the number of stored records.
func (s *Store) Size(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tuning_records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("size: %w", err)
	}
	return n, nil
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

func (s *Store) workloadHashes(ctx context.Context) ([]ir.Hash, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT hash FROM workloads ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("list workloads: %w", err)
	}
	defer rows.Close()

	hashes := []ir.Hash{}
	for rows.Next() {
		var text string
		if err := rows.Scan(&text); err != nil {
			return nil, fmt.Errorf("scan workload hash: %w", err)
		}
		h, err := ir.ParseHash(text)
		if err != nil {
			return nil, fmt.Errorf("list workloads: %w", err)
		}
		hashes = append(hashes, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate workloads: %w", err)
	}
	return hashes, nil
}

// selectRecords compiles q for SQLite and collects its rows.
func (s *Store) selectRecords(ctx context.Context, q querysql.Select) ([]recordRow, error) {
	query, args, err := querysql.Compile(querysql.SQLite, q)
	if err != nil {
		return nil, err
	}
	return s.queryRecords(ctx, query, args...)
}

func (s *Store) queryRecords(ctx context.Context, query string, args ...any) ([]recordRow, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []recordRow{}
	for rows.Next() {
		var r recordRow
		if err := rows.Scan(&r.id, &r.hash, &r.record); err != nil {
			return nil, fmt.Errorf("scan tuning record: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tuning records: %w", err)
	}
	return out, nil
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

// workload returns the canonical decoded workload for h, or nil if no row
// exists. Decoded workloads are cached; the hash is verified once per Store.
func (s *Store) workload(ctx context.Context, h ir.Hash) (*database.Workload, error) {
	if w := s.cached(h); w != nil {
		return w, nil
	}
	var text string
	err := s.db.QueryRowContext(ctx, `SELECT workload FROM workloads WHERE hash = ?`, h.String()).Scan(&text)
	if errors.Is(err, sql.ErrNoRows) {
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
