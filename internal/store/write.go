package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/tunedb/internal/database"
	"github.com/roach88/tunedb/internal/ir"
)

// HasWorkload reports whether a workload with mod's hash is stored.
func (s *Store) HasWorkload(ctx context.Context, mod *ir.Module) (bool, error) {
	h, err := ir.StructuralHash(mod)
	if err != nil {
		return false, fmt.Errorf("has workload: %w", err)
	}
	return s.hasHash(ctx, h)
}

func (s *Store) hasHash(ctx context.Context, h ir.Hash) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM workloads WHERE hash = ?`, h.String()).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("has workload %s: %w", h, err)
	}
	return n > 0, nil
}

// CommitWorkload inserts mod unless its hash is already stored.
// Uses ON CONFLICT DO NOTHING; the stored row always wins, so every caller
// gets the workload decoded from the first commit.
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
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO workloads (hash, workload) VALUES (?, ?)
		ON CONFLICT(hash) DO NOTHING
	`, h.String(), string(text))
	if err != nil {
		return nil, fmt.Errorf("write workload %s: %w", h, err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("write workload %s: %w", h, err)
	}
	if inserted == 1 {
		s.log.Debug().Str("workload", h.String()).Msg("workload committed")
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

// CommitTuningRecord appends rec under a fresh record id.
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
	var mean sql.NullFloat64
	if m, ok := rec.MeanRunSecs(); ok {
		mean = sql.NullFloat64{Float64: m, Valid: true}
	}
	var tgt sql.NullString
	if rec.Target != nil {
		tgt = sql.NullString{String: rec.Target.String(), Valid: true}
	}

	id := s.ids.Generate()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tuning_records (id, workload_hash, record, mean_run_secs, target)
		VALUES (?, ?, ?, ?, ?)
	`, id, h.String(), string(text), mean, tgt)
	if err != nil {
		return fmt.Errorf("write tuning record %s: %w", id, err)
	}
	return nil
}

func (s *Store) cached(h ir.Hash) *database.Workload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.workloads[h]
}

// remember caches w unless another goroutine cached the same hash first,
// in which case that handle is returned.
func (s *Store) remember(w *database.Workload) *database.Workload {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.workloads[w.Hash]; ok {
		return prev
	}
	s.workloads[w.Hash] = w
	return w
}
