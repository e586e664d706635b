// Package boltdb implements database.Database on bbolt (embedded B+ tree).
// Workloads live in one bucket keyed by hash. Records live in a sub-bucket
// per workload, keyed by a big-endian sequence number so a cursor walks
// them in commit order. Writes are transactional: a crash mid-commit
// cannot corrupt previously committed data.
package boltdb

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"

	"github.com/roach88/tunedb/internal/database"
	"github.com/roach88/tunedb/internal/ir"
)

// Bucket keys
var (
	bucketWorkloads = []byte("workloads")
	bucketRecords   = []byte("records")
)

// Store implements database.Database backed by bbolt.
type Store struct {
	db  *bolt.DB
	log zerolog.Logger

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

// WithLogger sets the logger for decode failures.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) { s.log = l }
}

// Open opens (or creates) a bbolt database at path.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("bbolt open: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketWorkloads, bucketRecords} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db, log: zerolog.Nop(), workloads: make(map[ir.Hash]*database.Workload)}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the underlying bbolt database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) HasWorkload(_ context.Context, mod *ir.Module) (bool, error) {
	h, err := ir.StructuralHash(mod)
	if err != nil {
		return false, fmt.Errorf("has workload: %w", err)
	}
	var ok bool
	err = s.db.View(func(tx *bolt.Tx) error {
		ok = tx.Bucket(bucketWorkloads).Get(h[:]) != nil
		return nil
	})
	return ok, err
}

func (s *Store) CommitWorkload(_ context.Context, mod *ir.Module) (*database.Workload, error) {
	h, err := ir.StructuralHash(mod)
	if err != nil {
		return nil, fmt.Errorf("commit workload: %w", err)
	}
	if w := s.cached(h); w != nil {
		return w, nil
	}

	fresh := database.NewWorkloadWithHash(mod.Clone(), h)
	text, err := database.EncodeWorkload(fresh)
	if err != nil {
		return nil, fmt.Errorf("commit workload %s: %w", h, err)
	}
	var stored []byte
	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketWorkloads)
		if v := b.Get(h[:]); v != nil {
			stored = bytes.Clone(v)
			return nil
		}
		return b.Put(h[:], text)
	})
	if err != nil {
		return nil, fmt.Errorf("write workload %s: %w", h, err)
	}
	if stored == nil {
		return s.remember(fresh), nil
	}
	w, err := database.DecodeWorkloadKeyed(stored, h)
	if err != nil {
		s.log.Error().Err(err).Str("workload", h.String()).Msg("stored workload failed to decode")
		return nil, fmt.Errorf("read workload %s: %w", h, err)
	}
	return s.remember(w), nil
}

func (s *Store) CommitTuningRecord(_ context.Context, rec *database.TuningRecord) error {
	if rec == nil || rec.Workload == nil || rec.Trace == nil {
		return fmt.Errorf("commit tuning record: record must have a workload and a trace")
	}
	h := rec.Workload.Hash
	return s.db.Update(func(tx *bolt.Tx) error {
		stored := tx.Bucket(bucketWorkloads).Get(h[:])
		if stored == nil {
			return fmt.Errorf("commit tuning record for %s: %w", h, database.ErrWorkloadNotFound)
		}
		w, err := s.decodeWorkload(entry{hash: h, workload: stored})
		if err != nil {
			return fmt.Errorf("commit tuning record for %s: %w", h, err)
		}
		_, text, err := database.EncodeCommittedRecord(rec, w)
		if err != nil {
			return fmt.Errorf("commit tuning record for %s: %w", h, err)
		}
		all := tx.Bucket(bucketRecords)
		b, err := all.CreateBucketIfNotExists(h[:])
		if err != nil {
			return err
		}
		// The sequence lives on the parent bucket so keys are globally
		// ordered across workloads.
		seq, err := all.NextSequence()
		if err != nil {
			return err
		}
		return b.Put(seqKey(seq), text)
	})
}

func (s *Store) GetTopK(_ context.Context, w *database.Workload, k int) ([]*database.TuningRecord, error) {
	if k <= 0 {
		return []*database.TuningRecord{}, nil
	}
	entries, err := s.scan(&w.Hash)
	if err != nil {
		return nil, fmt.Errorf("get top %d for %s: %w", k, w.Hash, err)
	}
	recs, err := s.decodeAll(entries)
	if err != nil {
		return nil, err
	}
	return database.RankTopK(recs, k), nil
}

func (s *Store) GetAllTuningRecords(_ context.Context) ([]*database.TuningRecord, error) {
	entries, err := s.scan(nil)
	if err != nil {
		return nil, fmt.Errorf("get all tuning records: %w", err)
	}
	return s.decodeAll(entries)
}

func (s *Store) Size(_ context.Context) (int, error) {
	n := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRecords).ForEachBucket(func(k []byte) error {
			n += tx.Bucket(bucketRecords).Bucket(k).Stats().KeyN
			return nil
		})
	})
	if err != nil {
		return 0, fmt.Errorf("size: %w", err)
	}
	return n, nil
}

// Workloads returns every stored workload in hash order.
func (s *Store) Workloads(_ context.Context) ([]*database.Workload, error) {
	entries, err := s.workloadEntries()
	if err != nil {
		return nil, err
	}
	out := make([]*database.Workload, 0, len(entries))
	for _, e := range entries {
		w, err := s.decodeWorkload(e)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}

// Verify decodes every workload and record, collecting failures.
func (s *Store) Verify(_ context.Context) ([]database.Problem, error) {
	wentries, err := s.workloadEntries()
	if err != nil {
		return nil, err
	}
	problems := []database.Problem{}
	for _, e := range wentries {
		if _, err := s.decodeWorkload(e); err != nil {
			problems = append(problems, database.Problem{Kind: "workload", Key: e.hash.String(), Err: err})
		}
	}
	entries, err := s.scan(nil)
	if err != nil {
		return nil, fmt.Errorf("verify: %w", err)
	}
	for _, e := range entries {
		if _, err := s.decode(e); err != nil {
			key := fmt.Sprintf("%s/%d", e.hash, e.seq)
			problems = append(problems, database.Problem{Kind: "record", Key: key, Err: err})
		}
	}
	return problems, nil
}

// entry is a raw value copied out of a transaction.
type entry struct {
	hash     ir.Hash
	seq      uint64
	value    []byte
	workload []byte
}

// scan copies out every record of one workload (only, if non-nil) or of all
// workloads, sorted by sequence. Bytes from bbolt are only valid inside the
// transaction.
func (s *Store) scan(only *ir.Hash) ([]entry, error) {
	var out []entry
	err := s.db.View(func(tx *bolt.Tx) error {
		workloads := tx.Bucket(bucketWorkloads)
		all := tx.Bucket(bucketRecords)
		visit := func(name []byte) error {
			var h ir.Hash
			if len(name) != len(h) {
				return fmt.Errorf("record bucket key has %d bytes", len(name))
			}
			copy(h[:], name)
			b := all.Bucket(name)
			wtext := bytes.Clone(workloads.Get(name))
			return b.ForEach(func(k, v []byte) error {
				out = append(out, entry{hash: h, seq: binary.BigEndian.Uint64(k), value: bytes.Clone(v), workload: wtext})
				return nil
			})
		}
		if only != nil {
			if all.Bucket(only[:]) == nil {
				return nil
			}
			return visit(only[:])
		}
		return all.ForEachBucket(visit)
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(out, func(a, b entry) int {
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		}
		return 0
	})
	return out, nil
}

func (s *Store) workloadEntries() ([]entry, error) {
	var out []entry
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketWorkloads).ForEach(func(k, v []byte) error {
			var h ir.Hash
			copy(h[:], k)
			out = append(out, entry{hash: h, workload: bytes.Clone(v)})
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list workloads: %w", err)
	}
	return out, nil
}

func (s *Store) decodeAll(entries []entry) ([]*database.TuningRecord, error) {
	out := make([]*database.TuningRecord, 0, len(entries))
	for _, e := range entries {
		rec, err := s.decode(e)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *Store) decode(e entry) (*database.TuningRecord, error) {
	w, err := s.decodeWorkload(e)
	if err != nil {
		return nil, fmt.Errorf("tuning record %s/%d: %w", e.hash, e.seq, err)
	}
	rec, err := database.DecodeTuningRecord(e.value, w)
	if err != nil {
		s.log.Error().Err(err).Str("workload", e.hash.String()).Uint64("seq", e.seq).Msg("stored tuning record failed to decode")
		return nil, fmt.Errorf("tuning record %s/%d: %w", e.hash, e.seq, err)
	}
	return rec, nil
}

func (s *Store) decodeWorkload(e entry) (*database.Workload, error) {
	if w := s.cached(e.hash); w != nil {
		return w, nil
	}
	if e.workload == nil {
		return nil, fmt.Errorf("workload %s: %w", e.hash, database.ErrWorkloadNotFound)
	}
	w, err := database.DecodeWorkloadKeyed(e.workload, e.hash)
	if err != nil {
		s.log.Error().Err(err).Str("workload", e.hash.String()).Msg("stored workload failed to decode")
		return nil, fmt.Errorf("read workload %s: %w", e.hash, err)
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

func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}
