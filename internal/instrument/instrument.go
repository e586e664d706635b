// Package instrument decorates a Database with Prometheus metrics,
// OpenTelemetry spans and zerolog logging.
package instrument

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/tunedb/internal/database"
	"github.com/roach88/tunedb/internal/ir"
)

const tracerName = "github.com/roach88/tunedb"

// Common attribute keys for database spans.
var (
	AttrWorkload = attribute.Key("tunedb.workload.hash")
	AttrK        = attribute.Key("tunedb.topk.k")
	AttrReturned = attribute.Key("tunedb.records.returned")
)

// DB wraps a Database. Optional backend capabilities (Verifier,
// WorkloadLister, io.Closer) are forwarded; when the wrapped backend lacks
// one, the method returns database.ErrNotImplemented (Close returns nil).
type DB struct {
	inner   database.Database
	metrics *Metrics
	tracer  trace.Tracer
	log     zerolog.Logger
}

var (
	_ database.Database       = (*DB)(nil)
	_ database.Verifier       = (*DB)(nil)
	_ database.WorkloadLister = (*DB)(nil)
	_ io.Closer               = (*DB)(nil)
)

// Wrap decorates inner. A nil metrics disables Prometheus collection; spans
// go to the global TracerProvider, a no-op unless the process installs one.
func Wrap(inner database.Database, metrics *Metrics, log zerolog.Logger) *DB {
	return &DB{inner: inner, metrics: metrics, tracer: otel.Tracer(tracerName), log: log}
}

// Unwrap returns the decorated Database.
func (d *DB) Unwrap() database.Database { return d.inner }

// observe opens a span for op and returns the function that closes it.
func (d *DB) observe(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	ctx, span := d.tracer.Start(ctx, fmt.Sprintf("tunedb.%s", op), trace.WithAttributes(attrs...))
	start := time.Now()
	return ctx, func(err error) {
		elapsed := time.Since(start)
		status := "ok"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			d.logError(op, err)
		}
		span.End()
		if d.metrics != nil {
			d.metrics.OperationsTotal.WithLabelValues(op, status).Inc()
			d.metrics.OperationDuration.WithLabelValues(op).Observe(elapsed.Seconds())
		}
		d.log.Debug().Str("op", op).Dur("elapsed", elapsed).Err(err).Msg("database operation")
	}
}

// logError reports decode failures at error level with their code and a
// prefix of the raw entry. Other failures are left to the caller.
func (d *DB) logError(op string, err error) {
	var de *database.DecodeError
	if !errors.As(err, &de) {
		return
	}
	if d.metrics != nil {
		d.metrics.DecodeErrors.WithLabelValues(string(de.Code)).Inc()
	}
	d.log.Error().
		Str("op", op).
		Str("code", string(de.Code)).
		Str("raw", de.RawString(200)).
		Err(err).
		Msg("stored entry failed to decode")
}

func hashAttr(h ir.Hash) attribute.KeyValue {
	return AttrWorkload.String(h.String())
}

func (d *DB) HasWorkload(ctx context.Context, mod *ir.Module) (bool, error) {
	ctx, done := d.observe(ctx, "has_workload")
	ok, err := d.inner.HasWorkload(ctx, mod)
	done(err)
	return ok, err
}

func (d *DB) CommitWorkload(ctx context.Context, mod *ir.Module) (*database.Workload, error) {
	ctx, done := d.observe(ctx, "commit_workload")
	w, err := d.inner.CommitWorkload(ctx, mod)
	done(err)
	if err == nil && d.metrics != nil {
		d.metrics.WorkloadsCommitted.Inc()
	}
	return w, err
}

func (d *DB) CommitTuningRecord(ctx context.Context, rec *database.TuningRecord) error {
	var attrs []attribute.KeyValue
	if rec != nil && rec.Workload != nil {
		attrs = append(attrs, hashAttr(rec.Workload.Hash))
	}
	ctx, done := d.observe(ctx, "commit_tuning_record", attrs...)
	err := d.inner.CommitTuningRecord(ctx, rec)
	done(err)
	if err == nil && d.metrics != nil {
		d.metrics.RecordsCommitted.Inc()
	}
	return err
}

func (d *DB) GetTopK(ctx context.Context, w *database.Workload, k int) ([]*database.TuningRecord, error) {
	ctx, done := d.observe(ctx, "get_top_k", hashAttr(w.Hash), AttrK.Int(k))
	recs, err := d.inner.GetTopK(ctx, w, k)
	if err == nil {
		trace.SpanFromContext(ctx).SetAttributes(AttrReturned.Int(len(recs)))
		if d.metrics != nil {
			d.metrics.TopKReturned.Observe(float64(len(recs)))
		}
	}
	done(err)
	return recs, err
}

func (d *DB) GetAllTuningRecords(ctx context.Context) ([]*database.TuningRecord, error) {
	ctx, done := d.observe(ctx, "get_all_tuning_records")
	recs, err := d.inner.GetAllTuningRecords(ctx)
	if err == nil {
		trace.SpanFromContext(ctx).SetAttributes(AttrReturned.Int(len(recs)))
	}
	done(err)
	return recs, err
}

func (d *DB) Size(ctx context.Context) (int, error) {
	ctx, done := d.observe(ctx, "size")
	n, err := d.inner.Size(ctx)
	done(err)
	return n, err
}

func (d *DB) Verify(ctx context.Context) ([]database.Problem, error) {
	v, ok := d.inner.(database.Verifier)
	if !ok {
		return nil, database.ErrNotImplemented
	}
	ctx, done := d.observe(ctx, "verify")
	problems, err := v.Verify(ctx)
	done(err)
	for _, p := range problems {
		d.logError("verify", p.Err)
	}
	return problems, err
}

func (d *DB) Workloads(ctx context.Context) ([]*database.Workload, error) {
	l, ok := d.inner.(database.WorkloadLister)
	if !ok {
		return nil, database.ErrNotImplemented
	}
	ctx, done := d.observe(ctx, "workloads")
	ws, err := l.Workloads(ctx)
	done(err)
	return ws, err
}

func (d *DB) Close() error {
	if c, ok := d.inner.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
