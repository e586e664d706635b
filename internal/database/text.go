package database

import (
	"errors"
	"fmt"

	"github.com/roach88/tunedb/internal/ir"
)

// rawLimit bounds how much of an undecodable entry is kept in a DecodeError.
const rawLimit = 256

// EncodeWorkload renders the portable form of w as one line of JSON text,
// the unit every persistent backend stores.
func EncodeWorkload(w *Workload) ([]byte, error) {
	v, err := w.AsJSON()
	if err != nil {
		return nil, err
	}
	return ir.MarshalValue(v)
}

// EncodeCommittedRecord renders rec for storage under w, the stored
// workload, and decodes the text back against w first. A record that would
// not read back, such as one whose trace does not replay on w, is rejected
// with a MALFORMED_RECORD DecodeError and nothing should be written.
func EncodeCommittedRecord(rec *TuningRecord, w *Workload) (ir.IRValue, []byte, error) {
	v, err := rec.AsJSON()
	if err != nil {
		return nil, nil, err
	}
	text, err := ir.MarshalValue(v)
	if err != nil {
		return nil, nil, err
	}
	if _, err := DecodeTuningRecord(text, w); err != nil {
		var de *DecodeError
		if errors.As(err, &de) && de.Code == ErrCodeMalformedRecord {
			return nil, nil, err
		}
		return nil, nil, malformed(RawText(text), err, "tuning record does not read back")
	}
	return v, text, nil
}

// DecodeWorkload parses text written by EncodeWorkload and verifies its hash.
// Text that is not JSON at all is reported as corruption.
func DecodeWorkload(data []byte) (*Workload, error) {
	v, err := ir.ParseValue(data)
	if err != nil {
		return nil, corruption(RawText(data), err, "workload: stored text is not JSON")
	}
	return WorkloadFromJSON(v)
}

// DecodeWorkloadKeyed is DecodeWorkload for entries stored under a hash key.
// A workload that decodes to a different hash is corruption.
func DecodeWorkloadKeyed(data []byte, key ir.Hash) (*Workload, error) {
	w, err := DecodeWorkload(data)
	if err != nil {
		return nil, err
	}
	if w.Hash != key {
		return nil, corruption(RawText(data), nil, "workload stored under %s decodes to %s", key, w.Hash)
	}
	return w, nil
}

// DecodeTuningRecord parses text written by EncodeCommittedRecord and binds the
// record to w.
func DecodeTuningRecord(data []byte, w *Workload) (*TuningRecord, error) {
	v, err := ir.ParseValue(data)
	if err != nil {
		return nil, corruption(RawText(data), err, "tuning record: stored text is not JSON")
	}
	return TuningRecordFromJSON(v, w)
}

// RawText wraps stored bytes for DecodeError.Raw, truncated.
func RawText(data []byte) ir.IRValue {
	if len(data) > rawLimit {
		return ir.IRString(fmt.Sprintf("%s...", data[:rawLimit]))
	}
	return ir.IRString(data)
}
