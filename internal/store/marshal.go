package store

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/roach88/recipesync/internal/ir"
)

// marshalRecord converts a record to canonical JSON TEXT for storage.
// Canonical form keeps the stored text stable across writers, so the same
// record always hashes and compares the same.
func marshalRecord(rec ir.Record) (string, error) {
	if rec == nil {
		rec = ir.Record{}
	}
	data, err := ir.MarshalCanonical(rec)
	if err != nil {
		return "", fmt.Errorf("marshal record: %w", err)
	}
	return string(data), nil
}

// marshalRows stores query rows as one canonical JSON array.
// Queries leave the output column NULL and actions leave rows NULL, which is
// how scanAction tells an empty result apart from a missing one.
func marshalRows(rows []ir.Record) (string, error) {
	arr := make(ir.Array, len(rows))
	for i, r := range rows {
		arr[i] = r
	}
	data, err := ir.MarshalCanonical(arr)
	if err != nil {
		return "", fmt.Errorf("marshal rows: %w", err)
	}
	return string(data), nil
}

// unmarshalRecord parses stored JSON TEXT. Integers decode through
// json.Number, so values above 2^53 survive.
func unmarshalRecord(data string) (ir.Record, error) {
	if data == "" || data == "{}" {
		return ir.Record{}, nil
	}
	var rec ir.Record
	if err := rec.UnmarshalJSON([]byte(data)); err != nil {
		return nil, fmt.Errorf("unmarshal record: %w", err)
	}
	return rec, nil
}

// unmarshalRows is the inverse of marshalRows. Every element must be an
// object; anything else means the column was written by something other
// than RecordAction.
func unmarshalRows(data string) ([]ir.Record, error) {
	v, err := ir.DecodeJSON([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("unmarshal rows: %w", err)
	}
	arr, ok := v.(ir.Array)
	if !ok {
		return nil, fmt.Errorf("unmarshal rows: expected array, got %T", v)
	}
	rows := make([]ir.Record, len(arr))
	for i, elem := range arr {
		rec, ok := elem.(ir.Record)
		if !ok {
			return nil, fmt.Errorf("unmarshal rows: row %d is %T", i, elem)
		}
		rows[i] = rec
	}
	return rows, nil
}

// recordKey joins matched record ids for the firings uniqueness constraint.
// Record ids are hex digests, so a comma never occurs inside one and the
// join is unambiguous. Order is when-clause order and is significant.
func recordKey(ids []string) string {
	return strings.Join(ids, ",")
}

func splitRecordKey(key string) []string {
	if key == "" {
		return []string{}
	}
	return strings.Split(key, ",")
}

// nullString maps "" to SQL NULL, for optional columns such as cause.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func parseKind(s string) (ir.OpKind, error) {
	switch s {
	case ir.KindAction.String():
		return ir.KindAction, nil
	case ir.KindQuery.String():
		return ir.KindQuery, nil
	default:
		return 0, fmt.Errorf("unknown operation kind %q", s)
	}
}
