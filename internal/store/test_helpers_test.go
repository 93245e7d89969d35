package store

import (
	"path/filepath"
	"testing"

	"github.com/roach88/recipesync/internal/ir"
)

// createTestStore creates a new store in a temp dir for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// testAction builds a completed action with a content-addressed id.
func testAction(flow string, seq int64, op ir.OpRef, input, output ir.Record) ir.ActionRecord {
	return ir.ActionRecord{
		ID:     ir.MustRecordID(flow, op, input, seq),
		Flow:   flow,
		Seq:    seq,
		Op:     op,
		Kind:   ir.KindAction,
		Input:  input,
		Output: output,
	}
}

// testFiring builds a firing over the given matched records.
func testFiring(flow, rule string, seq int64, frame ir.Record, records ...string) ir.Firing {
	key := ir.MatchKey(rule, records)
	hash := ir.MustBindingHash(frame)
	return ir.Firing{
		ID:          ir.FiringID(key, hash, 0),
		Flow:        flow,
		Rule:        rule,
		MatchKey:    key,
		RecordIDs:   records,
		BindingHash: hash,
		Frame:       frame,
		Seq:         seq,
	}
}
