package store

import (
	"context"
	"reflect"
	"testing"

	"github.com/roach88/recipesync/internal/ir"
)

var (
	opRegister = ir.Op("Authentication", "register")
	opSchedule = ir.Op("Calendar", "_getScheduledRecipes")
)

func TestRecordAction_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	rec := testAction("flow-1", 1, opRegister,
		ir.Record{"username": ir.String("alice"), "age": ir.Int(30), "tags": ir.Array{ir.String("a")}},
		ir.Record{"user": ir.String("u1")},
	)
	if err := s.RecordAction(ctx, rec); err != nil {
		t.Fatalf("RecordAction() failed: %v", err)
	}

	got, err := s.ReadAction(ctx, rec.ID)
	if err != nil {
		t.Fatalf("ReadAction() failed: %v", err)
	}
	if !reflect.DeepEqual(got, rec) {
		t.Errorf("round trip mismatch\n got: %+v\nwant: %+v", got, rec)
	}
}

func TestRecordAction_QueryRows(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	rec := ir.ActionRecord{
		ID:    "q1",
		Flow:  "flow-1",
		Seq:   2,
		Op:    opSchedule,
		Kind:  ir.KindQuery,
		Input: ir.Record{"user": ir.String("u1")},
		Rows: []ir.Record{
			{"recipe": ir.String("pancakes")},
			{"recipe": ir.String("soup")},
		},
	}
	if err := s.RecordAction(ctx, rec); err != nil {
		t.Fatalf("RecordAction() failed: %v", err)
	}

	got, err := s.ReadAction(ctx, "q1")
	if err != nil {
		t.Fatalf("ReadAction() failed: %v", err)
	}
	if got.Kind != ir.KindQuery {
		t.Errorf("Kind = %v, want query", got.Kind)
	}
	if got.Output != nil {
		t.Errorf("Output = %v, want nil for a query", got.Output)
	}
	if !reflect.DeepEqual(got.Rows, rec.Rows) {
		t.Errorf("Rows = %v, want %v", got.Rows, rec.Rows)
	}
}

func TestRecordAction_Idempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	rec := testAction("flow-1", 1, opRegister, ir.Record{"username": ir.String("alice")}, ir.Record{"user": ir.String("u1")})
	for i := 0; i < 3; i++ {
		if err := s.RecordAction(ctx, rec); err != nil {
			t.Fatalf("RecordAction() iteration %d failed: %v", i, err)
		}
	}

	changed := rec
	changed.Output = ir.Record{"user": ir.String("u2")}
	if err := s.RecordAction(ctx, changed); err != nil {
		t.Fatalf("RecordAction() with same id failed: %v", err)
	}

	actions, err := s.ReadFlow(ctx, "flow-1")
	if err != nil {
		t.Fatalf("ReadFlow() failed: %v", err)
	}
	if len(actions) != 1 {
		t.Fatalf("got %d actions, want 1", len(actions))
	}
	if !reflect.DeepEqual(actions[0].Output, rec.Output) {
		t.Errorf("first write should win, got output %v", actions[0].Output)
	}
}

func TestRecordAction_CauseNeedsFiring(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	rec := testAction("flow-1", 2, opRegister, ir.Record{}, ir.Record{"user": ir.String("u1")})
	rec.Cause = "missing-firing"

	if err := s.RecordAction(ctx, rec); err == nil {
		t.Fatal("expected foreign key error for unknown cause, got nil")
	}

	// The failed transaction leaves nothing behind.
	if _, err := s.ReadAction(ctx, rec.ID); err == nil {
		t.Error("action was written despite failed provenance insert")
	}
}

func TestRecordAction_UnknownKind(t *testing.T) {
	s := createTestStore(t)
	rec := testAction("flow-1", 1, opRegister, ir.Record{}, ir.Record{})
	rec.Kind = ir.OpKind(99)

	if err := s.RecordAction(context.Background(), rec); err == nil {
		t.Error("expected error for unknown kind, got nil")
	}
}

func TestWriteFiring_InsertedOnce(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	f := testFiring("flow-1", "RegisterResponse", 3, ir.Record{"request": ir.String("r1")}, "a1", "a2")

	inserted, err := s.WriteFiring(ctx, f)
	if err != nil {
		t.Fatalf("WriteFiring() failed: %v", err)
	}
	if !inserted {
		t.Error("first write should insert")
	}

	inserted, err = s.WriteFiring(ctx, f)
	if err != nil {
		t.Fatalf("second WriteFiring() failed: %v", err)
	}
	if inserted {
		t.Error("second write should be a no-op")
	}

	// Same rule instance under a different id is still the same firing.
	dup := f
	dup.ID = "other-id"
	inserted, err = s.WriteFiring(ctx, dup)
	if err != nil {
		t.Fatalf("WriteFiring() with new id failed: %v", err)
	}
	if inserted {
		t.Error("same (flow, rule, records, bindings, index) must not insert twice")
	}
}

func TestWriteFiring_FrameIndexKeepsFanOutDistinct(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	first := testFiring("flow-1", "Notify", 2, ir.Record{"member": ir.String("m1")}, "a1")
	second := first
	second.Index = 1
	second.ID = ir.FiringID(first.MatchKey, first.BindingHash, 1)

	for _, f := range []ir.Firing{first, second} {
		inserted, err := s.WriteFiring(ctx, f)
		if err != nil {
			t.Fatalf("WriteFiring() failed: %v", err)
		}
		if !inserted {
			t.Errorf("firing index %d was not inserted", f.Index)
		}
	}

	firings, err := s.ReadFirings(ctx, "flow-1")
	if err != nil {
		t.Fatalf("ReadFirings() failed: %v", err)
	}
	if len(firings) != 2 {
		t.Fatalf("got %d firings, want 2", len(firings))
	}
}

func TestRecordFiring_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	f := testFiring("flow-1", "GetScheduledRecipesWithAuth", 4,
		ir.Record{"request": ir.String("r1"), "scheduledRecipes": ir.Array{}}, "a1", "a2")
	if err := s.RecordFiring(ctx, f); err != nil {
		t.Fatalf("RecordFiring() failed: %v", err)
	}

	got, err := s.ReadFirings(ctx, "flow-1")
	if err != nil {
		t.Fatalf("ReadFirings() failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d firings, want 1", len(got))
	}
	if !reflect.DeepEqual(got[0], f) {
		t.Errorf("round trip mismatch\n got: %+v\nwant: %+v", got[0], f)
	}
}
