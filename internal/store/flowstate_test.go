package store

import (
	"context"
	"reflect"
	"testing"

	"github.com/roach88/recipesync/internal/concept"
	"github.com/roach88/recipesync/internal/ir"
)

// seedUnanswered writes a request that nothing responded to.
func seedUnanswered(t *testing.T, s *Store, flow string, seq int64, request string) {
	t.Helper()
	req := testAction(flow, seq, concept.OpRequest,
		ir.Record{"path": ir.String("/Calendar/_getScheduledRecipes")},
		ir.Record{"request": ir.String(request)})
	if err := s.RecordAction(context.Background(), req); err != nil {
		t.Fatalf("RecordAction() failed: %v", err)
	}
}

func TestGetFlowState_Complete(t *testing.T) {
	s := createTestStore(t)
	seedRegisterFlow(t, s, "flow-1", 1)

	state, err := s.GetFlowState(context.Background(), "flow-1")
	if err != nil {
		t.Fatalf("GetFlowState() failed: %v", err)
	}
	if !state.IsComplete() {
		t.Errorf("flow should be complete, unanswered = %v", state.Unanswered)
	}
	if len(state.Actions) != 3 || len(state.Firings) != 2 {
		t.Errorf("got %d actions and %d firings, want 3 and 2", len(state.Actions), len(state.Firings))
	}
	if state.LastSeq != 5 {
		t.Errorf("LastSeq = %d, want 5", state.LastSeq)
	}
}

func TestGetFlowState_Unanswered(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	seedUnanswered(t, s, "flow-1", 1, "r1")
	seedUnanswered(t, s, "flow-1", 2, "r2")

	// A respond that itself failed does not answer r2.
	failed := testAction("flow-1", 3, concept.OpRespond,
		ir.Record{"request": ir.String("r2")}, ir.Record{"error": ir.String("request r2 is not pending")})
	if err := s.RecordAction(ctx, failed); err != nil {
		t.Fatalf("RecordAction() failed: %v", err)
	}

	state, err := s.GetFlowState(ctx, "flow-1")
	if err != nil {
		t.Fatalf("GetFlowState() failed: %v", err)
	}
	if state.IsComplete() {
		t.Fatal("flow should be incomplete")
	}
	if want := []string{"r1", "r2"}; !reflect.DeepEqual(state.Unanswered, want) {
		t.Errorf("Unanswered = %v, want %v", state.Unanswered, want)
	}
}

func TestGetFlowState_UnknownFlow(t *testing.T) {
	s := createTestStore(t)

	state, err := s.GetFlowState(context.Background(), "nope")
	if err != nil {
		t.Fatalf("GetFlowState() failed: %v", err)
	}
	if !state.IsComplete() || len(state.Actions) != 0 || state.LastSeq != 0 {
		t.Errorf("unexpected state for unknown flow: %+v", state)
	}
}

func TestFindIncompleteFlows(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	seedRegisterFlow(t, s, "done", 1)
	seedUnanswered(t, s, "stuck-b", 10, "r10")
	seedUnanswered(t, s, "stuck-a", 20, "r20")

	flows, err := s.FindIncompleteFlows(ctx)
	if err != nil {
		t.Fatalf("FindIncompleteFlows() failed: %v", err)
	}
	var names []string
	for _, f := range flows {
		names = append(names, f.Flow)
		if f.IsComplete() {
			t.Errorf("flow %s reported as incomplete but has no unanswered requests", f.Flow)
		}
	}
	if want := []string{"stuck-b", "stuck-a"}; !reflect.DeepEqual(names, want) {
		t.Errorf("FindIncompleteFlows() = %v, want %v", names, want)
	}
}

func TestFindIncompleteFlows_NoneOpen(t *testing.T) {
	s := createTestStore(t)
	seedRegisterFlow(t, s, "flow-1", 1)

	flows, err := s.FindIncompleteFlows(context.Background())
	if err != nil {
		t.Fatalf("FindIncompleteFlows() failed: %v", err)
	}
	if len(flows) != 0 {
		t.Errorf("got %d incomplete flows, want 0", len(flows))
	}
}
