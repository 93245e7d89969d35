package store

import (
	"context"
	"testing"

	"github.com/roach88/recipesync/internal/concept"
	"github.com/roach88/recipesync/internal/engine"
	"github.com/roach88/recipesync/internal/ir"
	"github.com/roach88/recipesync/internal/testutil"
)

// runRecipeCascades drives the fixture app with the store and a memory
// recorder both attached, and returns what the dispatcher recorded.
func runRecipeCascades(t *testing.T, s *Store) (*engine.Dispatcher, *engine.MemoryRecorder) {
	t.Helper()
	ctx := context.Background()

	app := testutil.NewRecipeApp()
	app.AddSession("tok", "u1")
	reg, err := engine.Register(app.Catalog, testutil.RecipeRules()...)
	if err != nil {
		t.Fatalf("Register() failed: %v", err)
	}
	mem := engine.NewMemoryRecorder()
	d := engine.New(app.Catalog, reg,
		engine.WithLogger(testutil.DiscardLogger()),
		engine.WithRecorder(engine.MultiRecorder(s, mem)),
		engine.WithFlowGenerator(testutil.NewSequenceGenerator("flow-")),
	)

	requests := []ir.Record{
		{"path": ir.String(testutil.PathRegister), "username": ir.String("alice"), "password": ir.String("pw")},
		{"path": ir.String(testutil.PathAssignRecipe), "token": ir.String("tok"), "recipe": ir.String("soup"), "date": ir.String("2026-01-02")},
		{"path": ir.String(testutil.PathScheduledRecipes), "token": ir.String("tok")},
		{"path": ir.String(testutil.PathScheduledRecipes), "token": ir.String("bad")},
	}
	for _, in := range requests {
		if _, err := d.Invoke(ctx, concept.OpRequest, in); err != nil {
			t.Fatalf("Invoke(%v) failed: %v", in["path"], err)
		}
	}
	return d, mem
}

func TestStore_RecordsDispatcherTrace(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	_, mem := runRecipeCascades(t, s)

	want := mem.Actions()
	got, err := s.ReadAllActions(ctx)
	if err != nil {
		t.Fatalf("ReadAllActions() failed: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("store has %d actions, memory recorder has %d", len(got), len(want))
	}
	for i := range want {
		g, w := got[i], want[i]
		if g.ID != w.ID || g.Flow != w.Flow || g.Seq != w.Seq || g.Op != w.Op || g.Cause != w.Cause {
			t.Errorf("action %d: got %s/%s seq %d cause %q, want %s/%s seq %d cause %q",
				i, g.Flow, g.Op, g.Seq, g.Cause, w.Flow, w.Op, w.Seq, w.Cause)
		}
		if !ir.Equal(g.Input, w.Input) || !ir.Equal(g.Output, w.Output) {
			t.Errorf("action %d (%s): payload mismatch", i, w.Op)
		}
	}

	firings, err := s.ReadAllFirings(ctx)
	if err != nil {
		t.Fatalf("ReadAllFirings() failed: %v", err)
	}
	if len(firings) != len(mem.Firings()) {
		t.Errorf("store has %d firings, memory recorder has %d", len(firings), len(mem.Firings()))
	}

	// Every caused action points at a firing the store knows.
	for _, a := range got {
		edges, err := s.ReadProvenance(ctx, a.ID)
		if err != nil {
			t.Fatalf("ReadProvenance() failed: %v", err)
		}
		if a.Cause == "" && len(edges) != 0 {
			t.Errorf("external action %s has provenance %v", a.Op, edges)
		}
		if a.Cause != "" && (len(edges) != 1 || edges[0].FiringID != a.Cause) {
			t.Errorf("action %s: provenance %v, want cause %s", a.Op, edges, a.Cause)
		}
	}

	flows, err := s.ListFlows(ctx)
	if err != nil {
		t.Fatalf("ListFlows() failed: %v", err)
	}
	if len(flows) != 4 {
		t.Errorf("got %d flows, want one per request (4)", len(flows))
	}

	incomplete, err := s.FindIncompleteFlows(ctx)
	if err != nil {
		t.Fatalf("FindIncompleteFlows() failed: %v", err)
	}
	if len(incomplete) != 0 {
		t.Errorf("every request was answered, got incomplete flows %v", incomplete)
	}
}

func TestStore_ReplayFromLog(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	d, mem := runRecipeCascades(t, s)

	logged, err := s.ReadAllActions(ctx)
	if err != nil {
		t.Fatalf("ReadAllActions() failed: %v", err)
	}
	planned, err := d.Replay(ctx, logged)
	if err != nil {
		t.Fatalf("Replay() failed: %v", err)
	}

	recorded := mem.Firings()
	if len(planned) != len(recorded) {
		t.Fatalf("replay planned %d firings, cascade recorded %d", len(planned), len(recorded))
	}
	for i, p := range planned {
		if p.Firing.ID != recorded[i].ID {
			t.Errorf("firing %d: replay id %s, recorded %s (%s)", i, p.Firing.ID, recorded[i].ID, recorded[i].Rule)
		}
	}
}

func TestStore_ResumeClock(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	d, _ := runRecipeCascades(t, s)

	seq, err := s.LastSeq(ctx)
	if err != nil {
		t.Fatalf("LastSeq() failed: %v", err)
	}
	if seq != d.Clock().Current() {
		t.Errorf("LastSeq() = %d, dispatcher clock at %d", seq, d.Clock().Current())
	}
}
