package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/recipesync/internal/concept"
	"github.com/roach88/recipesync/internal/ir"
	"github.com/roach88/recipesync/internal/testutil"
)

func completed(id string, op ir.OpRef, input, output ir.Record) ir.ActionRecord {
	return ir.ActionRecord{ID: id, Flow: "flow-1", Op: op, Kind: ir.KindAction, Input: input, Output: output}
}

func requestRecord(id, path, request string, fields ir.Record) ir.ActionRecord {
	in := ir.Record{"path": ir.String(path)}
	for k, v := range fields {
		in[k] = v
	}
	return completed(id, concept.OpRequest, in, ir.Record{"request": ir.String(request)})
}

func ruleNamed(t *testing.T, name string) *ir.Rule {
	t.Helper()
	for _, r := range testutil.RecipeRules() {
		if r.Name == name {
			return &r
		}
	}
	t.Fatalf("no fixture rule %s", name)
	return nil
}

func TestMatchWhen_JoinsHistory(t *testing.T) {
	rule := ruleNamed(t, "RegisterResponse")
	req := requestRecord("a1", testutil.PathRegister, "r1", ir.Record{"username": ir.String("alice")})
	reg := completed("a2", testutil.OpRegister, ir.Record{"username": ir.String("alice")}, ir.Record{"user": ir.String("u1")})

	matches := matchWhen(rule, 1, reg, []ir.ActionRecord{req, reg})

	require.Len(t, matches, 1)
	assert.Equal(t, ir.Record{"request": ir.String("r1"), "user": ir.String("u1")}, matches[0].frame.Bound())
	assert.Equal(t, []string{"a1", "a2"}, matches[0].records, "records are listed in clause order")
}

func TestMatchWhen_MissingClauseIsNoMatch(t *testing.T) {
	rule := ruleNamed(t, "RegisterResponse")
	req := requestRecord("a1", testutil.PathRegister, "r1", nil)

	assert.Nil(t, matchWhen(rule, 0, req, []ir.ActionRecord{req}))
}

func TestMatchWhen_LiteralMismatch(t *testing.T) {
	rule := ruleNamed(t, "RegisterRequest")
	req := requestRecord("a1", testutil.PathAssignRecipe, "r1", ir.Record{"username": ir.String("a"), "password": ir.String("b")})

	assert.Nil(t, matchWhen(rule, 0, req, []ir.ActionRecord{req}))
}

func TestMatchWhen_ErrorOutputNeedsErrorPattern(t *testing.T) {
	req := requestRecord("a1", testutil.PathRegister, "r1", nil)
	failed := completed("a2", testutil.OpRegister, ir.Record{"username": ir.String("alice")}, concept.Fail("username alice already exists"))
	history := []ir.ActionRecord{req, failed}

	assert.Nil(t, matchWhen(ruleNamed(t, "RegisterResponse"), 1, failed, history))

	matches := matchWhen(ruleNamed(t, "RegisterErrorResponse"), 1, failed, history)
	require.Len(t, matches, 1)
	assert.Equal(t, ir.String("username alice already exists"), matches[0].frame["error"])

	// An empty output pattern means "completed successfully".
	anyOutcome := &ir.Rule{
		Name: "AnyRegister",
		When: []ir.ActionDescriptor{testutil.Desc(testutil.OpRegister, ir.Pattern{}, ir.Pattern{})},
	}
	assert.Nil(t, matchWhen(anyOutcome, 0, failed, history))
}

func TestMatchWhen_SharedVariableCorrelates(t *testing.T) {
	rule := &ir.Rule{
		Name: "SessionForRequest",
		When: []ir.ActionDescriptor{
			testutil.Desc(concept.OpRequest, ir.Pattern{"token": ir.Var("token")}, ir.Pattern{"request": ir.Var("request")}),
			testutil.Desc(testutil.OpValidateSession, ir.Pattern{"token": ir.Var("token")}, ir.Pattern{"user": ir.Var("user")}),
		},
	}
	r1 := requestRecord("a1", testutil.PathAssignRecipe, "r1", ir.Record{"token": ir.String("tok-a")})
	r2 := requestRecord("a2", testutil.PathAssignRecipe, "r2", ir.Record{"token": ir.String("tok-b")})
	vs := completed("a3", testutil.OpValidateSession, ir.Record{"token": ir.String("tok-b")}, ir.Record{"user": ir.String("u7")})

	matches := matchWhen(rule, 1, vs, []ir.ActionRecord{r1, r2, vs})

	require.Len(t, matches, 1)
	assert.Equal(t, ir.String("r2"), matches[0].frame["request"])
	assert.Equal(t, []string{"a2", "a3"}, matches[0].records)
}

func TestMatchWhen_FanOutInHistoryOrder(t *testing.T) {
	rule := ruleNamed(t, "RegisterResponse")
	r1 := requestRecord("a1", testutil.PathRegister, "r1", nil)
	r2 := requestRecord("a2", testutil.PathRegister, "r2", nil)
	reg := completed("a3", testutil.OpRegister, ir.Record{}, ir.Record{"user": ir.String("u1")})

	matches := matchWhen(rule, 1, reg, []ir.ActionRecord{r1, r2, reg})

	require.Len(t, matches, 2)
	assert.Equal(t, ir.String("r1"), matches[0].frame["request"])
	assert.Equal(t, ir.String("r2"), matches[1].frame["request"])
	assert.NotEqual(t, matches[0].key(rule.Name), matches[1].key(rule.Name))
}

func TestMatchWhen_RecordUsedOncePerMatch(t *testing.T) {
	rule := &ir.Rule{
		Name: "TwoRegistrations",
		When: []ir.ActionDescriptor{
			testutil.Desc(testutil.OpRegister, ir.Pattern{}, ir.Pattern{"user": ir.Var("first")}),
			testutil.Desc(testutil.OpRegister, ir.Pattern{}, ir.Pattern{"user": ir.Var("second")}),
		},
	}
	a := completed("a1", testutil.OpRegister, ir.Record{}, ir.Record{"user": ir.String("u1")})
	b := completed("a2", testutil.OpRegister, ir.Record{}, ir.Record{"user": ir.String("u2")})

	matches := matchWhen(rule, 0, b, []ir.ActionRecord{a, b})

	require.Len(t, matches, 1)
	assert.Equal(t, ir.Record{"first": ir.String("u2"), "second": ir.String("u1")}, matches[0].frame.Bound())
}

func TestMatchWhen_QueriesInHistoryIgnored(t *testing.T) {
	rule := ruleNamed(t, "RegisterResponse")
	req := requestRecord("a1", testutil.PathRegister, "r1", nil)
	query := ir.ActionRecord{ID: "q1", Flow: "flow-1", Op: testutil.OpRegister, Kind: ir.KindQuery, Input: ir.Record{}, Rows: []ir.Record{{"user": ir.String("u1")}}}

	assert.Nil(t, matchWhen(rule, 0, req, []ir.ActionRecord{req, query}))
}

func TestUnifyClause_KeepsInputFrame(t *testing.T) {
	desc := testutil.Desc(testutil.OpRegister, ir.Pattern{"username": ir.Var("name")}, ir.Pattern{"user": ir.Var("user")})
	rec := completed("a1", testutil.OpRegister, ir.Record{"username": ir.String("bob")}, ir.Record{"user": ir.String("u2")})
	in := ir.Frame{"name": ir.String("alice")}

	_, ok := unifyClause(in, desc, rec)
	assert.False(t, ok, "bound variable conflicts with the record")
	assert.Equal(t, ir.Frame{"name": ir.String("alice")}, in)

	out, ok := unifyClause(ir.Frame{}, desc, rec)
	require.True(t, ok)
	assert.Equal(t, ir.Frame{"name": ir.String("bob"), "user": ir.String("u2")}, out)

	_, ok = unifyClause(ir.Frame{}, testutil.Desc(testutil.OpValidateSession, nil, nil), rec)
	assert.False(t, ok, "different operation")
}
