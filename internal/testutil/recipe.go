// Package testutil holds deterministic fixtures shared by package tests:
// id generators and a small in-memory recipe application wired with the
// rule shapes the real application uses.
package testutil

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/roach88/recipesync/internal/concept"
	"github.com/roach88/recipesync/internal/ir"
)

// Operation references of the fixture concepts.
var (
	OpRegister         = ir.Op("Authentication", "register")
	OpValidateSession  = ir.Op("Authentication", "validateSession")
	OpGetUserBySession = ir.Op("Authentication", "_getUserBySession")
	OpAssignRecipe     = ir.Op("Calendar", "assignRecipeToDate")
	OpScheduledRecipes = ir.Op("Calendar", "_getScheduledRecipes")
)

// Request paths the fixture rules route on.
const (
	PathRegister         = "/Authentication/register"
	PathAssignRecipe     = "/Calendar/assignRecipeToDate"
	PathScheduledRecipes = "/Calendar/_getScheduledRecipes"
)

// RecipeApp is an in-memory Authentication and Calendar plus the
// Requesting boundary. Request ids are r1, r2, ...; user ids u1, u2, ...;
// scheduled recipe ids s1, s2, ...
type RecipeApp struct {
	Requesting *concept.Requesting
	Catalog    *concept.Catalog

	mu        sync.Mutex
	users     map[string]string      // username -> user
	sessions  map[string]string      // token -> user
	scheduled map[string][]ir.Record // user -> rows
	nextUser  int
	nextSched int
}

// NewRecipeApp builds the fixture with an empty state.
func NewRecipeApp() *RecipeApp {
	a := &RecipeApp{
		Requesting: concept.NewRequesting(NewSequenceGenerator("r")),
		users:      make(map[string]string),
		sessions:   make(map[string]string),
		scheduled:  make(map[string][]ir.Record),
	}

	auth := concept.New("Authentication").
		Action(OpRegister.Name, a.register).
		Action(OpValidateSession.Name, a.validateSession).
		Query(OpGetUserBySession.Name, a.getUserBySession)
	calendar := concept.New("Calendar").
		Action(OpAssignRecipe.Name, a.assignRecipe).
		Query(OpScheduledRecipes.Name, a.scheduledRecipes)

	cat, err := concept.NewCatalog(a.Requesting.Concept(), auth, calendar)
	if err != nil {
		panic(fmt.Sprintf("recipe fixture: %v", err))
	}
	a.Catalog = cat
	return a
}

// AddSession makes token a valid session for user.
func (a *RecipeApp) AddSession(token, user string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sessions[token] = user
}

// Schedule adds a scheduled recipe for user directly, bypassing the rules.
func (a *RecipeApp) Schedule(user, recipe, date string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.addScheduled(user, recipe, date)
}

func (a *RecipeApp) addScheduled(user, recipe, date string) string {
	a.nextSched++
	id := fmt.Sprintf("s%d", a.nextSched)
	a.scheduled[user] = append(a.scheduled[user], ir.Record{
		"scheduledRecipe": ir.String(id),
		"recipe":          ir.String(recipe),
		"date":            ir.String(date),
	})
	return id
}

func (a *RecipeApp) register(_ context.Context, in ir.Record) (ir.Record, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	name, _ := in["username"].(ir.String)
	if name == "" {
		return concept.Fail("username is required"), nil
	}
	if _, taken := a.users[string(name)]; taken {
		return concept.Fail("username %s already exists", name), nil
	}
	a.nextUser++
	user := fmt.Sprintf("u%d", a.nextUser)
	a.users[string(name)] = user
	return ir.Record{"user": ir.String(user)}, nil
}

func (a *RecipeApp) validateSession(_ context.Context, in ir.Record) (ir.Record, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	token, _ := in["token"].(ir.String)
	user, ok := a.sessions[string(token)]
	if !ok {
		return concept.Fail("invalid session"), nil
	}
	return ir.Record{"user": ir.String(user)}, nil
}

func (a *RecipeApp) getUserBySession(_ context.Context, in ir.Record) ([]ir.Record, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	token, _ := in["token"].(ir.String)
	if user, ok := a.sessions[string(token)]; ok {
		return []ir.Record{{"user": ir.String(user)}}, nil
	}
	return []ir.Record{}, nil
}

func (a *RecipeApp) assignRecipe(_ context.Context, in ir.Record) (ir.Record, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	user, _ := in["user"].(ir.String)
	recipe, _ := in["recipe"].(ir.String)
	date, _ := in["date"].(ir.String)
	if recipe == "" || date == "" {
		return concept.Fail("recipe and date are required"), nil
	}
	id := a.addScheduled(string(user), string(recipe), string(date))
	return ir.Record{"scheduledRecipe": ir.String(id)}, nil
}

func (a *RecipeApp) scheduledRecipes(_ context.Context, in ir.Record) ([]ir.Record, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	user, _ := in["user"].(ir.String)
	rows := a.scheduled[string(user)]
	out := make([]ir.Record, len(rows))
	for i, r := range rows {
		out[i] = r.Clone()
	}
	return out, nil
}

// Desc builds an action descriptor.
func Desc(op ir.OpRef, input, output ir.Pattern) ir.ActionDescriptor {
	return ir.ActionDescriptor{Op: op, Input: input, Output: output}
}

// Request is the when clause "a request for path arrived", binding $request.
func Request(path string) ir.ActionDescriptor {
	return Desc(concept.OpRequest,
		ir.Pattern{"path": ir.L(ir.String(path))},
		ir.Pattern{"request": ir.Var("request")})
}

// Respond is the then clause answering $request with the given variables.
func Respond(vars ...ir.Var) ir.ActionDescriptor {
	in := ir.Pattern{"request": ir.Var("request")}
	for _, v := range vars {
		in[string(v)] = v
	}
	return Desc(concept.OpRespond, in, nil)
}

// RecipeRules returns the fixture's rules: register, assign a recipe to a
// date, and list scheduled recipes. The listing rule binds an empty list
// when the user has nothing scheduled.
func RecipeRules() []ir.Rule {
	return []ir.Rule{
		{
			Name: "RegisterRequest",
			When: []ir.ActionDescriptor{
				Desc(concept.OpRequest,
					ir.Pattern{"path": ir.L(ir.String(PathRegister)), "username": ir.Var("username"), "password": ir.Var("password")},
					ir.Pattern{"request": ir.Var("request")}),
			},
			Then: []ir.ActionDescriptor{
				Desc(OpRegister, ir.Pattern{"username": ir.Var("username"), "password": ir.Var("password")}, nil),
			},
		},
		{
			Name: "RegisterResponse",
			When: []ir.ActionDescriptor{
				Request(PathRegister),
				Desc(OpRegister, ir.Pattern{}, ir.Pattern{"user": ir.Var("user")}),
			},
			Then: []ir.ActionDescriptor{Respond("user")},
		},
		{
			Name: "RegisterErrorResponse",
			When: []ir.ActionDescriptor{
				Request(PathRegister),
				Desc(OpRegister, ir.Pattern{}, ir.Pattern{"error": ir.Var("error")}),
			},
			Then: []ir.ActionDescriptor{Respond("error")},
		},
		{
			Name: "AssignRecipeToDateRequest",
			When: []ir.ActionDescriptor{
				Desc(concept.OpRequest,
					ir.Pattern{"path": ir.L(ir.String(PathAssignRecipe)), "token": ir.Var("token")},
					ir.Pattern{"request": ir.Var("request")}),
			},
			Then: []ir.ActionDescriptor{
				Desc(OpValidateSession, ir.Pattern{"token": ir.Var("token")}, nil),
			},
		},
		{
			Name: "AssignRecipeToDateWithAuth",
			When: []ir.ActionDescriptor{
				Desc(concept.OpRequest,
					ir.Pattern{"path": ir.L(ir.String(PathAssignRecipe)), "recipe": ir.Var("recipe"), "date": ir.Var("date")},
					ir.Pattern{"request": ir.Var("request")}),
				Desc(OpValidateSession, ir.Pattern{}, ir.Pattern{"user": ir.Var("user")}),
			},
			Then: []ir.ActionDescriptor{
				Desc(OpAssignRecipe, ir.Pattern{"user": ir.Var("user"), "recipe": ir.Var("recipe"), "date": ir.Var("date")}, nil),
			},
		},
		{
			Name: "AssignRecipeToDateResponse",
			When: []ir.ActionDescriptor{
				Request(PathAssignRecipe),
				Desc(OpAssignRecipe, ir.Pattern{}, ir.Pattern{"scheduledRecipe": ir.Var("scheduledRecipe")}),
			},
			Then: []ir.ActionDescriptor{Respond("scheduledRecipe")},
		},
		{
			Name: "AssignRecipeToDateErrorResponse",
			When: []ir.ActionDescriptor{
				Request(PathAssignRecipe),
				Desc(OpAssignRecipe, ir.Pattern{}, ir.Pattern{"error": ir.Var("error")}),
			},
			Then: []ir.ActionDescriptor{Respond("error")},
		},
		{
			Name: "AssignRecipeToDateAuthError",
			When: []ir.ActionDescriptor{
				Request(PathAssignRecipe),
				Desc(OpValidateSession, ir.Pattern{}, ir.Pattern{"error": ir.Var("error")}),
			},
			Then: []ir.ActionDescriptor{Respond("error")},
		},
		{
			Name: "GetScheduledRecipesRequest",
			When: []ir.ActionDescriptor{
				Desc(concept.OpRequest,
					ir.Pattern{"path": ir.L(ir.String(PathScheduledRecipes)), "token": ir.Var("token")},
					ir.Pattern{"request": ir.Var("request")}),
			},
			Then: []ir.ActionDescriptor{
				Desc(OpValidateSession, ir.Pattern{"token": ir.Var("token")}, nil),
			},
		},
		{
			Name: "GetScheduledRecipesWithAuth",
			When: []ir.ActionDescriptor{
				Request(PathScheduledRecipes),
				Desc(OpValidateSession, ir.Pattern{}, ir.Pattern{"user": ir.Var("user")}),
			},
			Where: ir.Steps{
				ir.Collect(OpScheduledRecipes, ir.Pattern{"user": ir.Var("user")}, "scheduledRecipes").
					WithDefault("scheduledRecipes", ir.Array{}),
			},
			Then: []ir.ActionDescriptor{Respond("scheduledRecipes")},
		},
		{
			Name: "GetScheduledRecipesAuthError",
			When: []ir.ActionDescriptor{
				Request(PathScheduledRecipes),
				Desc(OpValidateSession, ir.Pattern{}, ir.Pattern{"error": ir.Var("error")}),
			},
			Then: []ir.ActionDescriptor{Respond("error")},
		},
	}
}

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
