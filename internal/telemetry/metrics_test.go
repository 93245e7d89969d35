package telemetry

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/recipesync/internal/concept"
	"github.com/roach88/recipesync/internal/config"
	"github.com/roach88/recipesync/internal/engine"
	"github.com/roach88/recipesync/internal/ir"
	fixtures "github.com/roach88/recipesync/internal/testutil"
)

func enabledMetrics() *Metrics {
	return NewMetrics(config.MetricsConfig{Enabled: true, Namespace: "recipesync"})
}

func TestMetrics_ObservesDispatcher(t *testing.T) {
	m := enabledMetrics()
	app := fixtures.NewRecipeApp()
	reg, err := engine.Register(app.Catalog, fixtures.RecipeRules()...)
	require.NoError(t, err)
	d := engine.New(app.Catalog, reg,
		engine.WithLogger(fixtures.DiscardLogger()),
		engine.WithObserver(m),
	)

	ctx := context.Background()
	_, err = d.Invoke(ctx, concept.OpRequest, ir.Record{
		"path":     ir.String(fixtures.PathRegister),
		"username": ir.String("alice"),
		"password": ir.String("pw"),
	})
	require.NoError(t, err)
	_, err = d.Invoke(ctx, concept.OpRequest, ir.Record{
		"path":  ir.String(fixtures.PathScheduledRecipes),
		"token": ir.String("nope"),
	})
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.actions.WithLabelValues("Authentication.register", "action", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.actions.WithLabelValues("Authentication.validateSession", "action", "error")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.actions.WithLabelValues("Requesting.respond", "action", "ok")))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.firings.WithLabelValues("RegisterRequest")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.firings.WithLabelValues("RegisterResponse")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.firings.WithLabelValues("GetScheduledRecipesAuthError")))
	assert.Equal(t, 0, testutil.CollectAndCount(m.framesDropped))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.cascades.WithLabelValues("ok")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.cascadeSteps))
}

func TestMetrics_DirectCalls(t *testing.T) {
	m := enabledMetrics()

	m.FramesDropped("GetScheduledRecipesWithAuth", "where", 1)
	m.FramesDropped("GetScheduledRecipesWithAuth", "where", 2)
	m.CascadeFinished(4, errors.New("quota"))
	m.ActionCompleted(ir.ActionRecord{Op: fixtures.OpScheduledRecipes, Kind: ir.KindQuery})

	assert.Equal(t, 3.0, testutil.ToFloat64(m.framesDropped.WithLabelValues("GetScheduledRecipesWithAuth", "where")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cascades.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.actions.WithLabelValues("Calendar._getScheduledRecipes", "query", "ok")))
}

func TestMetrics_Disabled(t *testing.T) {
	m := NewMetrics(config.MetricsConfig{})
	assert.False(t, m.Enabled())

	// None of these may panic.
	m.ActionCompleted(ir.ActionRecord{Op: fixtures.OpRegister, Kind: ir.KindAction})
	m.RuleFired("R", 1)
	m.FramesDropped("R", "where", 1)
	m.CascadeFinished(1, nil)

	var buf bytes.Buffer
	require.NoError(t, m.WriteText(&buf))
	assert.Zero(t, buf.Len())
}

func TestMetrics_WriteText(t *testing.T) {
	m := enabledMetrics()
	m.RuleFired("RegisterRequest", 2)

	var buf bytes.Buffer
	require.NoError(t, m.WriteText(&buf))
	assert.Contains(t, buf.String(), "# TYPE recipesync_rule_firings_total counter")
	assert.Contains(t, buf.String(), `recipesync_rule_firings_total{rule="RegisterRequest"} 2`)
}
