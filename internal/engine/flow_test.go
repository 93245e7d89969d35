package engine

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/recipesync/internal/testutil"
)

func TestUUIDv7Generator_ValidFormat(t *testing.T) {
	gen := UUIDv7Generator{}
	token := gen.Generate()

	assert.Equal(t, 36, len(token), "UUID should be 36 characters")

	parsed, err := uuid.Parse(token)
	require.NoError(t, err, "token should be valid UUID")

	assert.Equal(t, uuid.Version(7), parsed.Version())
}

func TestUUIDv7Generator_Uniqueness(t *testing.T) {
	gen := UUIDv7Generator{}
	const iterations = 1000

	tokens := make(map[string]bool, iterations)

	for i := 0; i < iterations; i++ {
		token := gen.Generate()
		require.False(t, tokens[token], "token %s generated twice", token)
		tokens[token] = true
	}

	assert.Equal(t, iterations, len(tokens), "all tokens should be unique")
}

func TestUUIDv7Generator_HyphenatedFormat(t *testing.T) {
	gen := UUIDv7Generator{}
	token := gen.Generate()

	// Verify hyphenated format: 8-4-4-4-12
	// Example: "550e8400-e29b-41d4-a716-446655440000"
	assert.Regexp(t, `^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`, token)
}

func TestUUIDv7Generator_Concurrent(t *testing.T) {
	gen := UUIDv7Generator{}
	const goroutines = 100

	tokens := make(chan string, goroutines)
	var wg sync.WaitGroup

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tokens <- gen.Generate()
		}()
	}

	wg.Wait()
	close(tokens)

	// Verify all tokens are unique
	seen := make(map[string]bool)
	for token := range tokens {
		require.False(t, seen[token], "duplicate token generated")
		seen[token] = true
	}

	assert.Equal(t, goroutines, len(seen))
}

func TestDispatcher_NewFlow_WithSequenceGenerator(t *testing.T) {
	app := testutil.NewRecipeApp()
	reg, err := Register(app.Catalog)
	require.NoError(t, err)

	d := New(app.Catalog, reg, WithFlowGenerator(testutil.NewSequenceGenerator("test-flow-")))

	assert.Equal(t, "test-flow-1", d.NewFlow())
	assert.Equal(t, "test-flow-2", d.NewFlow())
	assert.Equal(t, 2, d.OpenFlows())
}

func TestDispatcher_NewFlow_DefaultsToUUIDv7(t *testing.T) {
	app := testutil.NewRecipeApp()
	reg, err := Register(app.Catalog)
	require.NoError(t, err)

	d := New(app.Catalog, reg)
	flow := d.NewFlow()

	parsed, err := uuid.Parse(flow)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())

	d.EndFlow(flow)
	assert.Equal(t, 0, d.OpenFlows())
}
