package engine

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/recipesync/internal/ir"
)

func TestFiringGuard_MarkOnce(t *testing.T) {
	g := NewFiringGuard()
	key := ir.MatchKey("RegisterResponse", []string{"a1", "a2"})

	assert.True(t, g.Mark("flow-1", key), "first claim wins")
	assert.False(t, g.Mark("flow-1", key), "second claim is refused")
	assert.Len(t, g.history["flow-1"], 1)
}

func TestFiringGuard_FlowsAreIsolated(t *testing.T) {
	g := NewFiringGuard()
	key := ir.MatchKey("RegisterResponse", []string{"a1", "a2"})

	assert.True(t, g.Mark("flow-1", key))
	assert.True(t, g.Mark("flow-2", key), "same key in another flow is a different instance")
	assert.Len(t, g.history, 2)
}

func TestFiringGuard_Clear(t *testing.T) {
	g := NewFiringGuard()
	g.Mark("flow-1", "k1")
	g.Mark("flow-1", "k2")
	g.Mark("flow-2", "k1")

	g.Clear("flow-1")

	assert.NotContains(t, g.history, "flow-1")
	assert.Len(t, g.history, 1)
	assert.True(t, g.Mark("flow-1", "k1"), "cleared flows start over")
}

func TestFiringGuard_ConcurrentClaims(t *testing.T) {
	g := NewFiringGuard()
	const claimers = 50

	var wg sync.WaitGroup
	wins := make(chan bool, claimers)
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			wins <- g.Mark("flow-1", "contended")
		}()
	}
	wg.Wait()
	close(wins)

	won := 0
	for w := range wins {
		if w {
			won++
		}
	}
	assert.Equal(t, 1, won, "exactly one claimer fires")
}
