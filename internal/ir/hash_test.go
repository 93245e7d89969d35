package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordIDDeterminism(t *testing.T) {
	input := Record{"username": String("alice"), "password": String("pw")}

	id1, err := RecordID("flow-1", Op("Authentication", "register"), input, 1)
	require.NoError(t, err)
	id2, err := RecordID("flow-1", Op("Authentication", "register"), input, 1)
	require.NoError(t, err)

	assert.Equal(t, id1, id2)
	assert.Len(t, id1, 64, "SHA-256 hex is 64 characters")
}

func TestRecordIDChangesWithInput(t *testing.T) {
	input := Record{"username": String("alice")}
	op := Op("Authentication", "register")

	base := MustRecordID("flow-1", op, input, 1)
	assert.NotEqual(t, base, MustRecordID("flow-2", op, input, 1), "flow")
	assert.NotEqual(t, base, MustRecordID("flow-1", op, input, 2), "seq")
	assert.NotEqual(t, base, MustRecordID("flow-1", Op("Authentication", "authenticate"), input, 1), "op")
	assert.NotEqual(t, base, MustRecordID("flow-1", op, Record{"username": String("bob")}, 1), "input")
}

func TestBindingHashIgnoresUnbound(t *testing.T) {
	a := MustBindingHash(Record{"request": String("r1")})
	b := MustBindingHash(Record{"request": String("r1"), "user": Unbound{}})
	assert.Equal(t, a, b, "an unbound entry hashes like an absent one")

	c := MustBindingHash(Record{"request": String("r1"), "user": String("u1")})
	assert.NotEqual(t, a, c)
}

func TestMatchKeyDependsOnRuleAndRecords(t *testing.T) {
	k := MatchKey("RegisterResponse", []string{"a", "b"})
	assert.Equal(t, k, MatchKey("RegisterResponse", []string{"a", "b"}))
	assert.NotEqual(t, k, MatchKey("RegisterResponse", []string{"b", "a"}))
	assert.NotEqual(t, k, MatchKey("RegisterErrorResponse", []string{"a", "b"}))
}

func TestFiringIDDistinguishesFrameIndex(t *testing.T) {
	assert.NotEqual(t, FiringID("m", "h", 0), FiringID("m", "h", 1))
}

func TestHashWithDomainSeparation(t *testing.T) {
	data := []byte(`{"a":1}`)
	assert.NotEqual(t, hashWithDomain(DomainRecord, data), hashWithDomain(DomainBinding, data))
}
