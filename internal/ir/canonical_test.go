package ir

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonicalBasic(t *testing.T) {
	tests := []struct {
		name     string
		input    Value
		expected string
	}{
		{"string", String("hello"), `"hello"`},
		{"empty string", String(""), `""`},
		{"int", Int(42), "42"},
		{"negative int", Int(-100), "-100"},
		{"max int64", Int(9223372036854775807), "9223372036854775807"},
		{"bool true", Bool(true), "true"},
		{"bool false", Bool(false), "false"},
		{"null", Null{}, "null"},
		{"empty array", Array{}, "[]"},
		{"empty record", Record{}, "{}"},
		{"array of ints", Array{Int(1), Int(2), Int(3)}, "[1,2,3]"},
		{"date", NewDate(time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)), `"2025-03-14T09:30:00Z"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := MarshalCanonical(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(result))
		})
	}
}

func TestMarshalCanonicalNumbers(t *testing.T) {
	tests := []struct {
		name     string
		input    float64
		expected string
	}{
		{"fraction", 4.5, "4.5"},
		{"negative fraction", -0.25, "-0.25"},
		{"whole float", 5, "5"},
		{"negative zero", math.Copysign(0, -1), "0"},
		{"shortest digits", 0.1, "0.1"},
		{"sum keeps its error", 0.1 + 0.2, "0.30000000000000004"},
		{"small plain", 0.000001, "0.000001"},
		{"small exponent", 1e-7, "1e-7"},
		{"large plain", 1e20, "100000000000000000000"},
		{"large exponent", 1e21, "1e+21"},
		{"exponent with fraction", 1.5e300, "1.5e+300"},
		{"tiny", 5e-324, "5e-324"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := MarshalCanonical(Float(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(result))
		})
	}

	_, err := MarshalCanonical(Float(math.NaN()))
	require.Error(t, err)
	_, err = MarshalCanonical(Record{"x": Float(math.Inf(-1))})
	require.Error(t, err)
}

func TestMarshalCanonicalSortedKeys(t *testing.T) {
	rec := Record{
		"zebra": Int(1),
		"alpha": Int(2),
		"beta":  Record{"b": Int(1), "a": Int(2)},
	}

	result, err := MarshalCanonical(rec)
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":2,"beta":{"a":2,"b":1},"zebra":1}`, string(result))
}

func TestMarshalCanonicalUTF16Ordering(t *testing.T) {
	// U+10000 encodes as the surrogate pair D800 DC00, which sorts before E000.
	rec := Record{
		"\uE000":     Int(1),
		"\U00010000": Int(2),
	}

	result, err := MarshalCanonical(rec)
	require.NoError(t, err)
	assert.Equal(t, "{\"\U00010000\":2,\"\uE000\":1}", string(result))
}

func TestMarshalCanonicalNoHTMLEscape(t *testing.T) {
	result, err := MarshalCanonical(String("<a & b>"))
	require.NoError(t, err)
	assert.Equal(t, `"<a & b>"`, string(result))
}

func TestMarshalCanonicalLineSeparators(t *testing.T) {
	result, err := MarshalCanonical(String("a\u2028b\u2029c"))
	require.NoError(t, err)
	assert.Equal(t, "\"a\u2028b\u2029c\"", string(result))

	// A literal backslash followed by the text u2028 stays escaped.
	result, err = MarshalCanonical(String(`\u2028`))
	require.NoError(t, err)
	assert.Equal(t, `"\\u2028"`, string(result))
}

func TestMarshalCanonicalNFC(t *testing.T) {
	decomposed := "e\u0301"
	composed := "\u00e9"

	a, err := MarshalCanonical(String(decomposed))
	require.NoError(t, err)
	b, err := MarshalCanonical(String(composed))
	require.NoError(t, err)
	assert.Equal(t, string(b), string(a))
}

func TestMarshalCanonicalRejectsUnbound(t *testing.T) {
	_, err := MarshalCanonical(Record{"user": Unbound{}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "user")
}
