package tokencount

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCount_Empty(t *testing.T) {
	assert.Equal(t, 0, Count(""))
}

func TestCount_Deterministic(t *testing.T) {
	s := "The quick brown fox jumps over the lazy dog."
	assert.Equal(t, Count(s), Count(s))
}

func TestCount_SubwordPenalty(t *testing.T) {
	// "jumps" is 5 runes, a word > 4 chars: +floor((5-1)/4) = +1 on top
	// of the base token count.
	base := Count("a")
	withLongWord := Count("jumps")
	assert.Greater(t, withLongWord, base)
}

func TestCount_CJK(t *testing.T) {
	// Each CJK rune inside a token counts roughly as its own token.
	latin := Count("hi")
	cjk := Count("你好")
	assert.Greater(t, cjk, latin)
}

// Monotonicity: count(a)+count(b) >= count(a+b) >= max(count(a),count(b)).
func TestCount_Monotonicity(t *testing.T) {
	cases := [][2]string{
		{"Hello", " world"},
		{"let me consider", " the answer"},
		{"", "non-empty"},
		{"foo bar", ""},
		{"日本語 ", "のテスト"},
	}

	for _, c := range cases {
		a, b := c[0], c[1]
		ca, cb, cab := Count(a), Count(b), Count(a+b)

		assert.LessOrEqual(t, cab, ca+cb, "count(%q+%q) should not exceed sum", a, b)

		maxAB := ca
		if cb > maxAB {
			maxAB = cb
		}
		assert.GreaterOrEqual(t, cab, maxAB, "count(%q+%q) should be at least the larger part", a, b)
	}
}
