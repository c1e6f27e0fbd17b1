package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBlake2b_Generate(t *testing.T) {
	g := New()

	a := g.Generate("http://localhost/api/v1/things", `{"title":"x"}`)
	b := g.Generate("http://localhost/api/v1/things", `{"title":"x"}`)
	c := g.Generate("http://localhost/api/v1/things", `{"title":"y"}`)

	assert.Equal(t, a, b, "same parts must yield the same digest")
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}

func TestBlake2b_PartBoundaries(t *testing.T) {
	g := New()

	assert.NotEqual(t, g.Generate("ab", "c"), g.Generate("a", "bc"))
	assert.NotEqual(t, g.Generate("abc"), g.Generate("abc", ""))
}

func TestGeneratorFunc(t *testing.T) {
	var g Generator = GeneratorFunc(func(parts ...string) string { return parts[0] })
	assert.Equal(t, "first", g.Generate("first", "second"))
}
