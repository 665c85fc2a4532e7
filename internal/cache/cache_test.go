package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kicad-bakery/internal/sexpr"
)

func TestParseCache_HitReturnsPrivateCopy(t *testing.T) {
	c := NewParseCache(4)

	first, err := c.Parse("/p/a.kicad_sch", `(kicad_sch (lib_id "Device:R"))`)
	require.NoError(t, err)
	first.Child("lib_id").Arg(1).SetValue("MyLib:R")

	second, err := c.Parse("/p/a.kicad_sch", `(kicad_sch (lib_id "Device:R"))`)
	require.NoError(t, err)
	v, _ := second.Field("lib_id")
	assert.Equal(t, "Device:R", v, "edits to a returned tree must not leak into the cache")

	hits, misses := c.Stats()
	assert.Equal(t, 1, hits)
	assert.Equal(t, 1, misses)
}

func TestParseCache_ChangedContentIsNeverStale(t *testing.T) {
	c := NewParseCache(4)

	_, err := c.Parse("/p/a.kicad_sch", "(kicad_sch (version 1))")
	require.NoError(t, err)

	tree, err := c.Parse("/p/a.kicad_sch", "(kicad_sch (version 2))")
	require.NoError(t, err)
	v, _ := tree.Field("version")
	assert.Equal(t, "2", v)

	// The superseded content of the same path is dropped.
	assert.Equal(t, 1, c.Len())
	_, ok := c.Get(IdentityOf("/p/a.kicad_sch", "(kicad_sch (version 1))"))
	assert.False(t, ok)
}

func TestParseCache_EvictsByAccessOrder(t *testing.T) {
	c := NewParseCache(2)
	texts := map[string]string{
		"a": "(a)",
		"b": "(b)",
		"c": "(c)",
	}

	_, err := c.Parse("a", texts["a"])
	require.NoError(t, err)
	_, err = c.Parse("b", texts["b"])
	require.NoError(t, err)
	_, ok := c.Get(IdentityOf("a", texts["a"]))
	require.True(t, ok)

	_, err = c.Parse("c", texts["c"])
	require.NoError(t, err)

	assert.Equal(t, 2, c.Len())
	_, ok = c.Get(IdentityOf("b", texts["b"]))
	assert.False(t, ok, "b was least recently used")
	_, ok = c.Get(IdentityOf("a", texts["a"]))
	assert.True(t, ok)
	_, ok = c.Get(IdentityOf("c", texts["c"]))
	assert.True(t, ok)
}

func TestParseCache_ParseErrorsAreNotCached(t *testing.T) {
	c := NewParseCache(2)

	_, err := c.Parse("bad", "(unclosed")
	require.Error(t, err)
	assert.ErrorIs(t, err, sexpr.ErrParse)
	assert.Equal(t, 0, c.Len())
}
