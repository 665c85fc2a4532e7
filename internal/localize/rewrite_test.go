package localize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kicad-bakery/internal/sexpr"
)

func TestParseLibID(t *testing.T) {
	id, ok := ParseLibID("Device:R_0603")
	require.True(t, ok)
	assert.Equal(t, LibID{Library: "Device", Name: "R_0603"}, id)
	assert.Equal(t, "Device:R_0603", id.String())

	id, ok = ParseLibID("Conn:Pin:1")
	require.True(t, ok)
	assert.Equal(t, "Pin:1", id.Name)

	for _, bad := range []string{"", "R", ":R", "Device:", "  "} {
		_, ok := ParseLibID(bad)
		assert.False(t, ok, bad)
	}
}

func TestReplace_OnlyStructuralSitesChange(t *testing.T) {
	text := `(kicad_sch
	(symbol
		(lib_id "Device:R")
		(property "Value" "Device:R")
		(property "Footprint" "Device:R")
	)
	(text "Device:R")
)
`
	out, n, err := Replace(text, Rule{Site: footprintPropertySite, Subs: map[string]string{"Device:R": "MyLib:R"}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Contains(t, out, `(property "Footprint" "MyLib:R")`)
	assert.Contains(t, out, `(property "Value" "Device:R")`)
	assert.Contains(t, out, `(lib_id "Device:R")`)
	assert.Contains(t, out, `(text "Device:R")`)
}

func TestReplace_NoMatchReturnsInput(t *testing.T) {
	text := "(kicad_pcb\n  (footprint \"X:Y\")\n)"
	out, n, err := Replace(text, Rule{Site: boardFootprintSite, Subs: map[string]string{"A:B": "C:D"}})
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, text, out)
}

func TestReplace_ParentRestrictsSite(t *testing.T) {
	text := `(kicad_sch
	(lib_symbols
		(symbol "Device:R"
			(symbol "R_0_1")
		)
	)
	(symbol "Device:R")
)`
	subs := map[string]string{"Device:R": "MySymbols:R", "R_0_1": "X"}
	out, n, err := Replace(text, Rule{Site: cachedSymbolSite, Subs: subs})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Contains(t, out, `(symbol "MySymbols:R"`)
	assert.Contains(t, out, `(symbol "R_0_1")`)
	assert.Contains(t, out, "\t(symbol \"Device:R\")\n)")
}

func TestReplace_MalformedInput(t *testing.T) {
	_, _, err := Replace("(kicad_pcb (footprint", Rule{Site: boardFootprintSite})
	require.Error(t, err)
	assert.Equal(t, "parse", ErrorKind(err))
}

func TestApply_FirstMatchingRuleWins(t *testing.T) {
	tree, err := sexpr.Parse(`(kicad_pcb (footprint "A:B") (model "m.wrl"))`)
	require.NoError(t, err)

	n := Apply(tree,
		Rule{Site: boardFootprintSite, Subs: map[string]string{"A:B": "L:B"}},
		Rule{Site: modelSite, Subs: map[string]string{"m.wrl": "${KIPRJMOD}/m.wrl"}},
	)
	assert.Equal(t, 2, n)
	assert.Equal(t, `(kicad_pcb (footprint "L:B") (model "${KIPRJMOD}/m.wrl"))`, sexpr.Compact(tree))
}

func TestFind_ReturnsAncestors(t *testing.T) {
	tree, err := sexpr.Parse(`(kicad_sch (symbol (lib_id "Device:R") (property "Datasheet" "x.pdf")))`)
	require.NoError(t, err)

	matches := Find(tree, datasheetPropertySite)
	require.Len(t, matches, 1)
	assert.Equal(t, "x.pdf", matches[0].Value.Value)
	assert.Equal(t, "R", componentName(matches[0].Ancestors))
}

func TestPosition(t *testing.T) {
	text := "ab\ncd\nef"
	line, col := position(text, 4)
	assert.Equal(t, 2, line)
	assert.Equal(t, 2, col)
	line, col = position(text, -1)
	assert.Zero(t, line)
	assert.Zero(t, col)
}
