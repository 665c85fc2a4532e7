package sexpr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerialize_EditedAtomKeepsSurroundingLayout(t *testing.T) {
	text := "(kicad_pcb\n\t(footprint \"Device:R\"\n\t\t(layer \"F.Cu\")\n\t)\n\t(footprint Device:C)\n)\n"
	tree, err := Parse(text)
	require.NoError(t, err)

	fps := tree.ChildrenNamed("footprint")
	require.Len(t, fps, 2)
	fps[0].Arg(1).SetValue("MyLib:R")
	fps[1].Arg(1).SetValue("MyLib:C")

	want := "(kicad_pcb\n\t(footprint \"MyLib:R\"\n\t\t(layer \"F.Cu\")\n\t)\n\t(footprint MyLib:C)\n)\n"
	assert.Equal(t, want, Serialize(tree))
}

func TestSerialize_EditedBareAtomGainsQuotesWhenNeeded(t *testing.T) {
	tree, err := Parse("(model path/a.wrl)")
	require.NoError(t, err)

	tree.Arg(1).SetValue("${KIPRJMOD}/3D Models/a.wrl")
	assert.Equal(t, `(model "${KIPRJMOD}/3D Models/a.wrl")`, Serialize(tree))
}

func TestSerialize_EscapesEditedStrings(t *testing.T) {
	tree, err := Parse(`(property "Value" "x")`)
	require.NoError(t, err)

	tree.Arg(2).SetValue("a \"b\" \\ c\nd")
	assert.Equal(t, `(property "Value" "a \"b\" \\ c\nd")`, Serialize(tree))

	again, err := Parse(Serialize(tree))
	require.NoError(t, err)
	assert.Equal(t, "a \"b\" \\ c\nd", again.ArgValue(2))
}

func TestSerialize_FreshLibraryTable(t *testing.T) {
	table := NewList("fp_lib_table",
		NewList("version", NewAtom("7")),
		NewList("lib",
			NewList("name", NewString("MyLib")),
			NewList("type", NewString("KiCad")),
			NewList("uri", NewString("${KIPRJMOD}/MyLib.pretty")),
			NewList("options", NewString("")),
			NewList("descr", NewString("")),
		),
	)

	want := "(fp_lib_table\n" +
		"\t(version 7)\n" +
		"\t(lib (name \"MyLib\")(type \"KiCad\")(uri \"${KIPRJMOD}/MyLib.pretty\")(options \"\")(descr \"\"))\n" +
		")\n"
	assert.Equal(t, want, Serialize(table))
}

func TestSerialize_AppendFollowsSiblingLayout(t *testing.T) {
	text := "(sym_lib_table\n  (version 7)\n  (lib (name \"A\")(type \"KiCad\")(uri \"/a.kicad_sym\")(options \"\")(descr \"\"))\n)\n"
	tree, err := Parse(text)
	require.NoError(t, err)

	tree.Append(NewList("lib",
		NewList("name", NewString("B")),
		NewList("type", NewString("KiCad")),
	))

	want := "(sym_lib_table\n  (version 7)\n  (lib (name \"A\")(type \"KiCad\")(uri \"/a.kicad_sym\")(options \"\")(descr \"\"))\n" +
		"  (lib (name \"B\")(type \"KiCad\"))\n)\n"
	assert.Equal(t, want, Serialize(tree))
}

func TestSerialize_MovedSubtreeKeepsInnerLayout(t *testing.T) {
	src, err := Parse("(kicad_symbol_lib\n\t(version 20241209)\n\t(symbol \"R\"\n\t\t(property \"Reference\" \"R\")\n\t)\n)\n")
	require.NoError(t, err)

	sym := src.Child("symbol").Clone().Detach()
	dst := NewList("kicad_symbol_lib",
		NewList("version", NewAtom("20241209")),
		NewList("generator", NewString("kicad_symbol_editor")),
	)
	dst.Append(sym)

	want := "(kicad_symbol_lib\n" +
		"\t(version 20241209)\n" +
		"\t(generator \"kicad_symbol_editor\")\n" +
		"\t(symbol \"R\"\n\t\t(property \"Reference\" \"R\")\n\t)\n" +
		")\n"
	assert.Equal(t, want, Serialize(dst))
}

func TestCompact_IgnoresLayout(t *testing.T) {
	a, err := Parse("(symbol \"R\"\n\t(pin_numbers hide)\n)")
	require.NoError(t, err)
	b, err := Parse("(symbol \"R\" (pin_numbers   hide))")
	require.NoError(t, err)

	assert.Equal(t, Compact(a), Compact(b))
	assert.Equal(t, `(symbol "R" (pin_numbers hide))`, Compact(a))
}
