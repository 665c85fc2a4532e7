package filewalker

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("(x)"), 0o644))
}

func TestWalk_FindsHierarchicalSheetsInOrder(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "top.kicad_sch"))
	touch(t, filepath.Join(root, "sub", "power.kicad_sch"))
	touch(t, filepath.Join(root, "sub", "deeper", "adc.KICAD_SCH"))
	touch(t, filepath.Join(root, "top.kicad_pcb"))
	touch(t, filepath.Join(root, "MySym", "MySymbols.kicad_sym"))
	touch(t, filepath.Join(root, "notes.txt"))
	touch(t, filepath.Join(root, ".history", "old.kicad_sch"))
	touch(t, filepath.Join(root, "top-backups", "top.kicad_sch"))
	touch(t, filepath.Join(root, "top.kicad_sch.bak_20260101_000000"))

	entries, err := NewWalker().Walk(root)
	require.NoError(t, err)

	var got []string
	for _, e := range entries {
		rel, _ := filepath.Rel(root, e.Path)
		got = append(got, filepath.ToSlash(rel)+":"+string(e.Kind))
	}
	assert.Equal(t, []string{
		"MySym/MySymbols.kicad_sym:symbol_library",
		"sub/deeper/adc.KICAD_SCH:schematic",
		"sub/power.kicad_sch:schematic",
		"top.kicad_pcb:board",
		"top.kicad_sch:schematic",
	}, got)

	assert.Len(t, Filter(entries, Schematic), 3)
	assert.Len(t, Filter(entries, Schematic, Board), 4)
	assert.Empty(t, Filter(entries))
}

func TestWalk_OnlyRequestedKinds(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "a.kicad_sch"))
	touch(t, filepath.Join(root, "a.kicad_pcb"))

	entries, err := NewWalker(Board).Walk(root)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, Board, entries[0].Kind)
}

func TestWalk_DeduplicatesSymlinkedFiles(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "a.kicad_sch")
	touch(t, target)
	if err := os.Symlink(target, filepath.Join(root, "b.kicad_sch")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	entries, err := NewWalker().Walk(root)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestWalk_RootMustBeDirectory(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "a.kicad_sch")
	touch(t, file)

	_, err := NewWalker().Walk(file)
	assert.Error(t, err)
	_, err = NewWalker().Walk(filepath.Join(root, "missing"))
	assert.Error(t, err)
}
