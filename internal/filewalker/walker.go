package filewalker

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
)

// Kind identifies a KiCad design file type.
type Kind string

const (
	Schematic     Kind = "schematic"
	Board         Kind = "board"
	SymbolLibrary Kind = "symbol_library"
)

// SupportedExtensions maps the file extensions handled by the tool to their kind.
var SupportedExtensions = map[string]Kind{
	".kicad_sch": Schematic,
	".kicad_pcb": Board,
	".kicad_sym": SymbolLibrary,
}

// FileEntry represents a discovered design file.
type FileEntry struct {
	Path string
	Kind Kind
}

// Walker traverses a project directory and collects design files.
type Walker struct {
	kinds map[Kind]bool
}

// NewWalker creates a Walker for the given kinds, or every supported kind when
// none are given.
func NewWalker(kinds ...Kind) *Walker {
	w := &Walker{kinds: make(map[Kind]bool)}
	if len(kinds) == 0 {
		for _, k := range SupportedExtensions {
			w.kinds[k] = true
		}
	}
	for _, k := range kinds {
		w.kinds[k] = true
	}
	return w
}

// Walk discovers all supported files under root, recursing into
// subdirectories so hierarchical sheets are found. Hidden directories and the
// editor's *-backups directories are skipped. The result is sorted by path and
// contains each file once, even when a symlink points at another entry.
func (w *Walker) Walk(root string) ([]FileEntry, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root path: %w", err)
	}

	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root is not a directory: %s", root)
	}

	var entries []FileEntry
	seen := make(map[string]bool)

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("Error walking path")
			return nil
		}

		if d.IsDir() {
			if path != root && skipDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}

		kind, ok := SupportedExtensions[strings.ToLower(filepath.Ext(path))]
		if !ok || !w.kinds[kind] {
			return nil
		}

		key := path
		if resolved, err := filepath.EvalSymlinks(path); err == nil {
			key = resolved
		}
		if seen[key] {
			return nil
		}
		seen[key] = true
		entries = append(entries, FileEntry{Path: path, Kind: kind})
		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("walk directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })

	log.Info().Int("count", len(entries)).Str("root", root).Msg("Discovered files")
	return entries, nil
}

func skipDir(name string) bool {
	return strings.HasPrefix(name, ".") || strings.HasSuffix(name, "-backups")
}

// Filter returns the entries of any of the given kinds.
func Filter(entries []FileEntry, kinds ...Kind) []FileEntry {
	var out []FileEntry
	for _, e := range entries {
		for _, k := range kinds {
			if e.Kind == k {
				out = append(out, e)
				break
			}
		}
	}
	return out
}
