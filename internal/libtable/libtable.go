// Package libtable reads and writes KiCad library tables (fp-lib-table and
// sym-lib-table), which map a library nickname to its storage location.
package libtable

import (
	"fmt"
	"os"
	"strings"

	"kicad-bakery/internal/fsutil"
	"kicad-bakery/internal/sexpr"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog/log"
)

// Kind selects the footprint or symbol table format.
type Kind string

const (
	Footprint Kind = "fp_lib_table"
	Symbol    Kind = "sym_lib_table"
)

// FileName is the conventional file name of a table of this kind.
func (k Kind) FileName() string {
	return strings.ReplaceAll(string(k), "_", "-")
}

// TableVersion is written into tables created from scratch.
const TableVersion = "7"

// ErrNameConflict is returned when a nickname is already registered with
// different fields.
var ErrNameConflict = errors.New("library nickname already registered")

// ErrFormat is returned when a table file does not have the expected shape.
var ErrFormat = errors.New("invalid library table")

// Entry is one (lib ...) record.
type Entry struct {
	Name    string
	Type    string
	URI     string
	Options string
	Descr   string
}

func (e Entry) fields() [][2]string {
	return [][2]string{
		{"name", e.Name},
		{"type", e.Type},
		{"uri", e.URI},
		{"options", e.Options},
		{"descr", e.Descr},
	}
}

func (e Entry) node() *sexpr.Node {
	lib := sexpr.NewList("lib")
	for _, f := range e.fields() {
		lib.Append(sexpr.NewList(f[0], sexpr.NewString(f[1])))
	}
	return lib
}

func entryOf(lib *sexpr.Node) Entry {
	var e Entry
	e.Name, _ = lib.Field("name")
	e.Type, _ = lib.Field("type")
	e.URI, _ = lib.Field("uri")
	e.Options, _ = lib.Field("options")
	e.Descr, _ = lib.Field("descr")
	return e
}

// Table is a loaded library table. Content not understood by Table, such as
// extra fields or comments in descr, is preserved when saving.
type Table struct {
	Kind Kind
	Path string
	root *sexpr.Node
}

// New creates an empty table of the given kind.
func New(kind Kind, path string) *Table {
	return &Table{
		Kind: kind,
		Path: path,
		root: sexpr.NewList(string(kind), sexpr.NewList("version", sexpr.NewAtom(TableVersion))),
	}
}

// Load reads the table at path. A missing file yields an empty table that is
// created on Save.
func Load(path string, kind Kind) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return New(kind, path), nil
		}
		return nil, fmt.Errorf("read library table: %w", err)
	}
	return Parse(path, kind, string(data))
}

// Parse builds a table from text.
func Parse(path string, kind Kind, text string) (*Table, error) {
	root, err := sexpr.Parse(text)
	if err != nil {
		return nil, errors.Wrapf(err, "parse %s", path)
	}
	if root.Head() != string(kind) {
		return nil, errors.Wrapf(ErrFormat, "%s: root is %q, want %q", path, root.Head(), kind)
	}
	return &Table{Kind: kind, Path: path, root: root}, nil
}

// Entries returns all entries in file order.
func (t *Table) Entries() []Entry {
	libs := t.root.ChildrenNamed("lib")
	out := make([]Entry, 0, len(libs))
	for _, lib := range libs {
		out = append(out, entryOf(lib))
	}
	return out
}

// Lookup finds the entry with the given nickname.
func (t *Table) Lookup(name string) (Entry, bool) {
	if lib := t.find(name); lib != nil {
		return entryOf(lib), true
	}
	return Entry{}, false
}

func (t *Table) find(name string) *sexpr.Node {
	for _, lib := range t.root.ChildrenNamed("lib") {
		if n, _ := lib.Field("name"); n == name {
			return lib
		}
	}
	return nil
}

// Add registers e. Adding an entry identical to an existing one is a no-op and
// reports false; an existing nickname with different fields is rejected with
// ErrNameConflict and the table is left unchanged.
func (t *Table) Add(e Entry) (bool, error) {
	if e.Name == "" {
		return false, errors.New("library nickname is empty")
	}
	if existing, ok := t.Lookup(e.Name); ok {
		if existing == e {
			return false, nil
		}
		return false, errors.WithHintf(
			errors.Wrapf(ErrNameConflict, "%s %q is registered with %s", t.Kind.FileName(), e.Name, differences(existing, e)),
			"choose a different library name or edit %s by hand", t.Path)
	}
	t.root.Append(e.node())
	log.Debug().Str("table", t.Path).Str("name", e.Name).Msg("Added library table entry")
	return true, nil
}

// differences describes the fields in which want differs from have.
func differences(have, want Entry) string {
	w := want.fields()
	var parts []string
	for i, f := range have.fields() {
		if f[1] != w[i][1] {
			parts = append(parts, fmt.Sprintf("%s %q, not %q", f[0], f[1], w[i][1]))
		}
	}
	return strings.Join(parts, "; ")
}

// Set adds e or overwrites the fields of the existing entry with its nickname.
func (t *Table) Set(e Entry) {
	lib := t.find(e.Name)
	if lib == nil {
		t.root.Append(e.node())
		return
	}
	for _, f := range e.fields() {
		if c := lib.Child(f[0]); c != nil && len(c.Children) >= 2 {
			c.Children[1].SetValue(f[1])
			continue
		}
		lib.Append(sexpr.NewList(f[0], sexpr.NewString(f[1])))
	}
}

// Remove deletes the entry with the given nickname.
func (t *Table) Remove(name string) bool {
	lib := t.find(name)
	if lib == nil {
		return false
	}
	return t.root.Remove(lib)
}

// Bytes renders the table.
func (t *Table) Bytes() []byte {
	return []byte(sexpr.Serialize(t.root))
}

// Save writes the table to its path with a temp-file-then-rename sequence.
func (t *Table) Save() error {
	if err := fsutil.WriteAtomic(t.Path, t.Bytes(), fsutil.FileMode(t.Path, 0o644)); err != nil {
		return fmt.Errorf("save library table %s: %w", t.Path, err)
	}
	log.Info().Str("table", t.Path).Int("entries", len(t.root.ChildrenNamed("lib"))).Msg("Saved library table")
	return nil
}
