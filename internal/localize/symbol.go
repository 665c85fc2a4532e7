package localize

import (
	"context"
	"os"

	"kicad-bakery/internal/filewalker"
	"kicad-bakery/internal/libtable"
	"kicad-bakery/internal/sexpr"
	"kicad-bakery/internal/textutil"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog/log"
)

// Header fields of a symbol library created from scratch.
const (
	symbolLibVersion   = "20241209"
	symbolLibGenerator = "kicad_symbol_editor"
	symbolLibGenVer    = "9.0"
)

// SymbolLocalizer merges the schematic symbols of a project into one
// project-local symbol library. A derived symbol brings the symbols it extends.
type SymbolLocalizer struct {
	symbols map[string]*symbolAsset
	files   []filewalker.FileEntry
	subs    map[string]string
}

type symbolAsset struct {
	*Asset
	// nodes are the library definitions to copy, parents before children.
	nodes []*sexpr.Node
}

// NewSymbolLocalizer creates the symbol strategy.
func NewSymbolLocalizer() *SymbolLocalizer {
	return &SymbolLocalizer{}
}

func (l *SymbolLocalizer) Category() Category { return CategorySymbol }

func (l *SymbolLocalizer) Scan(ctx context.Context, s *Session) (*Plan, error) {
	l.symbols = make(map[string]*symbolAsset)
	l.files = nil
	cfg := s.Config()
	skipped := make(map[string]bool)

	for _, f := range s.Files(filewalker.Schematic) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		tree, text, err := s.Load(f.Path)
		if err != nil {
			s.Fail(CategorySymbol, f.Path, err)
			continue
		}
		found := false
		matches := append(Find(tree, libIDSite), Find(tree, cachedSymbolSite)...)
		for _, m := range matches {
			id, ok := ParseLibID(m.Value.Value)
			if !ok || id.Library == cfg.SymbolLib {
				continue
			}
			if cfg.skipSymbolLib(id.Library) {
				if !skipped[id.String()] {
					skipped[id.String()] = true
					s.Skip(CategorySymbol, id.String(), "library "+id.Library+" is not localized")
				}
				continue
			}
			a := l.symbols[id.String()]
			if a == nil {
				a = &symbolAsset{Asset: &Asset{
					Category: CategorySymbol,
					Key:      id.String(),
					Dest:     cfg.SymbolLibPath(),
					NewRef:   cfg.SymbolLib + ":" + id.Name,
				}}
				l.symbols[id.String()] = a
			}
			a.Refs = append(a.Refs, s.Reference(CategorySymbol, f.Path, text, m))
			found = true
		}
		if found {
			l.files = append(l.files, f)
		}
	}

	plan := &Plan{}
	for _, key := range sortedKeys(l.symbols) {
		a := l.symbols[key]
		l.resolve(s, a)
		plan.Assets = append(plan.Assets, a.Asset)
	}
	for _, f := range l.files {
		plan.Writes = append(plan.Writes, f.Path)
	}
	if len(l.symbols) > 0 {
		plan.Writes = append(plan.Writes, cfg.SymbolLibPath())
		plan.Creates = append(plan.Creates, cfg.SymbolLibPath(), cfg.SymbolTablePath())
	}
	return plan, nil
}

func (l *SymbolLocalizer) resolve(s *Session, a *symbolAsset) {
	id, _ := ParseLibID(a.Key)
	path, err := s.Resolve(libtable.Symbol, id.Library)
	if err != nil {
		a.err = err
		return
	}
	a.Source = path
	lib, _, err := s.Load(path)
	if err != nil {
		a.err = errors.Wrapf(err, "symbol library %s", id.Library)
		return
	}

	// Follow (extends ...) up to the root symbol.
	seen := make(map[string]bool)
	name := id.Name
	for name != "" && !seen[name] {
		seen[name] = true
		def := findSymbol(lib, name)
		if def == nil {
			a.err = errors.Wrapf(ErrAssetNotFound, "symbol %q in %s", name, path)
			return
		}
		a.nodes = append([]*sexpr.Node{def}, a.nodes...)
		name, _ = def.Field("extends")
	}
	a.Identity = textutil.Hash(sexpr.Compact(a.nodes[len(a.nodes)-1]))
}

// findSymbol returns the top-level definition of name in a symbol library.
func findSymbol(lib *sexpr.Node, name string) *sexpr.Node {
	for _, sym := range lib.ChildrenNamed("symbol") {
		if sym.ArgValue(1) == name {
			return sym
		}
	}
	return nil
}

func newSymbolLib() *sexpr.Node {
	return sexpr.NewList("kicad_symbol_lib",
		sexpr.NewList("version", sexpr.NewAtom(symbolLibVersion)),
		sexpr.NewList("generator", sexpr.NewString(symbolLibGenerator)),
		sexpr.NewList("generator_version", sexpr.NewString(symbolLibGenVer)),
	)
}

func (l *SymbolLocalizer) Copy(ctx context.Context, s *Session) {
	l.subs = make(map[string]string)
	if len(l.symbols) == 0 {
		return
	}
	cfg := s.Config()
	path := cfg.SymbolLibPath()

	lib := newSymbolLib()
	if _, err := os.Stat(path); err == nil {
		existing, _, err := s.Load(path)
		if err == nil && existing.Head() != "kicad_symbol_lib" {
			err = errors.Wrapf(ErrParse, "%s is not a symbol library", path)
		}
		if err != nil {
			for _, key := range sortedKeys(l.symbols) {
				s.Attempt(CategorySymbol)
				s.Fail(CategorySymbol, key, err)
			}
			return
		}
		lib = existing
	}

	type result struct {
		a      *symbolAsset
		reused bool
	}
	var results []result
	changed := false

	for _, key := range sortedKeys(l.symbols) {
		if ctx.Err() != nil {
			break
		}
		a := l.symbols[key]
		s.Attempt(CategorySymbol)
		if a.err != nil {
			s.Fail(CategorySymbol, a.Key, a.err)
			continue
		}

		var add []*sexpr.Node
		var conflict error
		reused := true
		for i, def := range a.nodes {
			name := def.ArgValue(1)
			if have := findSymbol(lib, name); have != nil {
				if !sexpr.Equal(have, def) {
					conflict = errors.WithHintf(
						errors.Wrapf(ErrNameConflict, "%s already defines %q differently", path, name),
						"rename the symbol in %s or remove it from %s", a.Source, path)
					break
				}
				continue
			}
			if i == len(a.nodes)-1 {
				reused = false
			}
			add = append(add, def)
		}
		if conflict != nil {
			s.Fail(CategorySymbol, a.Key, conflict)
			continue
		}
		for _, def := range add {
			lib.Append(def.Clone().Detach())
			changed = true
		}
		results = append(results, result{a: a, reused: reused})
	}

	if changed {
		if err := s.Commit(path, []byte(sexpr.Serialize(lib))); err != nil {
			for _, r := range results {
				s.Fail(CategorySymbol, r.a.Key, err)
			}
			return
		}
		log.Info().Str("library", path).Int("symbols", len(results)).Msg("Updated project symbol library")
	}
	for _, r := range results {
		s.Placed(r.a.Asset, r.reused)
		l.subs[r.a.Key] = r.a.NewRef
	}
}

func (l *SymbolLocalizer) Rewrite(ctx context.Context, s *Session) {
	if len(l.subs) == 0 {
		return
	}
	for _, f := range l.files {
		if ctx.Err() != nil {
			return
		}
		s.RewriteFile(CategorySymbol, f.Path,
			Rule{Site: libIDSite, Subs: l.subs},
			Rule{Site: cachedSymbolSite, Subs: l.subs})
	}
}

func (l *SymbolLocalizer) UpdateTables(ctx context.Context, s *Session) {
	if len(l.subs) == 0 {
		return
	}
	cfg := s.Config()
	s.AddTableEntry(CategorySymbol, libtable.Symbol, libtable.Entry{
		Name:  cfg.SymbolLib,
		Type:  "KiCad",
		URI:   s.Vars().ProjectPath(cfg.SymbolDir + "/" + cfg.SymbolLib + ".kicad_sym"),
		Descr: "Local project symbol library",
	})
}
