package localize

import (
	"context"
	"os"
	"path/filepath"
	"sort"

	"kicad-bakery/internal/filewalker"
	"kicad-bakery/internal/libtable"
	"kicad-bakery/internal/sexpr"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog/log"
)

// FootprintLocalizer copies footprints, and the 3D models they use, into the
// project footprint library.
type FootprintLocalizer struct {
	footprints map[string]*footprintAsset
	models     map[string]*Asset // by resolved source path
	files      []filewalker.FileEntry

	fpSubs    map[string]string
	modelSubs map[string]string
}

type footprintAsset struct {
	*Asset
	tree *sexpr.Node
	// models maps each model path written in the footprint to the model
	// asset key.
	models map[string]string
}

// NewFootprintLocalizer creates the footprint strategy.
func NewFootprintLocalizer() *FootprintLocalizer {
	return &FootprintLocalizer{}
}

func (l *FootprintLocalizer) Category() Category { return CategoryFootprint }

func (l *FootprintLocalizer) Scan(ctx context.Context, s *Session) (*Plan, error) {
	l.footprints = make(map[string]*footprintAsset)
	l.models = make(map[string]*Asset)
	l.files = nil
	cfg := s.Config()

	for _, f := range s.Files(filewalker.Schematic, filewalker.Board) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		tree, text, err := s.Load(f.Path)
		if err != nil {
			s.Fail(CategoryFootprint, f.Path, err)
			continue
		}
		site := footprintPropertySite
		if f.Kind == filewalker.Board {
			site = boardFootprintSite
		}
		found := false
		for _, m := range Find(tree, site) {
			id, ok := ParseLibID(m.Value.Value)
			if !ok || id.Library == cfg.FootprintLib {
				continue
			}
			a := l.footprints[id.String()]
			if a == nil {
				a = &footprintAsset{Asset: &Asset{
					Category: CategoryFootprint,
					Key:      id.String(),
					Dest:     filepath.Join(cfg.FootprintLibDir(), id.Name+".kicad_mod"),
					NewRef:   cfg.FootprintLib + ":" + id.Name,
				}}
				l.footprints[id.String()] = a
			}
			a.Refs = append(a.Refs, s.Reference(CategoryFootprint, f.Path, text, m))
			found = true
		}
		if found {
			l.files = append(l.files, f)
		}
	}

	plan := &Plan{}
	for _, key := range sortedKeys(l.footprints) {
		a := l.footprints[key]
		l.resolve(s, a)
		plan.Assets = append(plan.Assets, a.Asset)
		plan.Creates = append(plan.Creates, a.Dest)
	}
	for _, key := range sortedKeys(l.models) {
		plan.Assets = append(plan.Assets, l.models[key])
		plan.Creates = append(plan.Creates, l.models[key].Dest)
	}
	for _, f := range l.files {
		plan.Writes = append(plan.Writes, f.Path)
	}
	if len(l.footprints) > 0 {
		plan.Creates = append(plan.Creates, cfg.FootprintTablePath())
	}
	return plan, nil
}

// resolve locates the source footprint and the models it uses.
func (l *FootprintLocalizer) resolve(s *Session, a *footprintAsset) {
	id, _ := ParseLibID(a.Key)
	dir, err := s.Resolve(libtable.Footprint, id.Library)
	if err != nil {
		a.err = err
		return
	}
	a.Source = filepath.Join(dir, id.Name+".kicad_mod")
	tree, _, err := s.Load(a.Source)
	if err != nil {
		a.err = errors.Wrapf(err, "footprint %s", a.Key)
		return
	}
	a.tree = tree
	a.models = make(map[string]string)

	cfg := s.Config()
	for _, m := range Find(tree, modelSite) {
		raw := m.Value.Value
		if raw == "" || s.Vars().IsProjectRelative(raw) {
			continue
		}
		path, err := s.Vars().ExpandPath(raw)
		if err == nil && !filepath.IsAbs(path) {
			path = filepath.Join(cfg.ProjectDir, path)
		}
		key := path
		if err != nil {
			key = raw
		}
		model := l.models[key]
		if model == nil {
			base := filepath.Base(filepath.FromSlash(raw))
			if err == nil {
				base = filepath.Base(path)
			}
			model = &Asset{
				Category: CategoryModel,
				Key:      raw,
				Source:   path,
				Dest:     filepath.Join(cfg.ModelsPath(), base),
				NewRef:   s.Vars().ProjectPath(filepath.ToSlash(filepath.Join(cfg.ModelsDir, base))),
			}
			if err != nil {
				model.err = errors.Mark(err, ErrAssetNotFound)
			}
			l.models[key] = model
		}
		a.models[raw] = key
	}
}

func (l *FootprintLocalizer) Copy(ctx context.Context, s *Session) {
	l.modelSubs = make(map[string]string)
	l.fpSubs = make(map[string]string)

	// Models first, so copied footprints can point at their local copies.
	placedModels := make(map[string]bool)
	for _, key := range sortedKeys(l.models) {
		m := l.models[key]
		s.Attempt(CategoryModel)
		if m.err != nil {
			s.Fail(CategoryModel, m.Key, m.err)
			continue
		}
		data, err := os.ReadFile(m.Source)
		if err != nil {
			if os.IsNotExist(err) {
				err = errors.Mark(err, ErrAssetNotFound)
			}
			s.Fail(CategoryModel, m.Key, errors.Wrapf(err, "3D model"))
			continue
		}
		if s.Place(m, data) {
			placedModels[key] = true
		}
	}

	for _, key := range sortedKeys(l.footprints) {
		if ctx.Err() != nil {
			return
		}
		a := l.footprints[key]
		s.Attempt(CategoryFootprint)
		if a.err != nil {
			s.Fail(CategoryFootprint, a.Key, a.err)
			continue
		}
		subs := make(map[string]string)
		for raw, mkey := range a.models {
			if placedModels[mkey] {
				subs[raw] = l.models[mkey].NewRef
			}
		}
		tree := a.tree.Clone()
		Apply(tree, Rule{Site: modelSite, Subs: subs})
		if !s.Place(a.Asset, []byte(sexpr.Serialize(tree))) {
			continue
		}
		l.fpSubs[a.Key] = a.NewRef
		for raw, local := range subs {
			l.modelSubs[raw] = local
		}
	}
	log.Info().Int("footprints", len(l.fpSubs)).Int("models", len(placedModels)).Msg("Footprints in place")
}

func (l *FootprintLocalizer) Rewrite(ctx context.Context, s *Session) {
	if len(l.fpSubs) == 0 && len(l.modelSubs) == 0 {
		return
	}
	for _, f := range l.files {
		if ctx.Err() != nil {
			return
		}
		switch f.Kind {
		case filewalker.Board:
			s.RewriteFile(CategoryFootprint, f.Path,
				Rule{Site: boardFootprintSite, Subs: l.fpSubs},
				Rule{Site: modelSite, Subs: l.modelSubs})
		default:
			s.RewriteFile(CategoryFootprint, f.Path, Rule{Site: footprintPropertySite, Subs: l.fpSubs})
		}
	}
}

func (l *FootprintLocalizer) UpdateTables(ctx context.Context, s *Session) {
	if len(l.fpSubs) == 0 {
		return
	}
	cfg := s.Config()
	s.AddTableEntry(CategoryFootprint, libtable.Footprint, libtable.Entry{
		Name:  cfg.FootprintLib,
		Type:  "KiCad",
		URI:   s.Vars().ProjectPath(cfg.FootprintLib + ".pretty"),
		Descr: "Local project library",
	})
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
