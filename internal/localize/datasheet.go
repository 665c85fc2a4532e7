package localize

import (
	"context"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"kicad-bakery/internal/fetch"
	"kicad-bakery/internal/filewalker"
	"kicad-bakery/internal/sexpr"
	"kicad-bakery/internal/textutil"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog/log"
)

// DatasheetLocalizer downloads or copies the datasheets named in Datasheet
// properties into the project datasheet folder.
type DatasheetLocalizer struct {
	sheets map[string]*datasheetAsset
	subs   map[string]string
}

type datasheetAsset struct {
	*Asset
	remote bool
	// component names the fallback file name.
	component string
}

// NewDatasheetLocalizer creates the datasheet strategy.
func NewDatasheetLocalizer() *DatasheetLocalizer {
	return &DatasheetLocalizer{}
}

func (l *DatasheetLocalizer) Category() Category { return CategoryDatasheet }

func (l *DatasheetLocalizer) Scan(ctx context.Context, s *Session) (*Plan, error) {
	l.sheets = make(map[string]*datasheetAsset)
	cfg := s.Config()
	skipped := make(map[string]bool)
	plan := &Plan{}

	for _, f := range s.Files(filewalker.Schematic, filewalker.SymbolLibrary) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		tree, text, err := s.Load(f.Path)
		if err != nil {
			s.Fail(CategoryDatasheet, f.Path, err)
			continue
		}
		found := false
		for _, m := range Find(tree, datasheetPropertySite) {
			value := strings.TrimSpace(m.Value.Value)
			if value == "" || value == "~" || s.Vars().IsProjectRelative(value) {
				continue
			}
			remote := textutil.IsWebURL(value)
			if !remote && !strings.EqualFold(filepath.Ext(value), ".pdf") {
				if !skipped[value] {
					skipped[value] = true
					s.Skip(CategoryDatasheet, value, "local datasheet is not a PDF")
				}
				continue
			}
			a := l.sheets[m.Value.Value]
			if a == nil {
				a = &datasheetAsset{
					Asset: &Asset{
						Category: CategoryDatasheet,
						Key:      m.Value.Value,
						Source:   value,
					},
					remote:    remote,
					component: componentName(m.Ancestors),
				}
				if !remote {
					l.resolveLocal(s, a)
				}
				l.sheets[m.Value.Value] = a
			}
			a.Refs = append(a.Refs, s.Reference(CategoryDatasheet, f.Path, text, m))
			found = true
		}
		if found {
			plan.Writes = append(plan.Writes, f.Path)
		}
	}

	for _, key := range sortedKeys(l.sheets) {
		a := l.sheets[key]
		plan.Assets = append(plan.Assets, a.Asset)
		if a.Dest != "" {
			plan.Creates = append(plan.Creates, a.Dest)
		}
	}
	if len(l.sheets) > 0 {
		// Symbols copied by this run carry their datasheet links along.
		plan.Creates = append(plan.Creates, cfg.SymbolLibPath())
	}
	return plan, nil
}

func (l *DatasheetLocalizer) resolveLocal(s *Session, a *datasheetAsset) {
	p, err := s.Vars().ExpandPath(a.Source)
	if err != nil {
		a.err = errors.Mark(err, ErrAssetNotFound)
		return
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(s.Config().ProjectDir, p)
	}
	a.Source = p
	l.setName(s, a, filepath.Base(p))
}

func (l *DatasheetLocalizer) setName(s *Session, a *datasheetAsset, name string) {
	cfg := s.Config()
	a.Dest = filepath.Join(cfg.DatasheetsPath(), name)
	a.NewRef = s.Vars().ProjectPath(cfg.DatasheetsDir + "/" + name)
}

// componentName finds the symbol that owns a Datasheet property: the lib_id
// of a placed symbol, or the name of a library definition.
func componentName(ancestors []*sexpr.Node) string {
	for i := len(ancestors) - 1; i >= 0; i-- {
		n := ancestors[i]
		if n.Head() != "symbol" {
			continue
		}
		name, ok := n.Field("lib_id")
		if !ok {
			name = n.ArgValue(1)
		}
		if id, ok := ParseLibID(name); ok {
			name = id.Name
		}
		if name = textutil.SanitizeFileName(name); name != "" {
			return name
		}
	}
	return "datasheet"
}

// remoteName picks the local file name for a URL: its own base name when it
// ends in .pdf, else the server's suggested name, else the component name. It
// reports false when the server says the resource is not a PDF.
func (l *DatasheetLocalizer) remoteName(ctx context.Context, s *Session, a *datasheetAsset) (string, bool) {
	if u, err := url.Parse(a.Source); err == nil {
		base := path.Base(u.Path)
		if strings.EqualFold(path.Ext(base), ".pdf") {
			if name := textutil.SanitizeFileName(base); name != "" {
				return name, true
			}
		}
	}

	fallback := a.component + ".pdf"
	head, err := s.Fetcher().Probe(ctx, a.Source)
	if err != nil {
		log.Debug().Err(err).Str("url", a.Source).Msg("Probe failed, using component name")
		return fallback, true
	}
	if fetch.IsNonPDF(head.ContentType) {
		return "", false
	}
	if head.FileName != "" {
		name := textutil.SanitizeFileName(head.FileName)
		if name != "" {
			if !strings.EqualFold(filepath.Ext(name), ".pdf") {
				name += ".pdf"
			}
			return name, true
		}
	}
	return fallback, true
}

func (l *DatasheetLocalizer) Copy(ctx context.Context, s *Session) {
	l.subs = make(map[string]string)
	for _, key := range sortedKeys(l.sheets) {
		if ctx.Err() != nil {
			return
		}
		a := l.sheets[key]
		if a.remote {
			name, ok := l.remoteName(ctx, s, a)
			if !ok {
				s.Skip(CategoryDatasheet, a.Key, "remote resource is not a PDF")
				continue
			}
			l.setName(s, a, name)
		}

		s.Attempt(CategoryDatasheet)
		if a.err != nil {
			s.Fail(CategoryDatasheet, a.Key, a.err)
			continue
		}

		var data []byte
		if a.remote {
			resp, err := s.Fetcher().Get(ctx, a.Source)
			if err != nil {
				s.Fail(CategoryDatasheet, a.Key, err)
				continue
			}
			data = resp.Body
			if !fetch.LooksLikePDF(data) {
				log.Warn().Str("url", a.Source).Msg("Downloaded datasheet does not look like a PDF")
			}
		} else {
			b, err := os.ReadFile(a.Source)
			if err != nil {
				if os.IsNotExist(err) {
					err = errors.Mark(err, ErrAssetNotFound)
				}
				s.Fail(CategoryDatasheet, a.Key, errors.Wrapf(err, "datasheet"))
				continue
			}
			data = b
		}

		if s.Place(a.Asset, data) {
			l.subs[a.Key] = a.NewRef
		}
	}
}

// Rewrite rescans the project's schematics and symbol libraries, so symbols
// copied earlier in the run get the local links too.
func (l *DatasheetLocalizer) Rewrite(ctx context.Context, s *Session) {
	if len(l.subs) == 0 {
		return
	}
	paths := make(map[string]bool)
	for _, f := range s.Files(filewalker.Schematic, filewalker.SymbolLibrary) {
		paths[f.Path] = true
	}
	if _, err := os.Stat(s.Config().SymbolLibPath()); err == nil {
		paths[s.Config().SymbolLibPath()] = true
	}
	for _, p := range sortedKeys(paths) {
		if ctx.Err() != nil {
			return
		}
		s.RewriteFile(CategoryDatasheet, p, Rule{Site: datasheetPropertySite, Subs: l.subs})
	}
}

func (l *DatasheetLocalizer) UpdateTables(ctx context.Context, s *Session) {}
