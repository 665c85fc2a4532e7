// Package localize copies the external library assets a KiCad project refers
// to into the project and rewrites the project's files to use the copies.
//
// A run moves through fixed phases: Scan, Validate, Backup, Copy, Rewrite,
// UpdateTables and Report. Scan and Validate never touch the disk; a lock or
// path safety problem found by Validate aborts the run before anything is
// backed up or written. Later phases record per-item failures in the Report and
// keep going.
package localize

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"kicad-bakery/internal/backup"
	"kicad-bakery/internal/cache"
	"kicad-bakery/internal/fetch"
	"kicad-bakery/internal/filewalker"
	"kicad-bakery/internal/fsutil"
	"kicad-bakery/internal/interpolation"
	"kicad-bakery/internal/libtable"
	"kicad-bakery/internal/lockcheck"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Fetcher downloads remote datasheets.
type Fetcher interface {
	Get(ctx context.Context, url string) (*fetch.Response, error)
	Probe(ctx context.Context, url string) (*fetch.Head, error)
}

// Strategy localizes one category of assets. Scan must not write anything.
type Strategy interface {
	Category() Category
	Scan(ctx context.Context, s *Session) (*Plan, error)
	Copy(ctx context.Context, s *Session)
	Rewrite(ctx context.Context, s *Session)
	UpdateTables(ctx context.Context, s *Session)
}

// Plan is what a strategy intends to do, as computed by Scan.
type Plan struct {
	Assets []*Asset
	// Writes are existing project files the strategy will overwrite; they are
	// backed up before the Copy phase.
	Writes []string
	// Creates are paths the strategy may create or overwrite later in the run.
	Creates []string
}

// Engine runs strategies against one project.
type Engine struct {
	cfg        Config
	vars       *interpolation.Resolver
	cache      *cache.ParseCache
	backups    *backup.Manager
	backupOpts []backup.Option
	locks      lockcheck.Checker
	walker     *filewalker.Walker
	resolver   libtable.Resolver
	fetcher    Fetcher
	now        func() time.Time
}

// Option customizes an Engine.
type Option func(*Engine)

// WithLockChecker replaces the lock detection.
func WithLockChecker(c lockcheck.Checker) Option { return func(e *Engine) { e.locks = c } }

// WithResolver replaces library table resolution.
func WithResolver(r libtable.Resolver) Option { return func(e *Engine) { e.resolver = r } }

// WithFetcher replaces the HTTP client used for datasheets.
func WithFetcher(f Fetcher) Option { return func(e *Engine) { e.fetcher = f } }

// WithClock replaces time.Now for backups and reports.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// WithBackupOptions customizes the backup manager of every run.
func WithBackupOptions(opts ...backup.Option) Option {
	return func(e *Engine) { e.backupOpts = append(e.backupOpts, opts...) }
}

// WithCache shares a parse cache between engines.
func WithCache(c *cache.ParseCache) Option { return func(e *Engine) { e.cache = c } }

// New creates an engine for cfg.ProjectDir.
func New(cfg Config, opts ...Option) (*Engine, error) {
	cfg.applyDefaults()
	if cfg.ProjectDir == "" {
		return nil, errors.New("project directory is required")
	}
	abs, err := filepath.Abs(cfg.ProjectDir)
	if err != nil {
		return nil, fmt.Errorf("resolve project directory: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat project directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("project path is not a directory: %s", abs)
	}
	cfg.ProjectDir = abs

	e := &Engine{
		cfg:    cfg,
		vars:   interpolation.NewResolver(cfg.ProjectVar, abs, cfg.Vars),
		walker: filewalker.NewWalker(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.cache == nil {
		e.cache = cache.NewParseCache(cfg.CacheSize)
	}
	e.backups = backup.NewManager(e.now)
	if e.locks == nil {
		e.locks = defaultLockChecker(cfg)
	}
	if e.fetcher == nil {
		e.fetcher = fetch.NewClient(cfg.DownloadTimeout, cfg.MaxFileSize)
	}
	if e.resolver == nil {
		r, err := e.tableResolver()
		if err != nil {
			return nil, err
		}
		e.resolver = r
	}
	return e, nil
}

func (e *Engine) tableResolver() (*libtable.TableResolver, error) {
	var tables []*libtable.Table
	load := func(path string, kind libtable.Kind) error {
		if path == "" {
			return nil
		}
		t, err := libtable.Load(path, kind)
		if err != nil {
			return fmt.Errorf("load %s: %w", kind.FileName(), err)
		}
		tables = append(tables, t)
		return nil
	}

	fpGlobal := e.cfg.GlobalFootprintTable
	if fpGlobal == "" {
		fpGlobal = libtable.GlobalTablePath(libtable.Footprint)
	}
	symGlobal := e.cfg.GlobalSymbolTable
	if symGlobal == "" {
		symGlobal = libtable.GlobalTablePath(libtable.Symbol)
	}

	for _, t := range []struct {
		path string
		kind libtable.Kind
	}{
		{e.cfg.FootprintTablePath(), libtable.Footprint},
		{fpGlobal, libtable.Footprint},
		{e.cfg.SymbolTablePath(), libtable.Symbol},
		{symGlobal, libtable.Symbol},
	} {
		if err := load(t.path, t.kind); err != nil {
			return nil, err
		}
	}
	return libtable.NewTableResolver(e.vars, tables...), nil
}

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.cfg }

// Backups returns the backups made by the most recent run.
func (e *Engine) Backups() []backup.Record { return e.backups.Records() }

// DefaultStrategies returns the footprint, symbol and datasheet strategies in
// the order they run.
func DefaultStrategies() []Strategy {
	return []Strategy{NewFootprintLocalizer(), NewSymbolLocalizer(), NewDatasheetLocalizer()}
}

// Scan discovers references and validates them without changing anything. A
// validation problem marks the report aborted, as a run would be, but is not
// returned as an error.
func (e *Engine) Scan(ctx context.Context, strategies ...Strategy) (*Report, error) {
	if len(strategies) == 0 {
		strategies = DefaultStrategies()
	}
	s, plans, err := e.scan(ctx, strategies)
	if err != nil {
		return s.finish(), err
	}
	if err := e.validate(s, plans); err != nil {
		s.report.Aborted = true
		s.report.AbortReason = err.Error()
		log.Warn().Err(err).Str("run", s.ID).Msg("Validation failed")
	}
	return s.finish(), nil
}

// Run localizes the project. The returned error is non-nil only when the run
// could not start or was aborted during validation; per-item failures are in
// the report.
func (e *Engine) Run(ctx context.Context, strategies ...Strategy) (*Report, error) {
	if len(strategies) == 0 {
		strategies = DefaultStrategies()
	}
	s, plans, err := e.scan(ctx, strategies)
	if err != nil {
		return s.finish(), err
	}

	if err := e.validate(s, plans); err != nil {
		s.report.Aborted = true
		s.report.AbortReason = err.Error()
		log.Error().Err(err).Str("run", s.ID).Msg("Run aborted")
		return s.finish(), err
	}
	if e.cfg.DryRun {
		s.report.DryRun = true
		return s.finish(), nil
	}

	for i, st := range strategies {
		if err := ctx.Err(); err != nil {
			log.Warn().Err(err).Str("run", s.ID).Msg("Run interrupted")
			return s.finish(), err
		}
		cat := st.Category()
		log.Info().Str("run", s.ID).Str("category", string(cat)).Msg("Localizing")
		s.backupAll(cat, plans[i].Writes)
		st.Copy(ctx, s)
		st.Rewrite(ctx, s)
		st.UpdateTables(ctx, s)
	}

	report := s.finish()
	total := report.Total()
	hits, misses := e.cache.Stats()
	log.Info().
		Str("run", s.ID).
		Int("copied", total.Copied).
		Int("reused", total.Reused).
		Int("failed", total.Failed).
		Int("substitutions", report.Substitutions()).
		Int("cache_hits", hits).
		Int("cache_misses", misses).
		Msg("Run complete")
	return report, nil
}

func (e *Engine) scan(ctx context.Context, strategies []Strategy) (*Session, []*Plan, error) {
	s := newSession(e)
	files, err := e.walker.Walk(e.cfg.ProjectDir)
	if err != nil {
		return s, nil, fmt.Errorf("scan project: %w", err)
	}
	s.files = files

	plans := make([]*Plan, len(strategies))
	for i, st := range strategies {
		p, err := st.Scan(ctx, s)
		if err != nil {
			return s, nil, fmt.Errorf("scan %s: %w", st.Category(), err)
		}
		if p == nil {
			p = &Plan{}
		}
		plans[i] = p
		log.Info().Str("category", string(st.Category())).Int("assets", len(p.Assets)).Int("files", len(p.Writes)).Msg("Scan complete")
	}
	return s, plans, nil
}

// validate checks names, path safety and locks for everything the plans touch.
func (e *Engine) validate(s *Session, plans []*Plan) error {
	for _, name := range []string{e.cfg.FootprintLib, e.cfg.SymbolLib} {
		if err := libtable.ValidateName(name); err != nil {
			return err
		}
	}
	for _, dir := range []string{e.cfg.SymbolDir, e.cfg.ModelsDir, e.cfg.DatasheetsDir} {
		p := filepath.Join(e.cfg.ProjectDir, dir)
		if filepath.IsAbs(dir) || p == e.cfg.ProjectDir || !fsutil.Within(e.cfg.ProjectDir, p) {
			return errors.WithHint(errors.Wrapf(ErrPathSafety, "destination folder %q", dir),
				"use a folder name relative to the project directory")
		}
	}

	targets := make(map[string]bool)
	for _, p := range plans {
		for _, path := range p.Writes {
			targets[path] = true
		}
		for _, path := range p.Creates {
			targets[path] = true
		}
	}
	sorted := make([]string, 0, len(targets))
	for path := range targets {
		sorted = append(sorted, path)
	}
	sort.Strings(sorted)

	var escaped, locked []string
	for _, path := range sorted {
		if !fsutil.Within(e.cfg.ProjectDir, path) {
			escaped = append(escaped, path)
			continue
		}
		if _, err := os.Stat(path); err != nil {
			continue
		}
		isLocked, err := e.locks.IsLocked(path)
		if err != nil {
			log.Warn().Err(err).Str("file", path).Msg("Lock check failed")
		}
		if isLocked {
			locked = append(locked, path)
		}
	}
	if len(escaped) > 0 {
		return errors.WithHint(errors.Wrapf(ErrPathSafety, "%s", strings.Join(escaped, ", ")),
			"a library or asset name resolves outside the project")
	}
	if len(locked) > 0 {
		return errors.WithHint(errors.Wrapf(ErrLockDetected, "%s", strings.Join(locked, ", ")),
			"close the project in KiCad and run again")
	}

	s.targets = targets
	return nil
}

func newRunID() string {
	return uuid.NewString()
}
