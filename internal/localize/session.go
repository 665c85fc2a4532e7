package localize

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"kicad-bakery/internal/backup"
	"kicad-bakery/internal/filewalker"
	"kicad-bakery/internal/fsutil"
	"kicad-bakery/internal/interpolation"
	"kicad-bakery/internal/libtable"
	"kicad-bakery/internal/lockcheck"
	"kicad-bakery/internal/sexpr"
	"kicad-bakery/internal/textutil"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog/log"
)

func defaultLockChecker(cfg Config) lockcheck.Checker {
	checkers := lockcheck.Any{lockcheck.LockFile{}}
	if cfg.ScanProcesses {
		checkers = append(checkers, lockcheck.NewOpenFiles(context.Background()))
	}
	return checkers
}

// Session is the state of one run, shared by the strategies it drives.
type Session struct {
	ID string

	engine  *Engine
	cfg     Config
	report  *Report
	backups *backup.Manager
	files   []filewalker.FileEntry

	// targets are the paths validated for locks and path safety.
	targets map[string]bool
	// placed maps a destination to the digest of the content placed there.
	placed map[string]string
	// created are files that did not exist before this run.
	created map[string]bool
	// unsafe are files whose backup failed; they are never written.
	unsafe map[string]error
}

func newSession(e *Engine) *Session {
	id := newRunID()
	// Each run backs a file up once, before its first write.
	e.backups = backup.NewManager(e.now, e.backupOpts...)
	return &Session{
		ID:      id,
		engine:  e,
		cfg:     e.cfg,
		report:  newReport(id, e.cfg.ProjectDir, e.now()),
		backups: e.backups,
		targets: make(map[string]bool),
		placed:  make(map[string]string),
		created: make(map[string]bool),
		unsafe:  make(map[string]error),
	}
}

func (s *Session) finish() *Report {
	s.report.FinishedAt = s.engine.now()
	s.report.Backups = s.backups.Records()
	return s.report
}

// Config returns the run configuration.
func (s *Session) Config() Config { return s.cfg }

// Vars returns the path variable resolver.
func (s *Session) Vars() *interpolation.Resolver { return s.engine.vars }

// Fetcher returns the datasheet downloader.
func (s *Session) Fetcher() Fetcher { return s.engine.fetcher }

// Files returns the design files found at the start of the run.
func (s *Session) Files(kinds ...filewalker.Kind) []filewalker.FileEntry {
	if len(kinds) == 0 {
		return s.files
	}
	return filewalker.Filter(s.files, kinds...)
}

// Resolve returns the location of a library nickname.
func (s *Session) Resolve(kind libtable.Kind, nickname string) (string, error) {
	path, err := s.engine.resolver.Resolve(kind, nickname)
	if err != nil {
		return "", errors.Mark(err, ErrAssetNotFound)
	}
	return path, nil
}

// Load reads and parses a file through the parse cache. The returned tree is
// private to the caller.
func (s *Session) Load(path string) (*sexpr.Node, string, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", errors.Mark(fmt.Errorf("stat %s: %w", path, err), ErrAssetNotFound)
		}
		return nil, "", fmt.Errorf("stat %s: %w", path, err)
	}
	if info.Size() > s.cfg.MaxFileSize {
		return nil, "", errors.Wrapf(ErrFileTooLarge, "%s is %d bytes, limit %d", path, info.Size(), s.cfg.MaxFileSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("read %s: %w", path, err)
	}
	text := string(data)
	tree, err := s.engine.cache.Parse(path, text)
	if err != nil {
		return nil, "", errors.Wrapf(err, "parse %s", path)
	}
	return tree, text, nil
}

// Reference records an occurrence found during Scan and returns it.
func (s *Session) Reference(cat Category, file, text string, m Match) Reference {
	line, col := position(text, m.Value.Offset)
	ref := Reference{Category: cat, Value: m.Value.Value, File: file, Line: line, Column: col}
	s.report.reference(ref)
	return ref
}

// Attempt counts an asset the run tries to localize.
func (s *Session) Attempt(cat Category) { s.report.attempt(cat) }

// Fail records a per-item failure.
func (s *Session) Fail(cat Category, item string, err error) {
	log.Warn().Err(err).Str("category", string(cat)).Str("item", item).Msg("Item failed")
	s.report.fail(cat, item, err)
}

// Skip records an item deliberately left alone.
func (s *Session) Skip(cat Category, item, reason string) {
	log.Debug().Str("category", string(cat)).Str("item", item).Str("reason", reason).Msg("Skipped")
	s.report.skip(cat, item, reason)
}

func (s *Session) backupAll(cat Category, paths []string) {
	for _, path := range paths {
		if s.created[path] || s.unsafe[path] != nil {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if _, err := s.backups.Create(path); err != nil {
			s.unsafe[path] = err
			s.Fail(cat, path, err)
		}
	}
}

// Commit writes content to path. An existing file is backed up first, once
// per run; if that backup fails the file is left untouched.
func (s *Session) Commit(path string, content []byte) error {
	if err := s.unsafe[path]; err != nil {
		return err
	}
	if !fsutil.Within(s.cfg.ProjectDir, path) {
		return errors.Wrapf(ErrPathSafety, "%s", path)
	}
	_, statErr := os.Stat(path)
	exists := statErr == nil
	if exists && !s.created[path] {
		if _, err := s.backups.Create(path); err != nil {
			s.unsafe[path] = err
			return err
		}
	}
	if err := fsutil.WriteAtomic(path, content, fsutil.FileMode(path, 0o644)); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if !exists {
		s.created[path] = true
	}
	return nil
}

// RewriteFile applies rules to a validated design file and commits it when
// anything changed. It returns the number of substitutions.
func (s *Session) RewriteFile(cat Category, path string, rules ...Rule) int {
	if s.unsafe[path] != nil {
		return 0
	}
	if !s.targets[path] && !s.created[path] {
		log.Warn().Str("file", path).Msg("Refusing to rewrite file outside the validated set")
		return 0
	}
	tree, _, err := s.Load(path)
	if err != nil {
		s.Fail(cat, path, err)
		return 0
	}
	n := Apply(tree, rules...)
	if n == 0 {
		return 0
	}
	if err := s.Commit(path, []byte(sexpr.Serialize(tree))); err != nil {
		s.Fail(cat, path, err)
		return 0
	}
	s.report.rewrote(path, n, s.engine.now())
	log.Info().Str("file", filepath.Base(path)).Int("substitutions", n).Str("category", string(cat)).Msg("Rewrote references")
	return n
}

// Place puts content at a.Dest. A destination already holding identical
// content counts as reused; different content is a name conflict and the
// destination is left alone. It reports whether a.Dest now holds content.
func (s *Session) Place(a *Asset, content []byte) bool {
	if !fsutil.Within(s.cfg.ProjectDir, a.Dest) {
		s.Fail(a.Category, a.Key, errors.Wrapf(ErrPathSafety, "%s", a.Dest))
		return false
	}
	digest := textutil.HashBytes(content)
	a.Identity = digest

	reused := false
	if prev, ok := s.placed[a.Dest]; ok {
		if prev != digest {
			s.Fail(a.Category, a.Key, s.conflict(a))
			return false
		}
		reused = true
	} else {
		existing, err := os.ReadFile(a.Dest)
		switch {
		case err == nil:
			if textutil.HashBytes(existing) != digest {
				s.Fail(a.Category, a.Key, s.conflict(a))
				return false
			}
			reused = true
		case !os.IsNotExist(err):
			s.Fail(a.Category, a.Key, fmt.Errorf("read %s: %w", a.Dest, err))
			return false
		default:
			if err := fsutil.WriteAtomic(a.Dest, content, 0o644); err != nil {
				s.Fail(a.Category, a.Key, err)
				return false
			}
			s.created[a.Dest] = true
			log.Info().Str("category", string(a.Category)).Str("item", a.Key).Str("dest", a.Dest).Msg("Copied asset")
		}
		s.placed[a.Dest] = digest
	}

	s.report.placed(Mapping{
		Category: a.Category,
		From:     a.Key,
		To:       a.NewRef,
		Source:   a.Source,
		Dest:     a.Dest,
		Identity: digest,
		Reused:   reused,
	})
	return true
}

// Placed records an asset placed by the strategy itself, as symbols are
// merged into one library file.
func (s *Session) Placed(a *Asset, reused bool) {
	s.report.placed(Mapping{
		Category: a.Category,
		From:     a.Key,
		To:       a.NewRef,
		Source:   a.Source,
		Dest:     a.Dest,
		Identity: a.Identity,
		Reused:   reused,
	})
}

func (s *Session) conflict(a *Asset) error {
	return errors.WithHintf(
		errors.Wrapf(ErrNameConflict, "%s already exists with different content", a.Dest),
		"rename or remove %s, or point the reference at another library", filepath.Base(a.Dest))
}

// AddTableEntry registers e in the project table of the given kind, creating
// the table when missing. An identical existing entry is left alone.
func (s *Session) AddTableEntry(cat Category, kind libtable.Kind, e libtable.Entry) {
	path := filepath.Join(s.cfg.ProjectDir, kind.FileName())
	if s.unsafe[path] != nil {
		return
	}
	t, err := libtable.Load(path, kind)
	if err != nil {
		s.Fail(cat, path, err)
		return
	}
	added, err := t.Add(e)
	if err != nil {
		s.Fail(cat, e.Name, err)
		return
	}
	if !added {
		return
	}
	if err := s.Commit(path, t.Bytes()); err != nil {
		s.Fail(cat, path, err)
		return
	}
	s.report.Tables = append(s.report.Tables, path)
	log.Info().Str("table", path).Str("name", e.Name).Msg("Registered project library")
}
