// Package backup makes timestamped copies of files before they are overwritten
// and keeps the record of what was copied during a run.
package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"sync"
	"time"

	"kicad-bakery/internal/fsutil"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog/log"
)

const (
	// Suffix separates the original file name from the timestamp.
	Suffix = ".bak_"
	// TimestampLayout is the time format embedded in backup names.
	TimestampLayout = "20060102_150405"
)

// ErrBackupFailure marks every error from Create.
var ErrBackupFailure = errors.New("backup failed")

// backupName matches <original>.bak_YYYYMMDD_HHMMSS with an optional _N
// collision counter.
var backupName = regexp.MustCompile(`^(.+)\.bak_([0-9]{8}_[0-9]{6})(?:_([0-9]+))?$`)

// Record describes one backup.
type Record struct {
	Original  string
	Backup    string
	CreatedAt time.Time
}

// Manager creates backups and remembers those made during the run. A file is
// backed up at most once per Manager, so the record always holds its content
// from before the run touched it.
type Manager struct {
	mu      sync.Mutex
	now     func() time.Time
	copy    func(src, dst string) error
	records []Record
	byPath  map[string]int
}

// Option customizes a Manager.
type Option func(*Manager)

// WithCopyFunc replaces the function that copies a file to its backup name.
func WithCopyFunc(fn func(src, dst string) error) Option {
	return func(m *Manager) { m.copy = fn }
}

// NewManager creates a manager. now defaults to time.Now.
func NewManager(now func() time.Time, opts ...Option) *Manager {
	if now == nil {
		now = time.Now
	}
	m := &Manager{now: now, copy: fsutil.CopyFile, byPath: make(map[string]int)}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create copies path to a sibling backup file and returns its record. The copy
// is synced to disk before Create returns. Calling Create again for the same
// path returns the first record.
func (m *Manager) Create(path string) (Record, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Record{}, errors.Mark(fmt.Errorf("resolve %s: %w", path, err), ErrBackupFailure)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if i, ok := m.byPath[abs]; ok {
		return m.records[i], nil
	}

	info, err := os.Stat(abs)
	if err != nil {
		return Record{}, errors.Mark(fmt.Errorf("stat %s: %w", abs, err), ErrBackupFailure)
	}
	if !info.Mode().IsRegular() {
		return Record{}, errors.Wrapf(ErrBackupFailure, "%s is not a regular file", abs)
	}

	created := m.now()
	target, err := m.copyToFreeName(abs, created)
	if err != nil {
		return Record{}, errors.Mark(err, ErrBackupFailure)
	}
	_ = os.Chtimes(target, info.ModTime(), info.ModTime())
	syncDir(filepath.Dir(target))

	rec := Record{Original: abs, Backup: target, CreatedAt: created}
	m.byPath[abs] = len(m.records)
	m.records = append(m.records, rec)

	log.Info().Str("file", abs).Str("backup", filepath.Base(target)).Msg("Backup created")
	return rec, nil
}

// copyToFreeName copies src to <src>.bak_<ts>, adding _1, _2, ... when a backup
// with the same second already exists.
func (m *Manager) copyToFreeName(src string, at time.Time) (string, error) {
	base := src + Suffix + at.Format(TimestampLayout)
	for n := 0; n < 1000; n++ {
		target := base
		if n > 0 {
			target = base + "_" + strconv.Itoa(n)
		}
		err := m.copy(src, target)
		if err == nil {
			return target, nil
		}
		if _, statErr := os.Lstat(target); statErr == nil {
			continue
		}
		return "", fmt.Errorf("copy %s to %s: %w", src, target, err)
	}
	return "", fmt.Errorf("no free backup name for %s", src)
}

// Records returns the backups created by this manager, oldest first.
func (m *Manager) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, len(m.records))
	copy(out, m.records)
	return out
}

// Restore copies a backup over its original file. The current content of the
// original is backed up first so the restore itself can be undone.
func (m *Manager) Restore(rec Record) error {
	data, err := os.ReadFile(rec.Backup)
	if err != nil {
		return fmt.Errorf("read backup: %w", err)
	}
	if _, err := os.Stat(rec.Original); err == nil {
		if _, err := m.Create(rec.Original); err != nil {
			return fmt.Errorf("back up current content: %w", err)
		}
	}
	if err := fsutil.WriteAtomic(rec.Original, data, fsutil.FileMode(rec.Original, 0o644)); err != nil {
		return fmt.Errorf("restore %s: %w", rec.Original, err)
	}
	log.Info().Str("file", rec.Original).Str("backup", rec.Backup).Msg("Restored backup")
	return nil
}

// Parse reads the original path and creation time out of a backup file name.
func Parse(backupPath string) (Record, bool) {
	m := backupName.FindStringSubmatch(backupPath)
	if m == nil {
		return Record{}, false
	}
	ts, err := time.ParseInLocation(TimestampLayout, m[2], time.Local)
	if err != nil {
		return Record{}, false
	}
	return Record{Original: m[1], Backup: backupPath, CreatedAt: ts}, true
}

// Find lists the backups of path present on disk, newest first.
func Find(path string) ([]Record, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}
	matches, err := filepath.Glob(globEscape(abs) + Suffix + "*")
	if err != nil {
		return nil, fmt.Errorf("list backups: %w", err)
	}

	var out []Record
	for _, p := range matches {
		if rec, ok := Parse(p); ok && rec.Original == abs {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Backup > out[j].Backup
	})
	return out, nil
}

func globEscape(p string) string {
	var b []byte
	for i := 0; i < len(p); i++ {
		switch p[i] {
		case '*', '?', '[', '\\':
			if os.PathSeparator == '\\' && p[i] == '\\' {
				b = append(b, p[i])
				continue
			}
			b = append(b, '\\')
		}
		b = append(b, p[i])
	}
	return string(b)
}

func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
