// Package lockcheck answers whether a design file appears to be open in
// another program. Every check is advisory: a false result does not prove the
// file is free.
package lockcheck

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v3/process"
)

// Checker reports whether path appears to be open for writing elsewhere.
type Checker interface {
	IsLocked(path string) (bool, error)
}

// Func adapts a function to Checker.
type Func func(path string) (bool, error)

// IsLocked calls f.
func (f Func) IsLocked(path string) (bool, error) { return f(path) }

// None never reports a lock.
var None Checker = Func(func(string) (bool, error) { return false, nil })

// LockFile detects the ~<name>.lck file KiCad places next to a document it
// has open.
type LockFile struct{}

// LockFileName returns the KiCad lock file path for path.
func LockFileName(path string) string {
	return filepath.Join(filepath.Dir(path), "~"+filepath.Base(path)+".lck")
}

// IsLocked reports whether the lock file exists.
func (LockFile) IsLocked(path string) (bool, error) {
	_, err := os.Stat(LockFileName(path))
	switch {
	case err == nil:
		return true, nil
	case os.IsNotExist(err):
		return false, nil
	default:
		return false, fmt.Errorf("stat lock file: %w", err)
	}
}

// OpenFiles reports files held open by any other process. The process table is
// read once, on the first check, so a run compares every file against the same
// snapshot. Processes whose open files cannot be listed are ignored.
type OpenFiles struct {
	ctx  context.Context
	list func(ctx context.Context) (map[string]int32, error)

	once sync.Once
	open map[string]int32
	err  error
}

// NewOpenFiles creates a checker backed by the operating system process table.
func NewOpenFiles(ctx context.Context) *OpenFiles {
	return &OpenFiles{ctx: ctx, list: listOpenFiles}
}

// IsLocked reports whether another process has path open.
func (o *OpenFiles) IsLocked(path string) (bool, error) {
	o.once.Do(func() {
		o.open, o.err = o.list(o.ctx)
		if o.err == nil {
			log.Debug().Int("files", len(o.open)).Msg("Captured open file snapshot")
		}
	})
	if o.err != nil {
		return false, o.err
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return false, fmt.Errorf("resolve %s: %w", path, err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	pid, ok := o.open[abs]
	if ok {
		log.Debug().Str("file", abs).Int32("pid", pid).Msg("File held open by another process")
	}
	return ok, nil
}

func listOpenFiles(ctx context.Context) (map[string]int32, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}

	self := int32(os.Getpid())
	open := make(map[string]int32)
	for _, p := range procs {
		if p.Pid == self {
			continue
		}
		files, err := p.OpenFilesWithContext(ctx)
		if err != nil {
			continue
		}
		for _, f := range files {
			if f.Path != "" {
				open[filepath.Clean(f.Path)] = p.Pid
			}
		}
	}
	return open, nil
}

// Any reports a lock when any of its checkers does. A checker error is
// returned only when no checker reported a lock.
type Any []Checker

// IsLocked consults every checker.
func (a Any) IsLocked(path string) (bool, error) {
	var firstErr error
	for _, c := range a {
		locked, err := c.IsLocked(path)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if locked {
			return true, nil
		}
	}
	return false, firstErr
}
