package libtable

import (
	"os"
	"path/filepath"
	"regexp"

	"kicad-bakery/internal/interpolation"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog/log"
)

// ErrUnknownLibrary is returned when no table registers a nickname.
var ErrUnknownLibrary = errors.New("library not found in any library table")

// ErrInvalidName is returned for nicknames that cannot name a library on disk.
var ErrInvalidName = errors.New("invalid library name")

var invalidNameChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)

// ValidateName checks that name can be used both as a table nickname and as a
// file name.
func ValidateName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return errors.Wrapf(ErrInvalidName, "%q", name)
	case invalidNameChars.MatchString(name):
		return errors.WithHint(
			errors.Wrapf(ErrInvalidName, "%q contains a reserved character", name),
			`library names cannot contain < > : " / \ | ? * or control characters`)
	}
	return nil
}

// Resolver maps a library nickname to the filesystem location of the library.
type Resolver interface {
	Resolve(kind Kind, nickname string) (string, error)
}

// TableResolver resolves nicknames through a chain of tables, the project
// table first, expanding path variables in the registered URI.
type TableResolver struct {
	vars   *interpolation.Resolver
	tables map[Kind][]*Table
}

// NewTableResolver creates a resolver over tables, searched in the order given
// for each kind.
func NewTableResolver(vars *interpolation.Resolver, tables ...*Table) *TableResolver {
	r := &TableResolver{vars: vars, tables: make(map[Kind][]*Table)}
	for _, t := range tables {
		if t != nil {
			r.tables[t.Kind] = append(r.tables[t.Kind], t)
		}
	}
	return r
}

// Resolve returns the expanded path registered for nickname.
func (r *TableResolver) Resolve(kind Kind, nickname string) (string, error) {
	for _, t := range r.tables[kind] {
		e, ok := t.Lookup(nickname)
		if !ok {
			continue
		}
		path, err := r.vars.ExpandPath(e.URI)
		if err != nil {
			return "", errors.Wrapf(err, "library %q in %s", nickname, t.Path)
		}
		log.Debug().Str("library", nickname).Str("path", path).Msg("Resolved library")
		return path, nil
	}
	return "", errors.Wrapf(ErrUnknownLibrary, "%s %q", kind.FileName(), nickname)
}

// kicadVersions are the configuration directories searched for global tables,
// newest first.
var kicadVersions = []string{"9.0", "8.0"}

// GlobalTablePath locates the user's global table of the given kind in the
// KiCad configuration directories. It returns "" when none exists.
func GlobalTablePath(kind Kind) string {
	for _, p := range globalCandidates(kind) {
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p
		}
	}
	return ""
}

func globalCandidates(kind Kind) []string {
	var bases []string
	if dir := os.Getenv("KICAD_CONFIG_HOME"); dir != "" {
		bases = append(bases, dir)
	}
	if dir, err := os.UserConfigDir(); err == nil {
		bases = append(bases, filepath.Join(dir, "kicad"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		bases = append(bases,
			filepath.Join(home, ".config", "kicad"),
			filepath.Join(home, "Documents", "KiCad"),
		)
	}

	var out []string
	for _, v := range kicadVersions {
		for _, b := range bases {
			out = append(out, filepath.Join(b, v, kind.FileName()))
		}
	}
	return out
}
