// Package interpolation expands the ${VAR} path placeholders used in KiCad
// library tables and design files.
package interpolation

import (
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// DefaultProjectVar names the variable KiCad sets to the open project's directory.
const DefaultProjectVar = "KIPRJMOD"

// ErrUnresolved is returned when a placeholder has no value.
var ErrUnresolved = errors.New("unresolved path variable")

// varPattern matches ${NAME}.
var varPattern = regexp.MustCompile(`\$\{([a-zA-Z_][a-zA-Z0-9_]*)\}`)

// versionedVar matches versioned KiCad variables such as KICAD9_3DMODEL_DIR.
var versionedVar = regexp.MustCompile(`^KICAD([0-9]+)_(.+)$`)

// oldestKiCad is the lowest version tried when falling back from a versioned
// variable.
const oldestKiCad = 6

// Resolver looks up placeholder values. The project variable always resolves to
// ProjectDir; other names come from Vars, then from the environment.
type Resolver struct {
	ProjectVar string
	ProjectDir string
	Vars       map[string]string
	LookupEnv  func(string) (string, bool)
}

// NewResolver creates a resolver reading the process environment.
func NewResolver(projectVar, projectDir string, vars map[string]string) *Resolver {
	if projectVar == "" {
		projectVar = DefaultProjectVar
	}
	return &Resolver{
		ProjectVar: projectVar,
		ProjectDir: projectDir,
		Vars:       vars,
		LookupEnv:  os.LookupEnv,
	}
}

// Lookup returns the value of name. A versioned KiCad variable that is not set
// falls back to older versions and then to the unversioned KICAD_ form.
func (r *Resolver) Lookup(name string) (string, bool) {
	if name == r.ProjectVar {
		return r.ProjectDir, true
	}
	if v, ok := r.direct(name); ok {
		return v, true
	}

	m := versionedVar.FindStringSubmatch(name)
	if m == nil {
		return "", false
	}
	version, err := strconv.Atoi(m[1])
	if err != nil {
		return "", false
	}
	for v := version - 1; v >= oldestKiCad; v-- {
		if val, ok := r.direct("KICAD" + strconv.Itoa(v) + "_" + m[2]); ok {
			return val, true
		}
	}
	return r.direct("KICAD_" + m[2])
}

func (r *Resolver) direct(name string) (string, bool) {
	if v, ok := r.Vars[name]; ok && v != "" {
		return v, true
	}
	if r.LookupEnv != nil {
		if v, ok := r.LookupEnv(name); ok && v != "" {
			return v, true
		}
	}
	return "", false
}

// Expand replaces every placeholder that resolves and returns the names that
// did not.
func (r *Resolver) Expand(text string) (string, []string) {
	var missing []string
	out := varPattern.ReplaceAllStringFunc(text, func(match string) string {
		name := match[2 : len(match)-1]
		if v, ok := r.Lookup(name); ok {
			return v
		}
		missing = append(missing, name)
		return match
	})
	return out, missing
}

// ExpandPath expands a library URI or model path into a filesystem path. A
// file:// prefix is stripped. Any unresolved placeholder is an error.
func (r *Resolver) ExpandPath(uri string) (string, error) {
	out, missing := r.Expand(uri)
	if len(missing) > 0 {
		return "", errors.Wrapf(ErrUnresolved, "%s in %q", strings.Join(missing, ", "), uri)
	}
	out = strings.TrimPrefix(out, "file://")
	return filepath.Clean(filepath.FromSlash(out)), nil
}

// ProjectPath returns the portable form ${VAR}/rel of a path inside the project
// directory, using forward slashes as KiCad does.
func (r *Resolver) ProjectPath(rel string) string {
	return "${" + r.ProjectVar + "}/" + filepath.ToSlash(rel)
}

// IsProjectRelative reports whether text starts with the project placeholder.
func (r *Resolver) IsProjectRelative(text string) bool {
	return strings.HasPrefix(strings.TrimSpace(text), "${"+r.ProjectVar+"}")
}
