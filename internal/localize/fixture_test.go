package localize

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"kicad-bakery/internal/fetch"
	"kicad-bakery/internal/lockcheck"
)

const footprintR = `(footprint "R"
	(layer "F.Cu")
	(pad "1" smd rect
		(at -0.8 0)
	)
	(model "${KICAD9_3DMODEL_DIR}/Resistor.3dshapes/R.wrl"
		(offset
			(xyz 0 0 0)
		)
	)
)
`

const footprintC = `(footprint "C"
	(layer "F.Cu")
)
`

const deviceSymbols = `(kicad_symbol_lib
	(version 20241209)
	(generator "kicad_symbol_editor")
	(symbol "R"
		(property "Reference" "R")
		(property "Datasheet" "~")
		(symbol "R_0_1"
			(rectangle)
		)
	)
	(symbol "R_Small"
		(extends "R")
		(property "Reference" "R")
	)
)
`

const boardText = `(kicad_pcb
	(version 20241229)
	(generator "pcbnew")
	(footprint "Device:R"
		(layer "F.Cu")
		(model "${KICAD9_3DMODEL_DIR}/Resistor.3dshapes/R.wrl")
	)
	(footprint "Device:R"
		(layer "F.Cu")
	)
)
`

const schematicText = `(kicad_sch
	(version 20250114)
	(generator "eeschema")
	(lib_symbols
		(symbol "Device:R"
			(property "Reference" "R")
			(property "Datasheet" "~")
			(symbol "R_0_1"
				(rectangle)
			)
		)
		(symbol "power:GND"
			(property "Reference" "#PWR")
		)
	)
	(symbol
		(lib_id "Device:R")
		(property "Reference" "R1")
		(property "Footprint" "Device:R")
		(property "Datasheet" "~")
	)
	(symbol
		(lib_id "power:GND")
		(property "Reference" "#PWR01")
	)
)
`

// fixture is a project directory plus a separate global library directory.
type fixture struct {
	t       *testing.T
	project string
	libs    string
	cfg     Config
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{t: t, project: t.TempDir(), libs: t.TempDir()}

	f.write(f.libs, "Device.pretty/R.kicad_mod", footprintR)
	f.write(f.libs, "Device.pretty/C.kicad_mod", footprintC)
	f.write(f.libs, "models/Resistor.3dshapes/R.wrl", "#VRML V2.0 utf8\n")
	f.write(f.libs, "symbols/Device.kicad_sym", deviceSymbols)
	f.write(f.libs, "fp-lib-table", `(fp_lib_table
	(version 7)
	(lib (name "Device")(type "KiCad")(uri "${LIBS}/Device.pretty")(options "")(descr ""))
)
`)
	f.write(f.libs, "sym-lib-table", `(sym_lib_table
	(version 7)
	(lib (name "Device")(type "KiCad")(uri "${LIBS}/symbols/Device.kicad_sym")(options "")(descr ""))
	(lib (name "power")(type "KiCad")(uri "${LIBS}/symbols/power.kicad_sym")(options "")(descr ""))
)
`)

	f.cfg = DefaultConfig(f.project)
	f.cfg.GlobalFootprintTable = filepath.Join(f.libs, "fp-lib-table")
	f.cfg.GlobalSymbolTable = filepath.Join(f.libs, "sym-lib-table")
	f.cfg.Vars = map[string]string{
		"LIBS":               f.libs,
		"KICAD9_3DMODEL_DIR": filepath.Join(f.libs, "models"),
	}
	return f
}

func (f *fixture) write(dir, rel, content string) string {
	f.t.Helper()
	p := filepath.Join(dir, filepath.FromSlash(rel))
	require.NoError(f.t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(f.t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func (f *fixture) read(rel string) string {
	f.t.Helper()
	data, err := os.ReadFile(filepath.Join(f.project, filepath.FromSlash(rel)))
	require.NoError(f.t, err)
	return string(data)
}

func (f *fixture) exists(rel string) bool {
	_, err := os.Stat(filepath.Join(f.project, filepath.FromSlash(rel)))
	return err == nil
}

// backupFiles lists every backup file in the project tree.
func (f *fixture) backupFiles() []string {
	f.t.Helper()
	var out []string
	err := filepath.WalkDir(f.project, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if strings.Contains(d.Name(), ".bak_") {
			out = append(out, p)
		}
		return nil
	})
	require.NoError(f.t, err)
	return out
}

func (f *fixture) engine(opts ...Option) *Engine {
	f.t.Helper()
	base := []Option{WithLockChecker(lockcheck.None), WithClock(tickingClock())}
	e, err := New(f.cfg, append(base, opts...)...)
	require.NoError(f.t, err)
	return e
}

func (f *fixture) run(opts ...Option) (*Report, error) {
	return f.engine(opts...).Run(context.Background())
}

// tickingClock advances one second per call so that every recorded event has
// a distinct time.
func tickingClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

// fakeFetcher serves canned responses by URL.
type fakeFetcher struct {
	mu     sync.Mutex
	bodies map[string]string
	heads  map[string]fetch.Head
	gets   []string
}

func (f *fakeFetcher) Get(ctx context.Context, url string) (*fetch.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets = append(f.gets, url)
	body, ok := f.bodies[url]
	if !ok {
		return nil, fetch.ErrNetwork
	}
	return &fetch.Response{Body: []byte(body), ContentType: "application/pdf"}, nil
}

func (f *fakeFetcher) Probe(ctx context.Context, url string) (*fetch.Head, error) {
	h, ok := f.heads[url]
	if !ok {
		return nil, fetch.ErrNetwork
	}
	return &h, nil
}
