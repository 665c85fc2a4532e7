package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kicad-bakery/internal/backup"
	"kicad-bakery/internal/libtable"
	"kicad-bakery/internal/localize"
)

const testBoard = `(kicad_pcb
	(version 20241229)
	(generator "pcbnew")
	(footprint "Device:C"
		(layer "F.Cu")
	)
)
`

// project sets up a project referencing Device:C plus a global footprint
// table, and points the environment at them.
func project(t *testing.T) string {
	t.Helper()
	t.Chdir(t.TempDir())

	libs := t.TempDir()
	writeFile(t, filepath.Join(libs, "Device.pretty", "C.kicad_mod"), "(footprint \"C\"\n\t(layer \"F.Cu\")\n)\n")
	writeFile(t, filepath.Join(libs, "fp-lib-table"), `(fp_lib_table
	(version 7)
	(lib (name "Device")(type "KiCad")(uri "${LIBS}/Device.pretty")(options "")(descr ""))
)
`)

	t.Setenv("LIBS", libs)
	t.Setenv("BAKERY_GLOBAL_FP_TABLE", filepath.Join(libs, "fp-lib-table"))
	t.Setenv("BAKERY_GLOBAL_SYM_TABLE", filepath.Join(libs, "sym-lib-table"))
	t.Setenv("DATABASE_URL", "")
	t.Setenv("NEO4J_URI", "")

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "board.kicad_pcb"), testBoard)
	return dir
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRootCmd_Commands(t *testing.T) {
	out, err := execute(t, "--help")
	require.NoError(t, err)
	for _, name := range []string{"localize", "scan", "backups", "restore", "libtable", "history"} {
		assert.Contains(t, out, name)
	}
}

func TestLocalizeCmd(t *testing.T) {
	dir := project(t)

	out, err := execute(t, "localize", dir, "--format", "json", "--footprint-lib", "Board")
	require.NoError(t, err)

	var report localize.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.False(t, report.Aborted)
	assert.Equal(t, 1, report.Counts[localize.CategoryFootprint].Copied)

	board, err := os.ReadFile(filepath.Join(dir, "board.kicad_pcb"))
	require.NoError(t, err)
	assert.Contains(t, string(board), `(footprint "Board:C"`)
	assert.FileExists(t, filepath.Join(dir, "Board.pretty", "C.kicad_mod"))
	assert.FileExists(t, filepath.Join(dir, "fp-lib-table"))
}

func TestLocalizeCmd_ProjectOverrides(t *testing.T) {
	dir := project(t)
	writeFile(t, filepath.Join(dir, "bakery.yaml"), "footprint_lib: FromYaml\n")

	_, err := execute(t, "localize", dir)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "FromYaml.pretty", "C.kicad_mod"))
}

func TestLocalizeCmd_DryRun(t *testing.T) {
	dir := project(t)

	out, err := execute(t, "localize", dir, "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "Run ")

	board, err := os.ReadFile(filepath.Join(dir, "board.kicad_pcb"))
	require.NoError(t, err)
	assert.Equal(t, testBoard, string(board))
	assert.NoDirExists(t, filepath.Join(dir, "MyLib.pretty"))
}

func TestLocalizeCmd_InvalidLibraryName(t *testing.T) {
	dir := project(t)

	_, err := execute(t, "localize", dir, "--footprint-lib", "My/Lib")
	require.Error(t, err)
	assert.ErrorIs(t, err, localize.ErrInvalidName)
	assert.Contains(t, errors.GetAllHints(err), "no file was changed; fix the problem and run again")

	board, err := os.ReadFile(filepath.Join(dir, "board.kicad_pcb"))
	require.NoError(t, err)
	assert.Equal(t, testBoard, string(board))
}

func TestLocalizeCmd_ItemFailuresExitNonZero(t *testing.T) {
	dir := project(t)
	writeFile(t, filepath.Join(dir, "other.kicad_pcb"), strings.Replace(testBoard, "Device:C", "Device:Missing", 1))

	_, err := execute(t, "localize", dir)
	assert.ErrorIs(t, err, errItemFailures)
	assert.NotContains(t, err.Error(), "run aborted")
}

func TestLocalizeCmd_LockedBoardAborts(t *testing.T) {
	dir := project(t)
	writeFile(t, filepath.Join(dir, "~board.kicad_pcb.lck"), "")

	_, err := execute(t, "localize", dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, localize.ErrLockDetected)
	assert.Contains(t, err.Error(), "run aborted")

	board, err := os.ReadFile(filepath.Join(dir, "board.kicad_pcb"))
	require.NoError(t, err)
	assert.Equal(t, testBoard, string(board))
}

func TestScanCmd(t *testing.T) {
	dir := project(t)

	out, err := execute(t, "scan", dir, "--format", "json")
	require.NoError(t, err)

	var refs []localize.Reference
	require.NoError(t, json.Unmarshal([]byte(out), &refs))
	require.Len(t, refs, 1)
	assert.Equal(t, "Device:C", refs[0].Value)
	assert.Equal(t, 4, refs[0].Line)

	_, err = execute(t, "scan", dir, "--graph")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Neo4j")
}

func TestScanCmd_Table(t *testing.T) {
	dir := project(t)

	out, err := execute(t, "scan", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "Device:C")
	assert.Contains(t, out, "board.kicad_pcb")
}

func TestScanCmd_ShowsValidationProblem(t *testing.T) {
	dir := project(t)
	writeFile(t, filepath.Join(dir, "~board.kicad_pcb.lck"), "")

	out, err := execute(t, "scan", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "Device:C")
	assert.Contains(t, out, "Validation failed")
	assert.Contains(t, out, "board.kicad_pcb")
}

func TestExportReport(t *testing.T) {
	exec := &recordingExecutor{}
	report := &localize.Report{References: []localize.Reference{{Category: localize.CategoryFootprint, Value: "Device:C"}}}

	require.NoError(t, exportReport(context.Background(), exec, report))
	assert.Len(t, exec.statements, 4)
}

type recordingExecutor struct {
	statements []string
}

func (r *recordingExecutor) Run(ctx context.Context, cypher string, params map[string]any) error {
	r.statements = append(r.statements, cypher)
	return nil
}

func TestLibtableCmd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fp-lib-table")

	out, err := execute(t, "libtable", "add", path, "--name", "MyLib", "--uri", "${KIPRJMOD}/MyLib.pretty")
	require.NoError(t, err)
	assert.Contains(t, out, "Registered MyLib")

	out, err = execute(t, "libtable", "add", path, "--name", "MyLib", "--uri", "${KIPRJMOD}/MyLib.pretty")
	require.NoError(t, err)
	assert.Contains(t, out, "already registered")

	_, err = execute(t, "libtable", "add", path, "--name", "MyLib", "--uri", "${KIPRJMOD}/Other.pretty")
	assert.ErrorIs(t, err, localize.ErrNameConflict)

	out, err = execute(t, "libtable", "list", path)
	require.NoError(t, err)
	assert.Contains(t, out, "${KIPRJMOD}/MyLib.pretty")

	_, err = execute(t, "libtable", "list", filepath.Join(t.TempDir(), "tables.txt"))
	assert.Error(t, err)
}

func TestLibtableCmd_SetAndRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sym-lib-table")

	_, err := execute(t, "libtable", "add", path, "--name", "MySymbols", "--uri", "${KIPRJMOD}/Symbols/MySymbols.kicad_sym")
	require.NoError(t, err)

	out, err := execute(t, "libtable", "set", path, "--name", "MySymbols", "--uri", "${KIPRJMOD}/sym/MySymbols.kicad_sym", "--descr", "Moved")
	require.NoError(t, err)
	assert.Contains(t, out, "Set MySymbols")

	tbl, err := libtable.Load(path, libtable.Symbol)
	require.NoError(t, err)
	require.Len(t, tbl.Entries(), 1)
	e, ok := tbl.Lookup("MySymbols")
	require.True(t, ok)
	assert.Equal(t, "${KIPRJMOD}/sym/MySymbols.kicad_sym", e.URI)
	assert.Equal(t, "Moved", e.Descr)

	out, err = execute(t, "libtable", "remove", path, "--name", "MySymbols")
	require.NoError(t, err)
	assert.Contains(t, out, "Removed MySymbols")

	tbl, err = libtable.Load(path, libtable.Symbol)
	require.NoError(t, err)
	assert.Empty(t, tbl.Entries())

	_, err = execute(t, "libtable", "remove", path, "--name", "MySymbols")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not registered")
}

func TestBackupsAndRestoreCmd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "board.kicad_pcb")
	writeFile(t, path, "original")

	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.Local)
	rec, err := backup.NewManager(func() time.Time { return at }).Create(path)
	require.NoError(t, err)
	writeFile(t, path, "changed")

	out, err := execute(t, "backups", path)
	require.NoError(t, err)
	assert.Contains(t, out, filepath.Base(rec.Backup))

	out, err = execute(t, "restore", rec.Backup)
	require.NoError(t, err)
	assert.Contains(t, out, "Restored")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "original", string(data))

	_, err = execute(t, "restore", path)
	assert.Error(t, err)
}

func TestHistoryCmd_NeedsDatabase(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("DATABASE_URL", "")

	_, err := execute(t, "history")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "journal")
}
