package localize

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleReport() *Report {
	r := newReport("run-1", "/proj", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	r.attempt(CategoryFootprint)
	r.placed(Mapping{Category: CategoryFootprint, From: "Device:R", To: "MyLib:R"})
	r.attempt(CategoryDatasheet)
	r.fail(CategoryDatasheet, "https://x/ds.pdf", errors.WithHint(errors.Wrap(ErrNetwork, "HTTP 404"), "check the link"))
	r.skip(CategorySymbol, "power:GND", "library power is not localized")
	r.rewrote("/proj/a.kicad_pcb", 2, time.Time{})
	r.rewrote("/proj/a.kicad_pcb", 1, time.Time{})
	return r
}

func TestReport_Counts(t *testing.T) {
	r := sampleReport()
	total := r.Total()
	assert.Equal(t, Counts{Attempted: 2, Copied: 1, Skipped: 1, Failed: 1}, total)
	assert.Equal(t, 3, r.Substitutions())
	require.Len(t, r.Files, 1)
	assert.True(t, r.HasFailures())

	require.Len(t, r.Failures, 1)
	assert.Equal(t, "network", r.Failures[0].Kind)
	assert.Equal(t, "check the link", r.Failures[0].Hint)
}

func TestReport_RenderTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, sampleReport().Render(&buf, "table"))
	out := buf.String()
	assert.Contains(t, out, "run-1")
	assert.Contains(t, out, "footprint")
	assert.Contains(t, out, "/proj/a.kicad_pcb")
	assert.Contains(t, out, "https://x/ds.pdf")
	assert.Contains(t, out, "power:GND")
}

func TestReport_RenderTableShortensLongMessages(t *testing.T) {
	r := newReport("run-2", "/proj", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	long := strings.Repeat("x", 2*maxMessageWidth) + "TAIL"
	r.fail(CategoryModel, "/libs/R.step", errors.Wrap(ErrNetwork, long))

	var buf bytes.Buffer
	require.NoError(t, r.Render(&buf, "table"))
	assert.Contains(t, buf.String(), strings.Repeat("x", 10)+"...")
	assert.NotContains(t, buf.String(), "TAIL")

	buf.Reset()
	require.NoError(t, r.Render(&buf, "json"))
	assert.Contains(t, buf.String(), "TAIL")
}

func TestReport_RenderJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, sampleReport().Render(&buf, "json"))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "run-1", decoded["run_id"])
	assert.Len(t, decoded["failures"], 1)
}

func TestErrorKind(t *testing.T) {
	assert.Equal(t, "", ErrorKind(nil))
	assert.Equal(t, "lock_detected", ErrorKind(errors.Wrap(ErrLockDetected, "x")))
	assert.Equal(t, "name_conflict", ErrorKind(ErrNameConflict))
	assert.Equal(t, "backup_failure", ErrorKind(errors.Mark(errors.New("disk full"), ErrBackupFailure)))
	assert.Equal(t, "io", ErrorKind(errors.New("other")))
	assert.True(t, IsFatal(ErrPathSafety))
	assert.False(t, IsFatal(ErrNetwork))
}
