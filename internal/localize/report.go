package localize

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"kicad-bakery/internal/backup"
	"kicad-bakery/internal/textutil"

	"github.com/cockroachdb/errors"
	"github.com/jedib0t/go-pretty/v6/table"
)

// maxMessageWidth bounds the message column of the failures table.
const maxMessageWidth = 120

// Counts tallies assets of one category.
type Counts struct {
	Attempted int `json:"attempted"`
	Copied    int `json:"copied"`
	Reused    int `json:"reused"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// Failure is a per-item failure.
type Failure struct {
	Category Category `json:"category"`
	Item     string   `json:"item"`
	Kind     string   `json:"kind"`
	Message  string   `json:"message"`
	Hint     string   `json:"hint,omitempty"`
}

// Skip is an item deliberately left alone.
type Skip struct {
	Category Category `json:"category"`
	Item     string   `json:"item"`
	Reason   string   `json:"reason"`
}

// FileChange is a design file rewritten during the run.
type FileChange struct {
	Path          string    `json:"path"`
	Substitutions int       `json:"substitutions"`
	WrittenAt     time.Time `json:"written_at"`
}

// Mapping records an asset that now lives in the project.
type Mapping struct {
	Category Category `json:"category"`
	From     string   `json:"from"`
	To       string   `json:"to"`
	Source   string   `json:"source"`
	Dest     string   `json:"dest"`
	Identity string   `json:"identity"`
	Reused   bool     `json:"reused"`
}

// Report summarizes a run.
type Report struct {
	RunID       string    `json:"run_id"`
	ProjectDir  string    `json:"project_dir"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	DryRun      bool      `json:"dry_run"`
	Aborted     bool      `json:"aborted"`
	AbortReason string    `json:"abort_reason,omitempty"`

	Counts     map[Category]*Counts `json:"counts"`
	References []Reference          `json:"references"`
	Mappings   []Mapping            `json:"mappings"`
	Skipped    []Skip               `json:"skipped"`
	Failures   []Failure            `json:"failures"`
	Files      []FileChange         `json:"files"`
	Tables     []string             `json:"tables"`
	Backups    []backup.Record      `json:"backups"`

	mu sync.Mutex
}

func newReport(runID, projectDir string, started time.Time) *Report {
	r := &Report{
		RunID:      runID,
		ProjectDir: projectDir,
		StartedAt:  started,
		Counts:     make(map[Category]*Counts),
	}
	for _, c := range Categories {
		r.Counts[c] = &Counts{}
	}
	return r
}

func (r *Report) counts(c Category) *Counts {
	n, ok := r.Counts[c]
	if !ok {
		n = &Counts{}
		r.Counts[c] = n
	}
	return n
}

func (r *Report) attempt(c Category) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts(c).Attempted++
}

func (r *Report) placed(m Mapping) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m.Reused {
		r.counts(m.Category).Reused++
	} else {
		r.counts(m.Category).Copied++
	}
	r.Mappings = append(r.Mappings, m)
}

func (r *Report) fail(c Category, item string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f := Failure{Category: c, Item: item, Kind: ErrorKind(err), Message: err.Error()}
	if hints := errors.GetAllHints(err); len(hints) > 0 {
		f.Hint = hints[0]
	}
	r.counts(c).Failed++
	r.Failures = append(r.Failures, f)
}

func (r *Report) skip(c Category, item, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts(c).Skipped++
	r.Skipped = append(r.Skipped, Skip{Category: c, Item: item, Reason: reason})
}

func (r *Report) reference(ref Reference) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.References = append(r.References, ref)
}

func (r *Report) rewrote(path string, n int, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.Files {
		if r.Files[i].Path == path {
			r.Files[i].Substitutions += n
			r.Files[i].WrittenAt = at
			return
		}
	}
	r.Files = append(r.Files, FileChange{Path: path, Substitutions: n, WrittenAt: at})
}

// Substitutions is the total number of rewritten references.
func (r *Report) Substitutions() int {
	total := 0
	for _, f := range r.Files {
		total += f.Substitutions
	}
	return total
}

// Total sums the counts of every category.
func (r *Report) Total() Counts {
	var t Counts
	for _, c := range r.Counts {
		t.Attempted += c.Attempted
		t.Copied += c.Copied
		t.Reused += c.Reused
		t.Skipped += c.Skipped
		t.Failed += c.Failed
	}
	return t
}

// HasFailures reports whether any item failed or the run was aborted.
func (r *Report) HasFailures() bool {
	return r.Aborted || len(r.Failures) > 0
}

// Render writes the report as tables, or as JSON when format is "json".
func (r *Report) Render(w io.Writer, format string) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}

	_, _ = fmt.Fprintf(w, "Run %s  %s\n", r.RunID, r.ProjectDir)
	if r.Aborted {
		_, _ = fmt.Fprintf(w, "Aborted: %s\n", r.AbortReason)
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Category", "Attempted", "Copied", "Reused", "Skipped", "Failed"})
	for _, c := range Categories {
		n := r.counts(c)
		t.AppendRow(table.Row{c, n.Attempted, n.Copied, n.Reused, n.Skipped, n.Failed})
	}
	total := r.Total()
	t.AppendFooter(table.Row{"Total", total.Attempted, total.Copied, total.Reused, total.Skipped, total.Failed})
	t.Render()

	if len(r.Files) > 0 {
		files := append([]FileChange(nil), r.Files...)
		sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
		ft := table.NewWriter()
		ft.SetOutputMirror(w)
		ft.SetStyle(table.StyleLight)
		ft.AppendHeader(table.Row{"Rewritten file", "Substitutions"})
		for _, f := range files {
			ft.AppendRow(table.Row{f.Path, f.Substitutions})
		}
		ft.Render()
	}

	if len(r.Failures) > 0 {
		ft := table.NewWriter()
		ft.SetOutputMirror(w)
		ft.SetStyle(table.StyleLight)
		ft.AppendHeader(table.Row{"Category", "Item", "Kind", "Error", "Hint"})
		for _, f := range r.Failures {
			ft.AppendRow(table.Row{f.Category, f.Item, f.Kind, textutil.Truncate(f.Message, maxMessageWidth), f.Hint})
		}
		ft.Render()
	}

	if len(r.Skipped) > 0 {
		st := table.NewWriter()
		st.SetOutputMirror(w)
		st.SetStyle(table.StyleLight)
		st.AppendHeader(table.Row{"Category", "Skipped item", "Reason"})
		for _, s := range r.Skipped {
			st.AppendRow(table.Row{s.Category, s.Item, s.Reason})
		}
		st.Render()
	}

	if len(r.Backups) > 0 {
		_, _ = fmt.Fprintf(w, "(%d backups)\n", len(r.Backups))
	}
	return nil
}
