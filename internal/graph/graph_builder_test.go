package graph

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kicad-bakery/internal/localize"
)

type call struct {
	cypher string
	params map[string]any
}

type fakeExecutor struct {
	calls  []call
	failOn string
}

func (f *fakeExecutor) Run(ctx context.Context, cypher string, params map[string]any) error {
	f.calls = append(f.calls, call{cypher: cypher, params: params})
	if f.failOn != "" && strings.Contains(cypher, f.failOn) {
		return assert.AnError
	}
	return nil
}

func TestEnsureSchema(t *testing.T) {
	exec := &fakeExecutor{}
	require.NoError(t, NewGraphBuilder(exec).EnsureSchema(context.Background()))
	require.Len(t, exec.calls, 3)
	for _, c := range exec.calls {
		assert.Contains(t, c.cypher, "CREATE CONSTRAINT IF NOT EXISTS")
	}
}

func TestExport(t *testing.T) {
	exec := &fakeExecutor{}
	r := &localize.Report{
		RunID:      "run-1",
		ProjectDir: "/proj",
		References: []localize.Reference{
			{Category: localize.CategoryFootprint, Value: "Device:R", File: "/proj/a.kicad_pcb", Line: 4, Column: 13},
			{Category: localize.CategoryFootprint, Value: "Device:R", File: "/proj/a.kicad_sch", Line: 9, Column: 25},
		},
		Mappings: []localize.Mapping{
			{Category: localize.CategoryFootprint, From: "Device:R", To: "MyLib:R", Dest: "/proj/MyLib.pretty/R.kicad_mod"},
		},
	}

	require.NoError(t, NewGraphBuilder(exec).Export(context.Background(), r))
	require.Len(t, exec.calls, 3)
	assert.Equal(t, "/proj/a.kicad_pcb", exec.calls[0].params["file"])
	assert.Equal(t, "footprint", exec.calls[0].params["category"])
	assert.Equal(t, 4, exec.calls[0].params["line"])
	assert.Contains(t, exec.calls[2].cypher, "LOCALIZED_AS")
	assert.Equal(t, "MyLib:R", exec.calls[2].params["ref"])
	assert.Equal(t, "run-1", exec.calls[2].params["run"])
}

func TestExport_ReferenceFailureStops(t *testing.T) {
	exec := &fakeExecutor{failOn: "REFERENCES"}
	r := &localize.Report{References: []localize.Reference{{Value: "Device:R"}}}

	err := NewGraphBuilder(exec).Export(context.Background(), r)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Device:R")
}

func TestExport_MappingFailureIsSkipped(t *testing.T) {
	exec := &fakeExecutor{failOn: "LOCALIZED_AS"}
	r := &localize.Report{Mappings: []localize.Mapping{{From: "a"}, {From: "b"}}}

	require.NoError(t, NewGraphBuilder(exec).Export(context.Background(), r))
	assert.Len(t, exec.calls, 2)
}
