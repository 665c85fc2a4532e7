// Package graph exports the reference graph of a project to Neo4j: which design
// files refer to which external assets, and where localized copies live.
package graph

import (
	"context"
	"fmt"

	"kicad-bakery/internal/localize"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/rs/zerolog/log"
)

// Executor runs one Cypher statement.
type Executor interface {
	Run(ctx context.Context, cypher string, params map[string]any) error
}

// DriverExecutor runs statements in a fresh write session each.
type DriverExecutor struct {
	driver neo4j.DriverWithContext
}

// NewDriverExecutor wraps a Neo4j driver.
func NewDriverExecutor(driver neo4j.DriverWithContext) *DriverExecutor {
	return &DriverExecutor{driver: driver}
}

func (d *DriverExecutor) Run(ctx context.Context, cypher string, params map[string]any) error {
	session := d.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	result, err := session.Run(ctx, cypher, params)
	if err != nil {
		return err
	}
	_, err = result.Consume(ctx)
	return err
}

// Connect opens a driver and verifies it can reach the server.
func Connect(ctx context.Context, uri, user, password string) (neo4j.DriverWithContext, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("connect Neo4j: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("verify Neo4j connectivity: %w", err)
	}
	log.Info().Msg("Connected to Neo4j")
	return driver, nil
}

// GraphBuilder writes reports into the graph.
type GraphBuilder struct {
	exec Executor
}

// NewGraphBuilder creates a new graph builder.
func NewGraphBuilder(exec Executor) *GraphBuilder {
	return &GraphBuilder{exec: exec}
}

// EnsureSchema creates constraints on the Neo4j database.
func (gb *GraphBuilder) EnsureSchema(ctx context.Context) error {
	constraints := []string{
		"CREATE CONSTRAINT IF NOT EXISTS FOR (f:DesignFile) REQUIRE f.path IS UNIQUE",
		"CREATE CONSTRAINT IF NOT EXISTS FOR (a:Asset) REQUIRE (a.category, a.key) IS UNIQUE",
		"CREATE CONSTRAINT IF NOT EXISTS FOR (l:LocalAsset) REQUIRE l.ref IS UNIQUE",
	}

	for _, c := range constraints {
		if err := gb.exec.Run(ctx, c, nil); err != nil {
			return fmt.Errorf("create constraint: %w", err)
		}
	}

	log.Info().Msg("Graph schema ensured")
	return nil
}

// Export merges the references and localized copies of a report. Failing
// mapping edges are logged and skipped.
func (gb *GraphBuilder) Export(ctx context.Context, r *localize.Report) error {
	for _, ref := range r.References {
		err := gb.exec.Run(ctx, `
			MERGE (f:DesignFile {path: $file})
			SET f.project = $project
			MERGE (a:Asset {category: $category, key: $key})
			MERGE (f)-[e:REFERENCES]->(a)
			SET e.line = $line, e.column = $column
		`, map[string]any{
			"file":     ref.File,
			"project":  r.ProjectDir,
			"category": string(ref.Category),
			"key":      ref.Value,
			"line":     ref.Line,
			"column":   ref.Column,
		})
		if err != nil {
			return fmt.Errorf("merge reference %s: %w", ref.Value, err)
		}
	}

	log.Info().Int("references", len(r.References)).Msg("Exported references")

	for _, m := range r.Mappings {
		err := gb.exec.Run(ctx, `
			MATCH (a:Asset {category: $category, key: $key})
			MERGE (l:LocalAsset {ref: $ref})
			SET l.dest = $dest, l.identity = $identity
			MERGE (a)-[e:LOCALIZED_AS]->(l)
			SET e.run = $run
		`, map[string]any{
			"category": string(m.Category),
			"key":      m.From,
			"ref":      m.To,
			"dest":     m.Dest,
			"identity": m.Identity,
			"run":      r.RunID,
		})
		if err != nil {
			log.Warn().Err(err).
				Str("from", m.From).
				Str("to", m.To).
				Msg("Failed to create mapping")
		}
	}

	log.Info().Int("mappings", len(r.Mappings)).Msg("Exported localized assets")
	return nil
}
