package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/flowforge/orchestrator/internal/store"
	"github.com/flowforge/orchestrator/internal/workflow"
)

// PersistDefinition upserts a workflow definition's audit row and returns
// its id, the workflow_id executions reference. Called once per
// (name, version) at startup after the definition is registered in the
// in-memory registry (spec §9: registration is explicit, not
// reflection-based; persistence here is only for audit/listing).
func PersistDefinition(ctx context.Context, db *store.DB, def *workflow.Definition) (string, error) {
	stepsJSON, err := json.Marshal(def)
	if err != nil {
		return "", fmt.Errorf("encode workflow definition %s v%d: %w", def.Name, def.Version, err)
	}

	id := uuid.New().String()
	row := db.Pool.QueryRow(ctx, `
		INSERT INTO workflows (id, name, version, description, step_definitions, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now(), now())
		ON CONFLICT (name, version) DO UPDATE SET step_definitions = EXCLUDED.step_definitions, updated_at = now()
		RETURNING id
	`, id, def.Name, def.Version, def.Description, stepsJSON)

	var workflowID string
	if err := row.Scan(&workflowID); err != nil {
		return "", fmt.Errorf("persist workflow %s v%d: %w", def.Name, def.Version, err)
	}
	return workflowID, nil
}

// workflowID looks up an already-persisted definition's row id.
func workflowID(ctx context.Context, db *store.DB, name string, version int) (string, error) {
	var id string
	err := db.Pool.QueryRow(ctx, `SELECT id FROM workflows WHERE name = $1 AND version = $2`, name, version).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("lookup workflow row %s v%d: %w", name, version, err)
	}
	return id, nil
}
