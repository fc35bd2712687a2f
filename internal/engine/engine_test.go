package engine

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowforge/orchestrator/internal/workflow"
)

func testRegistry(t *testing.T) *workflow.Registry {
	t.Helper()
	r := workflow.NewRegistry()
	require.NoError(t, r.Register(&workflow.Definition{
		Name:    "order-fulfillment",
		Version: 1,
		Elements: []workflow.Element{
			{Kind: workflow.ElementStep, Step: &workflow.Step{Name: "charge"}},
		},
	}))
	require.NoError(t, r.Register(&workflow.Definition{
		Name:    "order-fulfillment",
		Version: 2,
		Elements: []workflow.Element{
			{Kind: workflow.ElementStep, Step: &workflow.Step{Name: "charge"}},
			{Kind: workflow.ElementStep, Step: &workflow.Step{Name: "ship"}},
		},
	}))
	return r
}

func TestEngine_ResolveDefinition_ExactVersion(t *testing.T) {
	e := &Engine{registry: testRegistry(t)}
	defn, err := e.resolveDefinition("order-fulfillment", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, defn.Version)
}

func TestEngine_ResolveDefinition_LatestWhenVersionZero(t *testing.T) {
	e := &Engine{registry: testRegistry(t)}
	defn, err := e.resolveDefinition("order-fulfillment", 0)
	require.NoError(t, err)
	assert.Equal(t, 2, defn.Version)
}

func TestEngine_ResolveDefinition_NotRegistered(t *testing.T) {
	e := &Engine{registry: testRegistry(t)}
	_, err := e.resolveDefinition("nonexistent", 0)
	assert.ErrorIs(t, err, ErrWorkflowNotFound)
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, isUniqueViolation(&pgconn.PgError{Code: "23505"}))
	assert.False(t, isUniqueViolation(&pgconn.PgError{Code: "23503"}))
	assert.False(t, isUniqueViolation(errors.New("some other error")))
	assert.False(t, isUniqueViolation(nil))
}
