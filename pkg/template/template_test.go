package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender_SimpleExpression(t *testing.T) {
	data := map[string]any{
		"initiator": "jdoe",
		"amount":    30,
		"urgent":    true,
	}

	result, err := Render("{{ .initiator }}", data)
	require.NoError(t, err)
	assert.Equal(t, "jdoe", result)

	result, err = Render("{{ .urgent }}", data)
	require.NoError(t, err)
	assert.Equal(t, true, result)

	// numbers always map to float
	result, err = Render("{{ .amount }}", data)
	require.NoError(t, err)
	assert.Equal(t, 30.0, result)
}

func TestRender_WorkflowVariables(t *testing.T) {
	data := map[string]any{
		"WorkflowVariables": map[string]any{
			"reviewer": "alice",
			"labels":   []string{"legal", "finance"},
		},
		"nodeId": "review",
	}

	result, err := Render("{{ .WorkflowVariables.reviewer }}", data)
	require.NoError(t, err)
	assert.Equal(t, "alice", result)

	result, err = Render(`{{ join .WorkflowVariables.labels "," }}`, data)
	require.NoError(t, err)
	assert.Equal(t, "legal,finance", result)

	result, err = Render(`{"node": "{{ .nodeId }}", "count": {{ len .WorkflowVariables.labels }}}`, data)
	require.NoError(t, err)

	resultMap, ok := result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "review", resultMap["node"])
	assert.Equal(t, 2.0, resultMap["count"])
}

func TestRender_Conditional(t *testing.T) {
	data := map[string]any{"button": "approve"}

	result, err := Render(`{{ if eq .button "approve" }}validated{{ else }}rejected{{ end }}`, data)
	require.NoError(t, err)
	assert.Equal(t, "validated", result)
}

func TestRender_Default(t *testing.T) {
	result, err := Render(`{{ default "nobody" .assignee }}`, map[string]any{"assignee": ""})
	require.NoError(t, err)
	assert.Equal(t, "nobody", result)
}

func TestRender_ErrorHandling(t *testing.T) {
	data := map[string]any{"test": "value"}

	_, err := Render("{ invalid..expression }}", data)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse json")

	_, err = Render("{{ nonexistent.field }}", data)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "function \"nonexistent\" not defined")
}

func TestRender_StringInterpolation(t *testing.T) {
	data := map[string]any{
		"workflowInitiator": "john",
		"nodeId":            "approve",
	}

	result, err := Render("{{.workflowInitiator}} reached {{.nodeId}}", data)
	require.NoError(t, err)
	assert.Equal(t, "john reached approve", result)
}
