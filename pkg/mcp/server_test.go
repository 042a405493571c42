package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPhotoflowServer(t *testing.T) {
	s := NewPhotoflowServer(PhotoflowServerDeps{})
	require.NotNil(t, s)
	assert.NotNil(t, s.mcpServer)
	assert.NotNil(t, s.logger)
}

func TestToolRegistration(t *testing.T) {
	s := NewPhotoflowServer(PhotoflowServerDeps{})

	tools := s.mcpServer.ListTools()
	require.Len(t, tools, 5)

	expectedTools := []string{
		"photoflow.run",
		"photoflow.status",
		"photoflow.report",
		"photoflow.schedule",
		"photoflow.query",
	}
	for _, name := range expectedTools {
		tool := s.mcpServer.GetTool(name)
		assert.NotNil(t, tool, "tool %s should be registered", name)
	}
}

func TestToolDefinitions(t *testing.T) {
	tests := []struct {
		name        string
		toolName    string
		description string
	}{
		{"run", "photoflow.run", "Process a photo batch through a registered pipeline"},
		{"status", "photoflow.status", "Get run execution status including per-stage progress"},
		{"report", "photoflow.report", "Fetch the batch report of a finished run (stage table, score statistics, category distribution, errors, usage)"},
		{"schedule", "photoflow.schedule", "Manage recurring batch jobs"},
		{"query", "photoflow.query", "Query runs, events, or scheduled jobs"},
	}

	s := NewPhotoflowServer(PhotoflowServerDeps{})

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tool := s.mcpServer.GetTool(tc.toolName)
			require.NotNil(t, tool)
			assert.Equal(t, tc.description, tool.Tool.Description)
		})
	}
}
