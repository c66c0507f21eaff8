package compiler

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

const botAgentSpec = `{
  "openapi": "3.0.0",
  "info": {"title": "Bot Agent API", "version": "1.0.0"},
  "servers": [{"url": "http://ai-service.dev.starcharge.cloud"}],
  "paths": {
    "/bot-agent/findByAgentId": {
      "get": {
        "summary": "Find bot agent by id",
        "parameters": [
          {"name": "agentId", "in": "query", "required": true, "schema": {"type": "string"}}
        ],
        "responses": {
          "200": {"description": "ok", "content": {"application/json": {"schema": {"type": "object"}}}}
        }
      }
    },
    "/bot-agent/save": {
      "post": {
        "summary": "Save bot agent",
        "requestBody": {
          "required": true,
          "content": {"application/json": {"schema": {"type": "object"}}}
        },
        "responses": {
          "201": {"description": "created"}
        }
      }
    }
  }
}`

func TestCompile_DerivesToolCatalog(t *testing.T) {
	spec, err := Compile([]byte(botAgentSpec))
	require.NoError(t, err)
	require.Equal(t, "http://ai-service.dev.starcharge.cloud", spec.BaseURL)
	require.Len(t, spec.Tools, 2)

	names := map[string]Tool{}
	for _, tool := range spec.Tools {
		names[tool.Name] = tool
	}

	getTool, ok := names["get_bot-agent_findByAgentId_api"]
	require.True(t, ok, "expected get_bot-agent_findByAgentId_api, got %v", names)
	require.Equal(t, MethodGet, getTool.HTTPMethod)
	require.Equal(t, "/bot-agent/findByAgentId", getTool.PathTemplate)

	queryGroup, ok := getTool.InputSchema["properties"].(map[string]any)["query"].(map[string]any)
	require.True(t, ok)
	required, ok := queryGroup["required"].([]string)
	require.True(t, ok)
	require.Contains(t, required, "agentId")

	postTool, ok := names["post_bot-agent_save_api"]
	require.True(t, ok)
	require.Equal(t, MethodPost, postTool.HTTPMethod)
}

func TestCompile_MissingOpenAPIField(t *testing.T) {
	_, err := Compile([]byte(`{"paths": {}}`))
	require.Error(t, err)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	require.Equal(t, "openapi", ve.Field)
}

func TestCompile_EmptyPaths(t *testing.T) {
	_, err := Compile([]byte(`{"openapi": "3.0.0", "servers": [{"url": "http://x"}], "paths": {}}`))
	require.Error(t, err)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	require.Equal(t, "paths", ve.Field)
}

func TestCompile_NoAbsoluteServerURL(t *testing.T) {
	doc := `{"openapi":"3.0.0","servers":[{"url":"/relative"}],"paths":{"/x":{"get":{"responses":{}}}}}`
	_, err := Compile([]byte(doc))
	require.Error(t, err)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	require.Equal(t, "servers", ve.Field)
}

func TestCompile_DuplicateToolNameCollision(t *testing.T) {
	// Two distinct paths that would derive the same tool_name after
	// normalization are rejected within a single document.
	doc := `{
		"openapi": "3.0.0",
		"servers": [{"url": "http://x"}],
		"paths": {
			"/widget/get": {"get": {"responses": {}}},
			"/widget//get": {"get": {"responses": {}}}
		}
	}`
	_, err := Compile([]byte(doc))
	require.Error(t, err)
	var ce *NameCollisionError
	require.ErrorAs(t, err, &ce)
}

func TestCheckConflicts_SamePathMethodAcrossEndpoints(t *testing.T) {
	a, err := Compile([]byte(botAgentSpec))
	require.NoError(t, err)

	conflictingDoc := `{
		"openapi": "3.0.0",
		"servers": [{"url": "http://other-host"}],
		"paths": {
			"/bot-agent/findByAgentId": {"get": {"responses": {}}}
		}
	}`
	b, err := Compile([]byte(conflictingDoc))
	require.NoError(t, err)

	err = CheckConflicts(b, []*CompiledSpec{a})
	require.Error(t, err)
	require.EqualError(t, err, "API path '/bot-agent/findByAgentId' with method 'GET' already exists")
}

func TestCompileMerge_UnionOfPathsIncomingWinsOnConflict(t *testing.T) {
	existing, err := Compile([]byte(botAgentSpec))
	require.NoError(t, err)

	incoming := `{
		"openapi": "3.0.0",
		"servers": [{"url": "http://ai-service.dev.starcharge.cloud"}],
		"paths": {
			"/bot-agent/findByAgentId": {
				"get": {"summary": "Updated find", "responses": {"200": {"description": "ok"}}}
			},
			"/bot-agent/delete": {
				"delete": {"responses": {"204": {"description": "no content"}}}
			}
		}
	}`

	merged, err := CompileMerge(existing, []byte(incoming))
	require.NoError(t, err)

	names := map[string]Tool{}
	for _, tool := range merged.Tools {
		names[tool.Name] = tool
	}

	// incoming operation replaces the existing one at the shared path
	require.Contains(t, names, "get_bot-agent_findByAgentId_api")
	require.Equal(t, "Updated find", names["get_bot-agent_findByAgentId_api"].Title)

	// union retains the untouched existing operation
	require.Contains(t, names, "post_bot-agent_save_api")

	// union adds the new incoming-only operation
	require.Contains(t, names, "delete_bot-agent_delete_api")
}

func TestResolveSchema_LocalRefInlined(t *testing.T) {
	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(`{
		"components": {"schemas": {"Widget": {"type": "object", "properties": {"id": {"type": "string"}}}}}
	}`), &doc))

	node := map[string]any{"$ref": "#/components/schemas/Widget"}
	resolved := resolveSchema(node, doc, maxRefDepth)
	m, ok := resolved.(map[string]any)
	require.True(t, ok)
	require.Equal(t, "object", m["type"])
}

func TestResolveSchema_CircularRefBreaksWithMarker(t *testing.T) {
	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(`{
		"components": {"schemas": {"Loop": {"type": "object", "properties": {"self": {"$ref": "#/components/schemas/Loop"}}}}}
	}`), &doc))

	node := map[string]any{"$ref": "#/components/schemas/Loop"}
	resolved := resolveSchema(node, doc, 2)
	m, ok := resolved.(map[string]any)
	require.True(t, ok)
	props, ok := m["properties"].(map[string]any)
	require.True(t, ok)
	self, ok := props["self"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, true, self["circular"])
}

func TestResolveSchema_ExternalRefLeftUntouched(t *testing.T) {
	doc := map[string]any{}
	node := map[string]any{"$ref": "external.json#/Widget"}
	resolved := resolveSchema(node, doc, maxRefDepth)
	m, ok := resolved.(map[string]any)
	require.True(t, ok)
	require.Equal(t, "external.json#/Widget", m["$ref"])
	_, hasCircular := m["circular"]
	require.False(t, hasCircular)
}

func TestExtractOutputSchema_PicksLowestTwoXX(t *testing.T) {
	doc := map[string]any{}
	responses := map[string]any{
		"400": map[string]any{"description": "bad"},
		"201": map[string]any{"content": map[string]any{"application/json": map[string]any{"schema": map[string]any{"type": "string"}}}},
		"200": map[string]any{"content": map[string]any{"application/json": map[string]any{"schema": map[string]any{"type": "object"}}}},
	}
	out := extractOutputSchema(responses, doc)
	require.Equal(t, "object", out["type"])
}

func TestExtractOutputSchema_AbsentWhenNoJSONContent(t *testing.T) {
	doc := map[string]any{}
	responses := map[string]any{
		"204": map[string]any{"description": "no content"},
	}
	out := extractOutputSchema(responses, doc)
	require.Nil(t, out)
}
