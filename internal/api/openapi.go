package api

import (
	"net/http"

	"github.com/SyntesseraAI/n8n-heroku/internal/claude"
)

func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, buildOpenAPIDoc())
}

// buildOpenAPIDoc returns an OpenAPI 3.1 document for the node and run routes.
func buildOpenAPIDoc() map[string]any {
	models := make([]string, 0, len(claude.Models))
	for _, m := range claude.Models {
		models = append(models, string(m))
	}

	secured := []any{map[string]any{"BearerAuth": []string{}}}
	nodeResponses := map[string]any{
		"200": map[string]any{"description": "One record per item"},
		"400": map[string]any{"description": "Invalid body or missing configuration"},
		"401": map[string]any{"description": "Missing or invalid API key"},
		"422": map[string]any{"description": "Batch aborted at item_index"},
		"503": map[string]any{"description": "Too many concurrent node executions"},
	}

	return map[string]any{
		"openapi": "3.1.0",
		"info": map[string]any{
			"title":   "claudegw",
			"version": "1.0",
		},
		"paths": map[string]any{
			"/v1/nodes/claude-code": map[string]any{
				"post": nodeOperation("claudeCode", "Run the claude CLI locally for each item", secured, nodeResponses,
					map[string]any{
						"model":             map[string]any{"type": "string", "enum": models, "default": string(claude.ModelSonnet)},
						"prompt":            map[string]any{"type": "string"},
						"mcp_servers":       map[string]any{"type": "array", "items": map[string]any{"type": "string", "pattern": "^mcp__"}},
						"allowed_tools":     map[string]any{"type": "boolean", "default": true},
						"timeout_seconds":   map[string]any{"type": "integer", "default": 3600},
						"working_directory": map[string]any{"type": "string"},
					}),
			},
			"/v1/nodes/cloud-run-dispatch": map[string]any{
				"post": nodeOperation("cloudRunDispatch", "Run claude in a one-shot Cloud Run job for each item", secured, nodeResponses,
					map[string]any{
						"model":       map[string]any{"type": "string", "enum": models, "default": string(claude.ModelOpusPlan)},
						"prompt":      map[string]any{"type": "string"},
						"memory":      map[string]any{"type": "string", "default": "4Gi"},
						"cpu":         map[string]any{"type": "string", "default": "2"},
						"timeout":     map[string]any{"type": "string", "default": "3600s"},
						"max_retries": map[string]any{"type": "integer", "default": 0},
						"verbose":     map[string]any{"type": "boolean", "default": false},
					}),
			},
			"/v1/runs": map[string]any{
				"get": map[string]any{
					"operationId": "listRuns",
					"summary":     "List recorded runs, newest first",
					"security":    secured,
					"parameters": []any{
						map[string]any{"name": "kind", "in": "query", "schema": map[string]any{"type": "string"}},
						map[string]any{"name": "status", "in": "query", "schema": map[string]any{"type": "string"}},
						map[string]any{"name": "limit", "in": "query", "schema": map[string]any{"type": "integer"}},
					},
					"responses": map[string]any{"200": map[string]any{"description": "Runs"}},
				},
			},
			"/v1/runs/{runID}": map[string]any{
				"get": map[string]any{
					"operationId": "getRun",
					"summary":     "Get one run",
					"security":    secured,
					"responses": map[string]any{
						"200": map[string]any{"description": "Run"},
						"404": map[string]any{"description": "Run not found"},
					},
				},
			},
			"/v1/events": map[string]any{
				"get": map[string]any{
					"operationId": "events",
					"summary":     "Server-sent run and job lifecycle events",
					"security":    secured,
					"responses":   map[string]any{"200": map[string]any{"description": "text/event-stream"}},
				},
			},
		},
		"components": map[string]any{
			"securitySchemes": map[string]any{
				"BearerAuth": map[string]any{
					"type":   "http",
					"scheme": "bearer",
				},
			},
		},
	}
}

func nodeOperation(id, summary string, security []any, responses map[string]any, itemProps map[string]any) map[string]any {
	return map[string]any{
		"operationId": id,
		"summary":     summary,
		"security":    security,
		"responses":   responses,
		"requestBody": map[string]any{
			"required": true,
			"content": map[string]any{
				"application/json": map[string]any{
					"schema": map[string]any{
						"type":     "object",
						"required": []string{"items"},
						"properties": map[string]any{
							"continue_on_fail": map[string]any{"type": "boolean", "default": false},
							"items": map[string]any{
								"type": "array",
								"items": map[string]any{
									"type":       "object",
									"required":   []string{"prompt"},
									"properties": itemProps,
								},
							},
						},
					},
				},
			},
		},
	}
}
