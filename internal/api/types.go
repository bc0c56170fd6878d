package api

import (
	"github.com/SyntesseraAI/n8n-heroku/internal/nodes"
	"github.com/SyntesseraAI/n8n-heroku/internal/runs"
)

// ClaudeCodeRequest is the JSON body for POST /v1/nodes/claude-code.
type ClaudeCodeRequest struct {
	Items          []nodes.ClaudeCodeItem `json:"items"`
	ContinueOnFail bool                   `json:"continue_on_fail"`
}

// CloudRunDispatchRequest is the JSON body for POST /v1/nodes/cloud-run-dispatch.
type CloudRunDispatchRequest struct {
	Items          []nodes.CloudRunItem `json:"items"`
	ContinueOnFail bool                 `json:"continue_on_fail"`
}

// NodeResponse carries one record per processed item.
type NodeResponse struct {
	Results []nodes.Result `json:"results"`
}

// NodeErrorResponse is returned when a batch aborts at an item. Results holds
// the records of the items before it.
type NodeErrorResponse struct {
	Error     string         `json:"error"`
	ItemIndex int            `json:"item_index"`
	Results   []nodes.Result `json:"results"`
}

// RunListResponse is returned by GET /v1/runs.
type RunListResponse struct {
	Runs []runs.Run `json:"runs"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	InFlight      int    `json:"in_flight"`
	MaxConcurrent int    `json:"max_concurrent"`
}
