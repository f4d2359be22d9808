// Package api provides the HTTP API surface of FlowForge.
//
// # API Overview
//
// FlowForge exposes a RESTful API for:
//   - Submitting workflow definitions (YAML or JSON) for execution
//   - Querying execution status, logs and engine metrics
//   - Pausing, resuming and cancelling executions
//   - Listing and resolving pending human approvals
//   - Browsing and instantiating workflow templates
//   - Health monitoring
//
// # Authentication
//
// When API keys are configured, endpoints require the X-API-Key header:
//
//	X-API-Key: your-api-key
//
// # Base URL
//
// The default base URL for the API is:
//
//	http://localhost:8080
package api
