// Package api defines the request and response types of the reclip HTTP API.
//
// # API Overview
//
// reclip provides a RESTful API for:
//   - Clone session lifecycle (create, generate, cancel, status, delete)
//   - Live progress streaming over websocket
//   - Generated clip library queries
//   - Cost estimation before generation
//   - Runtime settings (provider API keys, prompt templates)
//   - Health monitoring and metrics
//
// # Base URL
//
// The default base URL for the API is:
//
//	http://localhost:8080
//
// Handlers live in api/handlers; this package only carries the wire types
// shared between handlers and clients.
package api
