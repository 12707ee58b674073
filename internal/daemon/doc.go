// Package daemon coordinates the long-running intake lease server.
//
// It wires configuration, backlog storage, the lease manager, the submission
// pipeline and the asset catalog into a single lifecycle with flock-based
// locking to prevent multiple instances against one database. The HTTP API
// is a chi router; handlers stay thin and delegate to api.LeaseService.
//
// Keep orchestration logic here: lease rules live in internal/lease and
// payload rules in internal/submission.
package daemon
