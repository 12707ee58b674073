// Package main hosts the intake CLI entrypoint and command graph.
//
// Lease commands (next, renew, release, skip, submit, url, show) talk to the
// lease server over HTTP as the configured operator. The work command opens
// the interactive console, which holds one lease at a time and heartbeats it.
// Maintenance commands (import, db) open the backlog database directly and
// are meant to run on the server host.
package main
