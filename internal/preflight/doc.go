// Package preflight provides readiness checks for the filesystem paths and
// the lease server that intake depends on.
//
// These checks run in two contexts:
//   - The daemon calls RunAll at startup and logs every failed check.
//   - The CLI "intake doctor" command prints each result, adding
//     CheckServer against the configured server URL.
package preflight
