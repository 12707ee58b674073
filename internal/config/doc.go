// Package config loads, normalizes, and validates intake configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// INTAKE_API_TOKEN and INTAKE_HOLDER. The Config type centralizes every knob
// the daemon and CLI need: where the backlog database and asset share live,
// how long a lease survives without renewal, and how often operators renew.
//
// Lease timing is validated together: the TTL must cover at least three
// renewal intervals so a single missed heartbeat never frees an item that is
// still being edited.
package config
