// Package logs reads the daemon and console log files for `intake logs`.
//
// Last returns the trailing lines of a file with bounded memory; Follow polls
// from a byte offset and emits new lines until its context ends, restarting
// from the top when the file is truncated or rotated.
package logs
