// Package backlog persists work items awaiting manual enrichment in SQLite.
//
// The Store owns the database connection, schema initialization, item
// ingestion, session aggregates and the lease columns stored inline on every
// row. Lease transitions are single conditional UPDATE statements: each one
// states the precondition in its WHERE clause and reports whether a row
// matched, so two concurrent callers can never both win the same item. The
// lease package layers holder semantics and error taxonomy on top.
//
// Schema changes bump the version in schema.go; operators re-import the
// backlog to adopt the new schema.
package backlog
