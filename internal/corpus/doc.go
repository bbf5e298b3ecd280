// Package corpus defines the domain model shared by every stage of the
// engine: chunks produced by the ingestion pipeline, patterns extracted
// from chunks, families of clustered patterns, and company playbooks.
//
// All types here are plain data. Chunks and patterns are immutable once
// created; reprocessing a source document supersedes its chunks and
// retires their patterns rather than editing rows in place. Families and
// playbooks are recomputed wholesale per scope.
package corpus
