// Package store persists documents, chunks, patterns, families and
// playbooks in SQLite. It is the system of record; the vector and
// lexical indexes are derived views rebuilt from it.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/playbookd/internal/corpus"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Extraction statuses tracked per (chunk, pattern type).
const (
	StatusExtracted = "extracted"
	StatusPending   = "pending"
	StatusSkipped   = "skipped"
)

// Store wraps the SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens the database at path, creating the schema if needed.
// WAL mode is enabled for concurrent readers during batch writes.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %s: %w", pragma, err)
		}
	}

	if err := initSchema(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func initSchema(ctx context.Context, db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS documents (
	doc_id TEXT PRIMARY KEY,
	company_id TEXT NOT NULL,
	doc_type TEXT NOT NULL,
	name TEXT,
	ingested_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_documents_scope ON documents(company_id, doc_type);

CREATE TABLE IF NOT EXISTS chunks (
	chunk_id TEXT PRIMARY KEY,
	doc_id TEXT NOT NULL,
	company_id TEXT NOT NULL,
	chunk_type TEXT NOT NULL,
	text TEXT NOT NULL,
	structure_path TEXT,
	locator TEXT,
	raw_table TEXT,
	FOREIGN KEY(doc_id) REFERENCES documents(doc_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_chunks_company ON chunks(company_id);
CREATE INDEX IF NOT EXISTS idx_chunks_doc ON chunks(doc_id);

CREATE TABLE IF NOT EXISTS patterns (
	pattern_id TEXT PRIMARY KEY,
	chunk_id TEXT NOT NULL,
	pattern_type TEXT NOT NULL,
	pattern_text TEXT NOT NULL,
	pattern_norm TEXT NOT NULL,
	category TEXT,
	severity TEXT,
	modality TEXT,
	topic TEXT,
	entities TEXT,
	confidence REAL NOT NULL,
	extracted_at TEXT,
	retired INTEGER NOT NULL DEFAULT 0,
	FOREIGN KEY(chunk_id) REFERENCES chunks(chunk_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_patterns_type ON patterns(pattern_type);
CREATE INDEX IF NOT EXISTS idx_patterns_norm ON patterns(pattern_norm);

CREATE TABLE IF NOT EXISTS families (
	family_id TEXT PRIMARY KEY,
	pattern_type TEXT NOT NULL,
	company_id TEXT NOT NULL,
	canonical_text TEXT NOT NULL,
	topic TEXT,
	member_pattern_ids TEXT NOT NULL,
	embedding TEXT,
	document_count INTEGER NOT NULL,
	mention_count INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_families_scope ON families(company_id, pattern_type);

CREATE TABLE IF NOT EXISTS playbooks (
	company_id TEXT NOT NULL,
	doc_type TEXT NOT NULL,
	payload TEXT NOT NULL,
	generated_at TEXT NOT NULL,
	PRIMARY KEY(company_id, doc_type)
);

CREATE TABLE IF NOT EXISTS extractions (
	chunk_id TEXT NOT NULL,
	pattern_type TEXT NOT NULL,
	status TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	PRIMARY KEY(chunk_id, pattern_type),
	FOREIGN KEY(chunk_id) REFERENCES chunks(chunk_id) ON DELETE CASCADE
);
`
	_, err := db.ExecContext(ctx, schema)
	return err
}

// SaveDocuments upserts documents.
func (s *Store) SaveDocuments(ctx context.Context, docs ...corpus.Document) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO documents (doc_id, company_id, doc_type, name, ingested_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(doc_id) DO UPDATE SET
			company_id=excluded.company_id, doc_type=excluded.doc_type,
			name=excluded.name, ingested_at=excluded.ingested_at`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, doc := range docs {
		if doc.DocID == "" || doc.CompanyID == "" || doc.DocType == "" {
			return fmt.Errorf("document requires doc_id, company_id and doc_type")
		}
		ingested := doc.IngestedAt
		if ingested.IsZero() {
			ingested = time.Now().UTC()
		}
		if _, err := stmt.ExecContext(ctx, doc.DocID, doc.CompanyID, doc.DocType, doc.Name, ingested.Format(time.RFC3339Nano)); err != nil {
			return fmt.Errorf("saving document %s: %w", doc.DocID, err)
		}
	}
	return tx.Commit()
}

// ListDocuments returns the documents for a company, optionally
// filtered by doc type.
func (s *Store) ListDocuments(ctx context.Context, companyID, docType string) ([]corpus.Document, error) {
	query := `SELECT doc_id, company_id, doc_type, name, ingested_at FROM documents WHERE company_id = ?`
	args := []any{companyID}
	if docType != "" {
		query += ` AND doc_type = ?`
		args = append(args, docType)
	}
	query += ` ORDER BY doc_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []corpus.Document
	for rows.Next() {
		var doc corpus.Document
		var ingested string
		if err := rows.Scan(&doc.DocID, &doc.CompanyID, &doc.DocType, &doc.Name, &ingested); err != nil {
			return nil, err
		}
		doc.IngestedAt, _ = time.Parse(time.RFC3339Nano, ingested)
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// CompanyIDs returns the distinct company IDs with ingested documents.
func (s *Store) CompanyIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT company_id FROM documents ORDER BY company_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SaveChunks upserts chunks.
func (s *Store) SaveChunks(ctx context.Context, chunks ...corpus.Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (chunk_id, doc_id, company_id, chunk_type, text, structure_path, locator, raw_table)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(chunk_id) DO UPDATE SET
			doc_id=excluded.doc_id, company_id=excluded.company_id,
			chunk_type=excluded.chunk_type, text=excluded.text,
			structure_path=excluded.structure_path, locator=excluded.locator,
			raw_table=excluded.raw_table`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, chunk := range chunks {
		if chunk.ChunkID == "" || chunk.DocID == "" {
			return fmt.Errorf("chunk requires chunk_id and doc_id")
		}
		path, err := marshalJSON(chunk.StructurePath)
		if err != nil {
			return err
		}
		table, err := marshalJSON(chunk.RawTable)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, chunk.ChunkID, chunk.DocID, chunk.CompanyID,
			string(chunk.ChunkType), chunk.Text, path, chunk.Locator, table); err != nil {
			return fmt.Errorf("saving chunk %s: %w", chunk.ChunkID, err)
		}
	}
	return tx.Commit()
}

// GetChunk returns one chunk by ID.
func (s *Store) GetChunk(ctx context.Context, chunkID string) (*corpus.Chunk, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT chunk_id, doc_id, company_id, chunk_type, text, structure_path, locator, raw_table
		FROM chunks WHERE chunk_id = ?`, chunkID)
	chunk, err := scanChunk(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: chunk %s", ErrNotFound, chunkID)
	}
	return chunk, err
}

// ListChunks returns a company's chunks, optionally restricted to one
// doc type.
func (s *Store) ListChunks(ctx context.Context, companyID, docType string) ([]corpus.Chunk, error) {
	query := `
		SELECT c.chunk_id, c.doc_id, c.company_id, c.chunk_type, c.text, c.structure_path, c.locator, c.raw_table
		FROM chunks c`
	args := []any{companyID}
	if docType != "" {
		query += ` JOIN documents d ON d.doc_id = c.doc_id WHERE c.company_id = ? AND d.doc_type = ?`
		args = append(args, docType)
	} else {
		query += ` WHERE c.company_id = ?`
	}
	query += ` ORDER BY c.chunk_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []corpus.Chunk
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, *chunk)
	}
	return chunks, rows.Err()
}

// ListHeadings returns the heading chunks for a company and doc type.
func (s *Store) ListHeadings(ctx context.Context, companyID, docType string) ([]corpus.Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.chunk_id, c.doc_id, c.company_id, c.chunk_type, c.text, c.structure_path, c.locator, c.raw_table
		FROM chunks c
		JOIN documents d ON d.doc_id = c.doc_id
		WHERE c.company_id = ? AND d.doc_type = ? AND c.chunk_type = ?
		ORDER BY c.chunk_id`, companyID, docType, string(corpus.ChunkHeading))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []corpus.Chunk
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, *chunk)
	}
	return chunks, rows.Err()
}

// DocIDsByChunk returns the chunk-to-document mapping for a company.
func (s *Store) DocIDsByChunk(ctx context.Context, companyID string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chunk_id, doc_id FROM chunks WHERE company_id = ?`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var chunkID, docID string
		if err := rows.Scan(&chunkID, &docID); err != nil {
			return nil, err
		}
		out[chunkID] = docID
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChunk(row rowScanner) (*corpus.Chunk, error) {
	var chunk corpus.Chunk
	var chunkType string
	var path, table sql.NullString
	if err := row.Scan(&chunk.ChunkID, &chunk.DocID, &chunk.CompanyID, &chunkType,
		&chunk.Text, &path, &chunk.Locator, &table); err != nil {
		return nil, err
	}
	chunk.ChunkType = corpus.ChunkType(chunkType)
	if err := unmarshalJSON(path, &chunk.StructurePath); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(table, &chunk.RawTable); err != nil {
		return nil, err
	}
	return &chunk, nil
}

func marshalJSON(v any) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	if string(data) == "null" {
		return sql.NullString{}, nil
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func unmarshalJSON(s sql.NullString, v any) error {
	if !s.Valid || s.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(s.String), v)
}
