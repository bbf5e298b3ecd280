package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/playbookd/internal/corpus"
)

// SavePatterns upserts patterns.
func (s *Store) SavePatterns(ctx context.Context, patterns ...corpus.Pattern) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO patterns (pattern_id, chunk_id, pattern_type, pattern_text, pattern_norm,
			category, severity, modality, topic, entities, confidence, extracted_at, retired)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(pattern_id) DO UPDATE SET
			chunk_id=excluded.chunk_id, pattern_type=excluded.pattern_type,
			pattern_text=excluded.pattern_text, pattern_norm=excluded.pattern_norm,
			category=excluded.category, severity=excluded.severity,
			modality=excluded.modality, topic=excluded.topic,
			entities=excluded.entities, confidence=excluded.confidence,
			extracted_at=excluded.extracted_at, retired=excluded.retired`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, p := range patterns {
		if p.PatternID == "" || p.ChunkID == "" {
			return fmt.Errorf("pattern requires pattern_id and chunk_id")
		}
		entities, err := marshalJSON(p.Entities)
		if err != nil {
			return err
		}
		retired := 0
		if p.Retired {
			retired = 1
		}
		if _, err := stmt.ExecContext(ctx, p.PatternID, p.ChunkID, string(p.PatternType),
			p.PatternText, p.PatternNorm, p.Category, string(p.Severity), string(p.Modality),
			p.Topic, entities, p.Confidence, p.ExtractedAt.Format(time.RFC3339Nano), retired); err != nil {
			return fmt.Errorf("saving pattern %s: %w", p.PatternID, err)
		}
	}
	return tx.Commit()
}

// ListPatterns returns a company's non-retired patterns, optionally
// restricted to one type.
func (s *Store) ListPatterns(ctx context.Context, companyID string, pt corpus.PatternType) ([]corpus.Pattern, error) {
	query := `
		SELECT p.pattern_id, p.chunk_id, p.pattern_type, p.pattern_text, p.pattern_norm,
			p.category, p.severity, p.modality, p.topic, p.entities, p.confidence, p.extracted_at, p.retired
		FROM patterns p
		JOIN chunks c ON c.chunk_id = p.chunk_id
		WHERE c.company_id = ? AND p.retired = 0`
	args := []any{companyID}
	if pt != "" {
		query += ` AND p.pattern_type = ?`
		args = append(args, string(pt))
	}
	query += ` ORDER BY p.pattern_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var patterns []corpus.Pattern
	for rows.Next() {
		var p corpus.Pattern
		var patternType, severity, modality, extractedAt string
		var entities sql.NullString
		var retired int
		if err := rows.Scan(&p.PatternID, &p.ChunkID, &patternType, &p.PatternText, &p.PatternNorm,
			&p.Category, &severity, &modality, &p.Topic, &entities, &p.Confidence, &extractedAt, &retired); err != nil {
			return nil, err
		}
		p.PatternType = corpus.PatternType(patternType)
		p.Severity = corpus.Severity(severity)
		p.Modality = corpus.Modality(modality)
		p.Retired = retired != 0
		p.ExtractedAt, _ = time.Parse(time.RFC3339Nano, extractedAt)
		if err := unmarshalJSON(entities, &p.Entities); err != nil {
			return nil, err
		}
		patterns = append(patterns, p)
	}
	return patterns, rows.Err()
}

// RetirePatterns marks a chunk's existing patterns of one type as
// retired. Reprocessing supersedes patterns instead of mutating them:
// retire the old set, then insert the new one.
func (s *Store) RetirePatterns(ctx context.Context, chunkID string, pt corpus.PatternType) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE patterns SET retired = 1 WHERE chunk_id = ? AND pattern_type = ?`,
		chunkID, string(pt))
	return err
}

// CountPatternsByType returns per-type non-retired pattern counts for a
// company.
func (s *Store) CountPatternsByType(ctx context.Context, companyID string) (map[corpus.PatternType]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.pattern_type, COUNT(*)
		FROM patterns p
		JOIN chunks c ON c.chunk_id = p.chunk_id
		WHERE c.company_id = ? AND p.retired = 0
		GROUP BY p.pattern_type`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[corpus.PatternType]int)
	for rows.Next() {
		var pt string
		var n int
		if err := rows.Scan(&pt, &n); err != nil {
			return nil, err
		}
		counts[corpus.PatternType(pt)] = n
	}
	return counts, rows.Err()
}

// ReplaceFamilies atomically replaces all families for a scope with the
// given set. Clustering output is a full partition, never a patch.
func (s *Store) ReplaceFamilies(ctx context.Context, companyID string, pt corpus.PatternType, families []corpus.Family) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM families WHERE company_id = ? AND pattern_type = ?`,
		companyID, string(pt)); err != nil {
		return fmt.Errorf("clearing families: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO families (family_id, pattern_type, company_id, canonical_text, topic,
			member_pattern_ids, embedding, document_count, mention_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, f := range families {
		members, err := marshalJSON(f.MemberPatternIDs)
		if err != nil {
			return err
		}
		embedding, err := marshalJSON(f.Embedding)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, f.FamilyID, string(f.PatternType), f.CompanyID,
			f.CanonicalText, f.Topic, members, embedding, f.DocumentCount, f.MentionCount); err != nil {
			return fmt.Errorf("saving family %s: %w", f.FamilyID, err)
		}
	}
	return tx.Commit()
}

// ListFamilies returns a company's families, optionally restricted to
// one pattern type.
func (s *Store) ListFamilies(ctx context.Context, companyID string, pt corpus.PatternType) ([]corpus.Family, error) {
	query := `
		SELECT family_id, pattern_type, company_id, canonical_text, topic,
			member_pattern_ids, embedding, document_count, mention_count
		FROM families WHERE company_id = ?`
	args := []any{companyID}
	if pt != "" {
		query += ` AND pattern_type = ?`
		args = append(args, string(pt))
	}
	query += ` ORDER BY family_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var families []corpus.Family
	for rows.Next() {
		var f corpus.Family
		var patternType string
		var members, embedding sql.NullString
		if err := rows.Scan(&f.FamilyID, &patternType, &f.CompanyID, &f.CanonicalText, &f.Topic,
			&members, &embedding, &f.DocumentCount, &f.MentionCount); err != nil {
			return nil, err
		}
		f.PatternType = corpus.PatternType(patternType)
		if err := unmarshalJSON(members, &f.MemberPatternIDs); err != nil {
			return nil, err
		}
		if err := unmarshalJSON(embedding, &f.Embedding); err != nil {
			return nil, err
		}
		families = append(families, f)
	}
	return families, rows.Err()
}

// SavePlaybook upserts the playbook for its (company, doc type) key.
func (s *Store) SavePlaybook(ctx context.Context, pb *corpus.Playbook) error {
	if pb == nil || pb.CompanyID == "" || pb.DocType == "" {
		return fmt.Errorf("playbook requires company_id and doc_type")
	}
	payload, err := json.Marshal(pb)
	if err != nil {
		return fmt.Errorf("marshaling playbook: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO playbooks (company_id, doc_type, payload, generated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(company_id, doc_type) DO UPDATE SET
			payload=excluded.payload, generated_at=excluded.generated_at`,
		pb.CompanyID, pb.DocType, string(payload), pb.GeneratedAt.Format(time.RFC3339Nano))
	return err
}

// GetPlaybook returns the playbook for a (company, doc type) key.
func (s *Store) GetPlaybook(ctx context.Context, companyID, docType string) (*corpus.Playbook, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM playbooks WHERE company_id = ? AND doc_type = ?`,
		companyID, docType).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: playbook %s/%s", ErrNotFound, companyID, docType)
	}
	if err != nil {
		return nil, err
	}
	var pb corpus.Playbook
	if err := json.Unmarshal([]byte(payload), &pb); err != nil {
		return nil, fmt.Errorf("unmarshaling playbook: %w", err)
	}
	return &pb, nil
}

// SetExtractionStatus records the extraction outcome for a chunk and
// pattern type.
func (s *Store) SetExtractionStatus(ctx context.Context, chunkID string, pt corpus.PatternType, status string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO extractions (chunk_id, pattern_type, status, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(chunk_id, pattern_type) DO UPDATE SET
			status=excluded.status, updated_at=excluded.updated_at`,
		chunkID, string(pt), status, time.Now().UTC().Format(time.RFC3339Nano))
	return err
}

// UnprocessedChunks returns a company's chunks with no extraction
// record for the pattern type, or one still pending. Skipped and
// extracted chunks are final and never re-extracted.
func (s *Store) UnprocessedChunks(ctx context.Context, companyID string, pt corpus.PatternType) ([]corpus.Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.chunk_id, c.doc_id, c.company_id, c.chunk_type, c.text, c.structure_path, c.locator, c.raw_table
		FROM chunks c
		LEFT JOIN extractions e ON e.chunk_id = c.chunk_id AND e.pattern_type = ?
		WHERE c.company_id = ? AND (e.status IS NULL OR e.status = ?)
		ORDER BY c.chunk_id`, string(pt), companyID, StatusPending)
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
