package pgx

import (
	"context"
	"fmt"

	"github.com/tapestry-hq/tapestry/backend/internal/util"
	"github.com/tapestry-hq/tapestry/backend/pkg/common"
	"github.com/tapestry-hq/tapestry/backend/pkg/store"
)

// InsertMention inserts the mention, or does nothing when an identical
// mention already exists. The duplicate check is the unique index, not an
// application-level lookup. On insert the owning entity's counters are
// refreshed in the same transaction.
func (s *GraphDBStorage) InsertMention(ctx context.Context, mention *common.Mention) (bool, error) {
	if mention.ID == "" {
		id, err := util.NewID()
		if err != nil {
			return false, fmt.Errorf("failed to generate mention id: %w", err)
		}
		mention.ID = id
	}

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin mention transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		INSERT INTO mentions (id, workspace_id, entity_id, doc_id, context, field_path, confidence, source, product_source, source_ref)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT DO NOTHING
	`,
		mention.ID,
		mention.WorkspaceID,
		mention.EntityID,
		nullIfEmpty(mention.DocID),
		mention.Context,
		mention.FieldPath,
		mention.Confidence,
		mention.Source,
		mention.ProductSource,
		mention.SourceRef,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert mention: %w", err)
	}

	created := tag.RowsAffected() > 0
	if created {
		_, err = tx.Exec(ctx, `
			UPDATE entities SET
				mention_count = (SELECT count(*) FROM mentions WHERE entity_id = $1),
				doc_count = (SELECT count(DISTINCT doc_id) FROM mentions WHERE entity_id = $1 AND doc_id IS NOT NULL),
				last_seen_at = now()
			WHERE id = $1
		`, mention.EntityID)
		if err != nil {
			return false, fmt.Errorf("failed to refresh entity counters: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit mention: %w", err)
	}
	return created, nil
}

func (s *GraphDBStorage) MentionContexts(
	ctx context.Context,
	workspaceID string,
	entityID string,
	docID string,
	limit int,
) ([]string, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT context
		FROM mentions
		WHERE workspace_id = $1 AND entity_id = $2 AND doc_id = $3 AND context <> ''
		ORDER BY created_at
		LIMIT $4
	`, workspaceID, entityID, docID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query mention contexts: %w", err)
	}
	defer rows.Close()

	contexts := make([]string, 0, limit)
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("failed to scan mention context: %w", err)
		}
		contexts = append(contexts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read mention contexts: %w", err)
	}

	return contexts, nil
}

// FindCoOccurrences returns all entity pairs in the workspace sharing at
// least one document. The self-join keeps only one direction per pair
// (smaller id first), which is the canonical stored direction. Pairs whose
// entities were deleted mid-scan drop out via the EXISTS checks.
func (s *GraphDBStorage) FindCoOccurrences(ctx context.Context, workspaceID string) ([]store.CoOccurrence, error) {
	return s.queryCoOccurrences(ctx, `
		SELECT a.entity_id, b.entity_id,
		       array_agg(DISTINCT a.doc_id),
		       count(DISTINCT a.doc_id)
		FROM mentions a
		JOIN mentions b
		  ON b.workspace_id = a.workspace_id
		 AND b.doc_id = a.doc_id
		 AND b.entity_id > a.entity_id
		WHERE a.workspace_id = $1
		  AND a.doc_id IS NOT NULL
		  AND EXISTS (SELECT 1 FROM entities ea WHERE ea.id = a.entity_id)
		  AND EXISTS (SELECT 1 FROM entities eb WHERE eb.id = b.entity_id)
		GROUP BY a.entity_id, b.entity_id
		ORDER BY count(DISTINCT a.doc_id) DESC, a.entity_id, b.entity_id
	`, workspaceID)
}

// FindCoOccurrencesForEntity restricts the co-occurrence scan to pairs that
// include the given entity.
func (s *GraphDBStorage) FindCoOccurrencesForEntity(
	ctx context.Context,
	workspaceID string,
	entityID string,
) ([]store.CoOccurrence, error) {
	return s.queryCoOccurrences(ctx, `
		SELECT a.entity_id, b.entity_id,
		       array_agg(DISTINCT a.doc_id),
		       count(DISTINCT a.doc_id)
		FROM mentions a
		JOIN mentions b
		  ON b.workspace_id = a.workspace_id
		 AND b.doc_id = a.doc_id
		 AND b.entity_id > a.entity_id
		WHERE a.workspace_id = $1
		  AND a.doc_id IS NOT NULL
		  AND (a.entity_id = $2 OR b.entity_id = $2)
		  AND EXISTS (SELECT 1 FROM entities ea WHERE ea.id = a.entity_id)
		  AND EXISTS (SELECT 1 FROM entities eb WHERE eb.id = b.entity_id)
		GROUP BY a.entity_id, b.entity_id
		ORDER BY count(DISTINCT a.doc_id) DESC, a.entity_id, b.entity_id
	`, workspaceID, entityID)
}

func (s *GraphDBStorage) queryCoOccurrences(ctx context.Context, query string, args ...any) ([]store.CoOccurrence, error) {
	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query co-occurrences: %w", err)
	}
	defer rows.Close()

	pairs := make([]store.CoOccurrence, 0)
	for rows.Next() {
		var pair store.CoOccurrence
		err := rows.Scan(&pair.EntityA, &pair.EntityB, &pair.SharedDocIDs, &pair.SharedDocCount)
		if err != nil {
			return nil, fmt.Errorf("failed to scan co-occurrence: %w", err)
		}
		pairs = append(pairs, pair)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read co-occurrences: %w", err)
	}

	return pairs, nil
}

func (s *GraphDBStorage) DeleteMentionsByDoc(ctx context.Context, workspaceID string, docID string) (int64, error) {
	tag, err := s.conn.Exec(ctx, `
		DELETE FROM mentions WHERE workspace_id = $1 AND doc_id = $2
	`, workspaceID, docID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete mentions by doc: %w", err)
	}
	return tag.RowsAffected(), nil
}
