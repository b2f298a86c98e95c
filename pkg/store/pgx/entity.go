package pgx

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/tapestry-hq/tapestry/backend/internal/util"
	"github.com/tapestry-hq/tapestry/backend/pkg/common"
	"github.com/tapestry-hq/tapestry/backend/pkg/store"
)

// GetOrCreateEntity atomically inserts the entity or returns the existing row
// for the same (workspace, normalized name, type) key. The insert and the
// lookup are one statement, so two concurrent calls for a brand-new key both
// land on the same row; xmax tells inserted rows from updated ones.
func (s *GraphDBStorage) GetOrCreateEntity(ctx context.Context, entity *common.Entity) (bool, error) {
	if entity.ID == "" {
		id, err := util.NewID()
		if err != nil {
			return false, fmt.Errorf("failed to generate entity id: %w", err)
		}
		entity.ID = id
	}
	if entity.Aliases == nil {
		entity.Aliases = []string{}
	}
	if entity.Metadata == nil {
		entity.Metadata = map[string]any{}
	}

	var created bool
	err := s.conn.QueryRow(ctx, `
		INSERT INTO entities (id, workspace_id, entity_type, name, normalized_name, aliases, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT ON CONSTRAINT entities_dedup_key
		DO UPDATE SET last_seen_at = now()
		RETURNING id, name, aliases, metadata, mention_count, doc_count, first_seen_at, last_seen_at, (xmax = 0)
	`,
		entity.ID,
		entity.WorkspaceID,
		entity.Type,
		entity.Name,
		entity.NormalizedName,
		entity.Aliases,
		entity.Metadata,
	).Scan(
		&entity.ID,
		&entity.Name,
		&entity.Aliases,
		&entity.Metadata,
		&entity.MentionCount,
		&entity.DocCount,
		&entity.FirstSeenAt,
		&entity.LastSeenAt,
		&created,
	)
	if err != nil {
		return false, fmt.Errorf("failed to upsert entity: %w", err)
	}

	return created, nil
}

func (s *GraphDBStorage) GetEntityByID(ctx context.Context, workspaceID string, id string) (*common.Entity, error) {
	return s.scanEntity(s.conn.QueryRow(ctx, `
		SELECT id, workspace_id, entity_type, name, normalized_name, aliases, metadata,
		       mention_count, doc_count, first_seen_at, last_seen_at
		FROM entities
		WHERE workspace_id = $1 AND id = $2
	`, workspaceID, id))
}

func (s *GraphDBStorage) GetEntityByKey(
	ctx context.Context,
	workspaceID string,
	normalizedName string,
	entityType common.EntityType,
) (*common.Entity, error) {
	return s.scanEntity(s.conn.QueryRow(ctx, `
		SELECT id, workspace_id, entity_type, name, normalized_name, aliases, metadata,
		       mention_count, doc_count, first_seen_at, last_seen_at
		FROM entities
		WHERE workspace_id = $1 AND normalized_name = $2 AND entity_type = $3
	`, workspaceID, normalizedName, entityType))
}

func (s *GraphDBStorage) scanEntity(row pgx.Row) (*common.Entity, error) {
	entity := &common.Entity{}
	err := row.Scan(
		&entity.ID,
		&entity.WorkspaceID,
		&entity.Type,
		&entity.Name,
		&entity.NormalizedName,
		&entity.Aliases,
		&entity.Metadata,
		&entity.MentionCount,
		&entity.DocCount,
		&entity.FirstSeenAt,
		&entity.LastSeenAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan entity: %w", err)
	}
	return entity, nil
}

func (s *GraphDBStorage) UpdateEntityAliases(ctx context.Context, workspaceID string, id string, aliases []string) error {
	if aliases == nil {
		aliases = []string{}
	}
	tag, err := s.conn.Exec(ctx, `
		UPDATE entities SET aliases = $3, last_seen_at = now()
		WHERE workspace_id = $1 AND id = $2
	`, workspaceID, id, aliases)
	if err != nil {
		return fmt.Errorf("failed to update entity aliases: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *GraphDBStorage) UpdateEntityMetadata(ctx context.Context, workspaceID string, id string, metadata map[string]any) error {
	if metadata == nil {
		metadata = map[string]any{}
	}
	tag, err := s.conn.Exec(ctx, `
		UPDATE entities SET metadata = $3, last_seen_at = now()
		WHERE workspace_id = $1 AND id = $2
	`, workspaceID, id, metadata)
	if err != nil {
		return fmt.Errorf("failed to update entity metadata: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *GraphDBStorage) DeleteEntity(ctx context.Context, workspaceID string, id string) error {
	tag, err := s.conn.Exec(ctx, `
		DELETE FROM entities WHERE workspace_id = $1 AND id = $2
	`, workspaceID, id)
	if err != nil {
		return fmt.Errorf("failed to delete entity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// MergeEntities folds the absorbed entities into the survivor. Mentions and
// relationships are reassigned; rows that would collide with an existing row
// under the unique constraints are dropped instead of reassigned. Absorbed
// names join the survivor's alias list.
func (s *GraphDBStorage) MergeEntities(ctx context.Context, workspaceID string, survivorID string, absorbedIDs []string) error {
	if len(absorbedIDs) == 0 {
		return nil
	}

	survivor, err := s.GetEntityByID(ctx, workspaceID, survivorID)
	if err != nil {
		return err
	}

	aliasSet := make(map[string]bool, len(survivor.Aliases))
	aliases := append([]string{}, survivor.Aliases...)
	for _, a := range survivor.Aliases {
		aliasSet[a] = true
	}

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin merge transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, absorbedID := range absorbedIDs {
		absorbed, err := s.GetEntityByID(ctx, workspaceID, absorbedID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if !aliasSet[absorbed.Name] && absorbed.Name != survivor.Name {
			aliasSet[absorbed.Name] = true
			aliases = append(aliases, absorbed.Name)
		}
		for _, a := range absorbed.Aliases {
			if !aliasSet[a] && a != survivor.Name {
				aliasSet[a] = true
				aliases = append(aliases, a)
			}
		}
	}

	// Mentions that would duplicate an identical survivor mention are dropped.
	_, err = tx.Exec(ctx, `
		DELETE FROM mentions m
		USING mentions keep
		WHERE m.entity_id = ANY($2)
		  AND keep.entity_id = $1
		  AND COALESCE(m.doc_id, '') = COALESCE(keep.doc_id, '')
		  AND m.field_path = keep.field_path
		  AND m.source = keep.source
		  AND m.product_source = keep.product_source
		  AND m.source_ref = keep.source_ref
	`, survivorID, absorbedIDs)
	if err != nil {
		return fmt.Errorf("failed to drop colliding mentions: %w", err)
	}
	// Identical mentions spread across the absorbed set would collide with
	// each other after reassignment; one winner per dedup key survives.
	_, err = tx.Exec(ctx, `
		DELETE FROM mentions m
		USING (
			SELECT min(id) AS id,
			       COALESCE(doc_id, '') AS doc_key,
			       field_path, source, product_source, source_ref
			FROM mentions
			WHERE entity_id = ANY($1)
			GROUP BY 2, 3, 4, 5, 6
		) winner
		WHERE m.entity_id = ANY($1)
		  AND COALESCE(m.doc_id, '') = winner.doc_key
		  AND m.field_path = winner.field_path
		  AND m.source = winner.source
		  AND m.product_source = winner.product_source
		  AND m.source_ref = winner.source_ref
		  AND m.id <> winner.id
	`, absorbedIDs)
	if err != nil {
		return fmt.Errorf("failed to collapse absorbed mentions: %w", err)
	}
	_, err = tx.Exec(ctx, `
		UPDATE mentions SET entity_id = $1 WHERE entity_id = ANY($2)
	`, survivorID, absorbedIDs)
	if err != nil {
		return fmt.Errorf("failed to reassign mentions: %w", err)
	}

	// Self-loops and pairs already present on the survivor are dropped before
	// retargeting the remaining edges.
	_, err = tx.Exec(ctx, `
		DELETE FROM relationships
		WHERE from_entity_id = ANY($2) AND to_entity_id = ANY($3)
		   OR from_entity_id = ANY($2) AND to_entity_id = $1
		   OR to_entity_id = ANY($2) AND from_entity_id = $1
	`, survivorID, absorbedIDs, absorbedIDs)
	if err != nil {
		return fmt.Errorf("failed to drop merged self-loops: %w", err)
	}
	_, err = tx.Exec(ctx, `
		DELETE FROM relationships r
		USING relationships keep
		WHERE r.from_entity_id = ANY($2)
		  AND keep.from_entity_id = LEAST($1, r.to_entity_id)
		  AND keep.to_entity_id = GREATEST($1, r.to_entity_id)
		  AND keep.relationship_type = r.relationship_type
	`, survivorID, absorbedIDs)
	if err != nil {
		return fmt.Errorf("failed to drop colliding relationships: %w", err)
	}
	_, err = tx.Exec(ctx, `
		DELETE FROM relationships r
		USING relationships keep
		WHERE r.to_entity_id = ANY($2)
		  AND keep.from_entity_id = LEAST($1, r.from_entity_id)
		  AND keep.to_entity_id = GREATEST($1, r.from_entity_id)
		  AND keep.relationship_type = r.relationship_type
	`, survivorID, absorbedIDs)
	if err != nil {
		return fmt.Errorf("failed to drop colliding relationships: %w", err)
	}
	// Two absorbed entities that both relate to the same third entity map onto
	// the same (survivor, other, type) triple; keep one edge per triple.
	_, err = tx.Exec(ctx, `
		DELETE FROM relationships r
		USING (
			SELECT min(id) AS id,
			       CASE WHEN from_entity_id = ANY($1) THEN to_entity_id ELSE from_entity_id END AS other_id,
			       relationship_type
			FROM relationships
			WHERE from_entity_id = ANY($1) OR to_entity_id = ANY($1)
			GROUP BY 2, 3
		) winner
		WHERE (r.from_entity_id = ANY($1) OR r.to_entity_id = ANY($1))
		  AND CASE WHEN r.from_entity_id = ANY($1) THEN r.to_entity_id ELSE r.from_entity_id END = winner.other_id
		  AND r.relationship_type = winner.relationship_type
		  AND r.id <> winner.id
	`, absorbedIDs)
	if err != nil {
		return fmt.Errorf("failed to collapse absorbed relationships: %w", err)
	}
	_, err = tx.Exec(ctx, `
		UPDATE relationships
		SET from_entity_id = LEAST($1, to_entity_id),
		    to_entity_id = GREATEST($1, to_entity_id),
		    updated_at = now()
		WHERE from_entity_id = ANY($2)
	`, survivorID, absorbedIDs)
	if err != nil {
		return fmt.Errorf("failed to reassign relationships: %w", err)
	}
	_, err = tx.Exec(ctx, `
		UPDATE relationships
		SET to_entity_id = GREATEST($1, from_entity_id),
		    from_entity_id = LEAST($1, from_entity_id),
		    updated_at = now()
		WHERE to_entity_id = ANY($2)
	`, survivorID, absorbedIDs)
	if err != nil {
		return fmt.Errorf("failed to reassign relationships: %w", err)
	}

	_, err = tx.Exec(ctx, `
		DELETE FROM entities WHERE workspace_id = $1 AND id = ANY($2)
	`, workspaceID, absorbedIDs)
	if err != nil {
		return fmt.Errorf("failed to delete absorbed entities: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE entities SET
			aliases = $2,
			mention_count = (SELECT count(*) FROM mentions WHERE entity_id = $1),
			doc_count = (SELECT count(DISTINCT doc_id) FROM mentions WHERE entity_id = $1 AND doc_id IS NOT NULL),
			last_seen_at = now()
		WHERE id = $1
	`, survivorID, aliases)
	if err != nil {
		return fmt.Errorf("failed to update survivor entity: %w", err)
	}

	return tx.Commit(ctx)
}
