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

// CreateRelationship inserts the relationship, or does nothing when the
// (from, to, type) pair already exists. The caller is expected to pass the
// pair in canonical direction. The per-workspace cap is checked first so a
// full workspace never grows.
func (s *GraphDBStorage) CreateRelationship(ctx context.Context, relationship *common.Relationship) (bool, error) {
	if relationship.ID == "" {
		id, err := util.NewID()
		if err != nil {
			return false, fmt.Errorf("failed to generate relationship id: %w", err)
		}
		relationship.ID = id
	}
	if relationship.Evidence == nil {
		relationship.Evidence = []common.Evidence{}
	}

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin relationship transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var count int
	err = tx.QueryRow(ctx, `
		SELECT count(*) FROM relationships WHERE workspace_id = $1
	`, relationship.WorkspaceID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to count relationships: %w", err)
	}
	if count >= s.relationshipLimit {
		return false, &store.RelationshipLimitError{
			WorkspaceID: relationship.WorkspaceID,
			Count:       count,
			Limit:       s.relationshipLimit,
		}
	}

	tag, err := tx.Exec(ctx, `
		INSERT INTO relationships (id, workspace_id, from_entity_id, to_entity_id, relationship_type, label, strength, evidence)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT DO NOTHING
	`,
		relationship.ID,
		relationship.WorkspaceID,
		relationship.FromEntityID,
		relationship.ToEntityID,
		relationship.Type,
		nullIfEmpty(relationship.Label),
		relationship.Strength,
		relationship.Evidence,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert relationship: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit relationship: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *GraphDBStorage) GetRelationshipByPair(
	ctx context.Context,
	workspaceID string,
	fromEntityID string,
	toEntityID string,
	relationshipType common.RelationshipType,
) (*common.Relationship, error) {
	return s.scanRelationship(s.conn.QueryRow(ctx, `
		SELECT id, workspace_id, from_entity_id, to_entity_id, relationship_type, label, strength, evidence, created_at, updated_at
		FROM relationships
		WHERE workspace_id = $1 AND from_entity_id = $2 AND to_entity_id = $3 AND relationship_type = $4
	`, workspaceID, fromEntityID, toEntityID, relationshipType))
}

func (s *GraphDBStorage) UpdateRelationship(ctx context.Context, relationship *common.Relationship) error {
	if relationship.Evidence == nil {
		relationship.Evidence = []common.Evidence{}
	}
	tag, err := s.conn.Exec(ctx, `
		UPDATE relationships
		SET relationship_type = $3, label = $4, strength = $5, evidence = $6, updated_at = now()
		WHERE workspace_id = $1 AND id = $2
	`,
		relationship.WorkspaceID,
		relationship.ID,
		relationship.Type,
		nullIfEmpty(relationship.Label),
		relationship.Strength,
		relationship.Evidence,
	)
	if err != nil {
		return fmt.Errorf("failed to update relationship: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// RelationshipsForEntity returns relationships touching the entity on either
// side, strongest first.
func (s *GraphDBStorage) RelationshipsForEntity(
	ctx context.Context,
	workspaceID string,
	entityID string,
	limit int,
) ([]*common.Relationship, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT id, workspace_id, from_entity_id, to_entity_id, relationship_type, label, strength, evidence, created_at, updated_at
		FROM relationships
		WHERE workspace_id = $1 AND (from_entity_id = $2 OR to_entity_id = $2)
		ORDER BY strength DESC, created_at
		LIMIT $3
	`, workspaceID, entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query relationships: %w", err)
	}
	defer rows.Close()

	relationships := make([]*common.Relationship, 0)
	for rows.Next() {
		relationship, err := s.scanRelationship(rows)
		if err != nil {
			return nil, err
		}
		relationships = append(relationships, relationship)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read relationships: %w", err)
	}

	return relationships, nil
}

func (s *GraphDBStorage) CountRelationships(ctx context.Context, workspaceID string) (int, error) {
	var count int
	err := s.conn.QueryRow(ctx, `
		SELECT count(*) FROM relationships WHERE workspace_id = $1
	`, workspaceID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count relationships: %w", err)
	}
	return count, nil
}

func (s *GraphDBStorage) scanRelationship(row pgx.Row) (*common.Relationship, error) {
	relationship := &common.Relationship{}
	var label *string
	err := row.Scan(
		&relationship.ID,
		&relationship.WorkspaceID,
		&relationship.FromEntityID,
		&relationship.ToEntityID,
		&relationship.Type,
		&label,
		&relationship.Strength,
		&relationship.Evidence,
		&relationship.CreatedAt,
		&relationship.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan relationship: %w", err)
	}
	relationship.Label = orEmpty(label)
	return relationship, nil
}
