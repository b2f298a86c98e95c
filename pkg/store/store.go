package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/tapestry-hq/tapestry/backend/pkg/common"
)

// ErrNotFound is returned by lookups that match no row.
var ErrNotFound = errors.New("not found")

// RelationshipLimitError is returned when creating a relationship would
// exceed the workspace cap. It is the only error from the graph engine that
// callers are expected to handle as a hard failure.
type RelationshipLimitError struct {
	WorkspaceID string
	Count       int
	Limit       int
}

func (e *RelationshipLimitError) Error() string {
	return fmt.Sprintf(
		"workspace %s has reached the relationship limit (%d/%d)",
		e.WorkspaceID, e.Count, e.Limit,
	)
}

// CoOccurrence is one unordered entity pair sharing at least one document.
// EntityA is always the smaller id of the pair.
type CoOccurrence struct {
	EntityA        string
	EntityB        string
	SharedDocIDs   []string
	SharedDocCount int
}

// EntityStore persists deduplicated entities.
type EntityStore interface {
	// GetOrCreateEntity atomically inserts the entity or returns the existing
	// row for the same (workspace, normalized name, type) key. The passed
	// entity is updated in place with the stored row. Reports whether a new
	// row was created. The insert-or-return is a single statement; two
	// concurrent calls for a brand-new key resolve at the constraint level.
	GetOrCreateEntity(ctx context.Context, entity *common.Entity) (bool, error)

	GetEntityByID(ctx context.Context, workspaceID string, id string) (*common.Entity, error)
	GetEntityByKey(ctx context.Context, workspaceID string, normalizedName string, entityType common.EntityType) (*common.Entity, error)

	// UpdateEntityAliases replaces the alias list of an entity.
	UpdateEntityAliases(ctx context.Context, workspaceID string, id string, aliases []string) error

	// UpdateEntityMetadata replaces the metadata blob of an entity.
	UpdateEntityMetadata(ctx context.Context, workspaceID string, id string, metadata map[string]any) error

	// DeleteEntity removes an entity; its mentions and relationships cascade.
	DeleteEntity(ctx context.Context, workspaceID string, id string) error

	// MergeEntities folds the absorbed entities into the survivor: aliases
	// are unioned, mentions and relationships are reassigned (collapsing
	// duplicates via the unique constraints), and the absorbed rows are
	// deleted.
	MergeEntities(ctx context.Context, workspaceID string, survivorID string, absorbedIDs []string) error
}

// MentionStore persists entity mentions and answers co-occurrence queries
// over them.
type MentionStore interface {
	// InsertMention inserts the mention, or does nothing when an identical
	// mention already exists. Reports whether a row was inserted. On insert
	// the owning entity's mention and document counters are refreshed in the
	// same transaction.
	InsertMention(ctx context.Context, mention *common.Mention) (bool, error)

	// MentionContexts returns up to limit non-empty mention contexts for one
	// entity in one document.
	MentionContexts(ctx context.Context, workspaceID string, entityID string, docID string, limit int) ([]string, error)

	// FindCoOccurrences returns all entity pairs in the workspace sharing at
	// least one document, ordered by shared-document count descending. Pairs
	// whose entities no longer exist are skipped.
	FindCoOccurrences(ctx context.Context, workspaceID string) ([]CoOccurrence, error)

	// FindCoOccurrencesForEntity restricts FindCoOccurrences to pairs that
	// include the given entity.
	FindCoOccurrencesForEntity(ctx context.Context, workspaceID string, entityID string) ([]CoOccurrence, error)

	// DeleteMentionsByDoc removes all mentions of a deleted document and
	// returns the number of rows removed.
	DeleteMentionsByDoc(ctx context.Context, workspaceID string, docID string) (int64, error)
}

// RelationshipStore persists relationship edges.
type RelationshipStore interface {
	// CreateRelationship inserts the relationship, or does nothing when the
	// (from, to, type) triple already exists. Reports whether a row was
	// inserted. Returns *RelationshipLimitError when the workspace is at its
	// relationship cap.
	CreateRelationship(ctx context.Context, rel *common.Relationship) (bool, error)

	GetRelationshipByPair(ctx context.Context, workspaceID string, fromID string, toID string, relType common.RelationshipType) (*common.Relationship, error)

	// UpdateRelationship rewrites label, strength and evidence of an
	// existing relationship and bumps its updated timestamp.
	UpdateRelationship(ctx context.Context, rel *common.Relationship) error

	// RelationshipsForEntity returns the entity's neighborhood, strongest
	// edges first.
	RelationshipsForEntity(ctx context.Context, workspaceID string, entityID string, limit int) ([]*common.Relationship, error)

	CountRelationships(ctx context.Context, workspaceID string) (int, error)
}

// Storage bundles the three repositories behind one handle. The pgx
// implementation backs all of them with a single connection pool.
type Storage interface {
	EntityStore
	MentionStore
	RelationshipStore
}
