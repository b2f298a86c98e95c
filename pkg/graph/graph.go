package graph

import (
	"context"

	"github.com/tapestry-hq/tapestry/backend/internal/config"
	"github.com/tapestry-hq/tapestry/backend/pkg/ai"
	"github.com/tapestry-hq/tapestry/backend/pkg/common"
	"github.com/tapestry-hq/tapestry/backend/pkg/store"
)

// Notifier receives best-effort cross-product notifications after graph
// mutations commit. Implementations must not block and must swallow their own
// failures; the engine never inspects the outcome.
type Notifier interface {
	EntityReused(workspaceID string, entity *common.Entity)
	RelationshipCreated(workspaceID string, relationship *common.Relationship)
}

// GraphClient is the knowledge-graph engine. It ingests entity sightings,
// deduplicates them per workspace, and derives typed relationships from
// cross-document co-occurrence in two stages: a deterministic scoring pass
// and an AI labeling pass that refines type, label and strength.
//
// A GraphClient should be created using NewGraphClient.
type GraphClient struct {
	storage  store.Storage
	aiClient ai.GraphAIClient
	notifier Notifier
	cfg      config.GraphConfig
}

// NewGraphClientParams contains configuration for creating a GraphClient.
// AIClient may be nil, in which case the AI labeling stage is skipped.
// Notifier may be nil, in which case no notifications are dispatched.
type NewGraphClientParams struct {
	Storage  store.Storage
	AIClient ai.GraphAIClient
	Notifier Notifier
	Config   config.GraphConfig
}

// NewGraphClient creates a graph engine on top of the given storage.
func NewGraphClient(params NewGraphClientParams) *GraphClient {
	return &GraphClient{
		storage:  params.Storage,
		aiClient: params.AIClient,
		notifier: params.Notifier,
		cfg:      params.Config,
	}
}

// IngestResult summarizes one ingestion call. Errors holds per-item failures;
// the counts always reflect what actually persisted.
type IngestResult struct {
	EntitiesCreated      int      `json:"entities_created"`
	EntitiesReused       int      `json:"entities_reused"`
	MentionsCreated      int      `json:"mentions_created"`
	RelationshipsCreated int      `json:"relationships_created"`
	Errors               []string `json:"errors"`

	// TouchedEntityIDs lists every entity the call resolved, in payload order.
	// Callers use it to schedule incremental detection.
	TouchedEntityIDs []string `json:"-"`
}

// DetectionSummary summarizes one detection pass, full or incremental.
type DetectionSummary struct {
	CoOccurrencesFound   int      `json:"co_occurrences_found"`
	AILabeled            int      `json:"ai_labeled"`
	RelationshipsCreated int      `json:"relationships_created"`
	RelationshipsUpdated int      `json:"relationships_updated"`
	Errors               []string `json:"errors"`
}

// Neighborhood returns the strongest relationships touching the entity. The
// entity must exist; callers get store.ErrNotFound otherwise.
func (c *GraphClient) Neighborhood(
	ctx context.Context,
	workspaceID string,
	entityID string,
	limit int,
) ([]*common.Relationship, error) {
	if _, err := c.storage.GetEntityByID(ctx, workspaceID, entityID); err != nil {
		return nil, err
	}
	return c.storage.RelationshipsForEntity(ctx, workspaceID, entityID, limit)
}
