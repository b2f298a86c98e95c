package graph

import (
	"context"
	"errors"
	"fmt"

	"github.com/tapestry-hq/tapestry/backend/pkg/common"
	"github.com/tapestry-hq/tapestry/backend/pkg/logger"
	"github.com/tapestry-hq/tapestry/backend/pkg/store"
)

// DetectRelationships runs a full detection pass over the workspace:
// scanning for co-occurring entity pairs, deterministic scoring, then AI
// labeling. The pass never returns an error; everything that goes wrong ends
// up in the summary's Errors.
func (c *GraphClient) DetectRelationships(ctx context.Context, workspaceID string) *DetectionSummary {
	summary := &DetectionSummary{Errors: []string{}}
	defer recoverIntoSummary(workspaceID, summary)

	logger.Info("Relationship detection started", "workspace", workspaceID, "state", "scanning")
	pairs, err := c.storage.FindCoOccurrences(ctx, workspaceID)
	if err != nil {
		summary.Errors = append(summary.Errors, fmt.Sprintf("Co-occurrence scan failed: %s", err.Error()))
		return summary
	}
	summary.CoOccurrencesFound = len(pairs)

	logger.Info("Relationship detection scoring", "workspace", workspaceID, "state", "scoring", "pairs", len(pairs))
	c.scoreCoOccurrences(ctx, workspaceID, pairs, summary)

	logger.Info("Relationship detection labeling", "workspace", workspaceID, "state", "ai_labeling")
	c.aiLabelRelationships(ctx, workspaceID, pairs, summary)

	logger.Info("Relationship detection done",
		"workspace", workspaceID,
		"pairs", summary.CoOccurrencesFound,
		"created", summary.RelationshipsCreated,
		"updated", summary.RelationshipsUpdated,
		"labeled", summary.AILabeled,
		"errors", len(summary.Errors),
	)
	return summary
}

// UpdateRelationshipsForEntity runs an incremental detection pass limited to
// pairs involving one entity, typically after new mentions for it arrived.
// Repeated for every touched entity, it converges to the same graph as a
// full pass over the same mentions.
func (c *GraphClient) UpdateRelationshipsForEntity(
	ctx context.Context,
	workspaceID string,
	entityID string,
) *DetectionSummary {
	summary := &DetectionSummary{Errors: []string{}}
	defer recoverIntoSummary(workspaceID, summary)

	logger.Info("Incremental detection started", "workspace", workspaceID, "entity", entityID, "state", "scanning")
	pairs, err := c.storage.FindCoOccurrencesForEntity(ctx, workspaceID, entityID)
	if err != nil {
		summary.Errors = append(summary.Errors, fmt.Sprintf("Co-occurrence scan failed: %s", err.Error()))
		return summary
	}
	summary.CoOccurrencesFound = len(pairs)

	c.scoreCoOccurrences(ctx, workspaceID, pairs, summary)
	c.aiLabelRelationships(ctx, workspaceID, pairs, summary)

	logger.Info("Incremental detection done",
		"workspace", workspaceID,
		"entity", entityID,
		"pairs", summary.CoOccurrencesFound,
		"created", summary.RelationshipsCreated,
		"updated", summary.RelationshipsUpdated,
		"labeled", summary.AILabeled,
		"errors", len(summary.Errors),
	)
	return summary
}

// scoreCoOccurrences creates or refreshes the deterministic co_occurrence
// relationship for every pair. Quota exhaustion stops further creation but is
// reported through the summary; detection passes degrade instead of failing.
func (c *GraphClient) scoreCoOccurrences(
	ctx context.Context,
	workspaceID string,
	pairs []store.CoOccurrence,
	summary *DetectionSummary,
) {
	for _, pair := range pairs {
		from, to := common.CanonicalPair(pair.EntityA, pair.EntityB)
		strength := BaseStrength(pair.SharedDocCount, c.cfg.CooccurrenceCap)
		evidence := c.gatherEvidence(ctx, workspaceID, from, to, pair.SharedDocIDs, c.cfg.MaxEvidenceDocs)

		existing, err := c.storage.GetRelationshipByPair(ctx, workspaceID, from, to, common.RelationshipTypeCoOccurrence)
		if err == nil {
			existing.Strength = strength
			existing.Evidence = evidence
			if err := c.storage.UpdateRelationship(ctx, existing); err != nil {
				summary.Errors = append(summary.Errors, fmt.Sprintf("Relationship %s -> %s: %s", from, to, err.Error()))
				continue
			}
			summary.RelationshipsUpdated++
			continue
		}
		if !errors.Is(err, store.ErrNotFound) {
			summary.Errors = append(summary.Errors, fmt.Sprintf("Relationship %s -> %s: %s", from, to, err.Error()))
			continue
		}

		relationship := &common.Relationship{
			WorkspaceID:  workspaceID,
			FromEntityID: from,
			ToEntityID:   to,
			Type:         common.RelationshipTypeCoOccurrence,
			Strength:     strength,
			Evidence:     evidence,
		}
		created, err := c.storage.CreateRelationship(ctx, relationship)
		if err != nil {
			var limitErr *store.RelationshipLimitError
			if errors.As(err, &limitErr) {
				summary.Errors = append(summary.Errors, limitErr.Error())
				return
			}
			summary.Errors = append(summary.Errors, fmt.Sprintf("Relationship %s -> %s: %s", from, to, err.Error()))
			continue
		}
		if created {
			summary.RelationshipsCreated++
		}
	}
}

func recoverIntoSummary(workspaceID string, summary *DetectionSummary) {
	if r := recover(); r != nil {
		logger.Error("Detection pass panicked", "workspace", workspaceID, "err", r)
		summary.Errors = append(summary.Errors, fmt.Sprintf("detection pass panicked: %v", r))
	}
}
