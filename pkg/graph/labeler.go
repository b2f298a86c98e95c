package graph

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/tapestry-hq/tapestry/backend/internal/util"
	"github.com/tapestry-hq/tapestry/backend/pkg/ai"
	"github.com/tapestry-hq/tapestry/backend/pkg/common"
	"github.com/tapestry-hq/tapestry/backend/pkg/logger"
	"github.com/tapestry-hq/tapestry/backend/pkg/store"
)

// aiLabel is one parsed relationship classification from the model response.
type aiLabel struct {
	Type       common.RelationshipType
	Label      string
	Confidence float64
	Reason     string
}

// labelLineRe matches one response line: "N: TYPE - LABEL - CONFIDENCE -
// REASON". Models occasionally emit en- or em-dashes, so all three are
// accepted as separators.
var labelLineRe = regexp.MustCompile(`^\s*(\d+)\s*[:.]\s*([A-Za-z_]+)\s*[-–—]\s*(.+?)\s*[-–—]\s*(\d+(?:\.\d+)?)\s*[-–—]\s*(.+)$`)

// parseLabelResponse extracts per-pair labels from the model response, keyed
// by 1-based pair number. Lines that do not match the format, reference a
// pair outside [1, batchSize], or carry a confidence outside [0, 100] are
// dropped. An unrecognized type token coerces to custom.
func parseLabelResponse(response string, batchSize int) map[int]aiLabel {
	results := make(map[int]aiLabel)

	for _, line := range strings.Split(response, "\n") {
		m := labelLineRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}

		index, err := strconv.Atoi(m[1])
		if err != nil || index < 1 || index > batchSize {
			continue
		}
		confidence, err := strconv.ParseFloat(m[4], 64)
		if err != nil || confidence < 0 || confidence > 100 {
			continue
		}

		relationshipType, ok := common.ParseRelationshipType(strings.ToLower(m[2]))
		if !ok {
			relationshipType = common.RelationshipTypeCustom
		}

		results[index] = aiLabel{
			Type:       relationshipType,
			Label:      strings.TrimSpace(m[3]),
			Confidence: confidence,
			Reason:     strings.TrimSpace(m[5]),
		}
	}

	return results
}

// blendStrength combines the deterministic base strength with the model's
// confidence, weighting the model signal higher.
func blendStrength(base float64, confidence float64) float64 {
	return base*0.4 + (confidence/100)*0.6
}

// labelPair bundles a co-occurrence pair with the context the prompt needs.
type labelPair struct {
	pair     store.CoOccurrence
	from     *common.Entity
	to       *common.Entity
	evidence []common.Evidence
}

// aiLabelRelationships refines co-occurrence pairs through the model in
// fixed-size batches. A failing batch is skipped with its error collected;
// the deterministic relationships from the scoring stage stand regardless.
func (c *GraphClient) aiLabelRelationships(
	ctx context.Context,
	workspaceID string,
	pairs []store.CoOccurrence,
	summary *DetectionSummary,
) {
	if c.aiClient == nil {
		return
	}

	eligible := make([]store.CoOccurrence, 0, len(pairs))
	for _, pair := range pairs {
		if pair.SharedDocCount >= c.cfg.MinCooccurrenceDocsForAI {
			eligible = append(eligible, pair)
		}
	}
	if len(eligible) == 0 {
		return
	}

	entities := make(map[string]*common.Entity)

	for start := 0; start < len(eligible); start += c.cfg.MaxAIBatch {
		end := util.Min(start+c.cfg.MaxAIBatch, len(eligible))
		batch := c.buildLabelBatch(ctx, workspaceID, eligible[start:end], entities)
		if len(batch) == 0 {
			continue
		}

		response, err := c.composeLabels(ctx, batch)
		if err != nil {
			summary.Errors = append(summary.Errors, fmt.Sprintf("AI labeling batch failed: %s", err.Error()))
			logger.Warn("AI labeling batch failed", "workspace", workspaceID, "err", err)
			continue
		}

		labels := parseLabelResponse(ai.NormalizeResponseText(response), len(batch))
		for index, label := range labels {
			// Low-confidence co-occurrence answers carry no information the
			// deterministic pass does not already have.
			if label.Type == common.RelationshipTypeCoOccurrence && label.Confidence < 50 {
				continue
			}
			c.applyLabel(ctx, workspaceID, batch[index-1], label, summary)
		}
	}
}

// buildLabelBatch resolves the entities of each pair and gathers prompt
// evidence. Pairs whose entities disappeared mid-pass are dropped.
func (c *GraphClient) buildLabelBatch(
	ctx context.Context,
	workspaceID string,
	pairs []store.CoOccurrence,
	entities map[string]*common.Entity,
) []labelPair {
	batch := make([]labelPair, 0, len(pairs))
	for _, pair := range pairs {
		from, err := c.lookupEntity(ctx, workspaceID, pair.EntityA, entities)
		if err != nil {
			continue
		}
		to, err := c.lookupEntity(ctx, workspaceID, pair.EntityB, entities)
		if err != nil {
			continue
		}
		batch = append(batch, labelPair{
			pair:     pair,
			from:     from,
			to:       to,
			evidence: c.gatherEvidence(ctx, workspaceID, pair.EntityA, pair.EntityB, pair.SharedDocIDs, 3),
		})
	}
	return batch
}

func (c *GraphClient) lookupEntity(
	ctx context.Context,
	workspaceID string,
	entityID string,
	cache map[string]*common.Entity,
) (*common.Entity, error) {
	if entity, ok := cache[entityID]; ok {
		return entity, nil
	}
	entity, err := c.storage.GetEntityByID(ctx, workspaceID, entityID)
	if err != nil {
		return nil, err
	}
	cache[entityID] = entity
	return entity, nil
}

// composeLabels formats the batch prompt and runs the model call under the
// detector timeout, retrying transient failures.
func (c *GraphClient) composeLabels(ctx context.Context, batch []labelPair) (string, error) {
	var sb strings.Builder
	for i, item := range batch {
		fmt.Fprintf(&sb, "Pair %d:\n", i+1)
		fmt.Fprintf(&sb, "  A: %s (%s%s)\n", item.from.Name, item.from.Type, formatAliases(item.from.Aliases))
		fmt.Fprintf(&sb, "  B: %s (%s%s)\n", item.to.Name, item.to.Type, formatAliases(item.to.Aliases))
		fmt.Fprintf(&sb, "  Shared documents: %d\n", item.pair.SharedDocCount)
		for _, ev := range item.evidence {
			fmt.Fprintf(&sb, "  Evidence: %s\n", ev.Context)
		}
		sb.WriteString("\n")
	}

	pairsBlock := ai.TruncateToTokens(sb.String(), c.cfg.MaxPromptTokens)
	prompt := fmt.Sprintf(ai.RelationshipLabelPrompt, pairsBlock)

	return util.RetryWithContext(ctx, c.cfg.MaxRetries, func(ctx context.Context) (string, error) {
		return ai.WithTimeout(ctx, c.cfg.DetectorTimeout, "relationship labeling timed out",
			func(ctx context.Context) (string, error) {
				return c.aiClient.GenerateCompletion(ctx, prompt,
					ai.WithSystemPrompts(ai.RelationshipLabelSystemPrompt),
					ai.WithMaxTokens(c.cfg.ResponseMaxTokens),
				)
			},
		)
	})
}

func formatAliases(aliases []string) string {
	if len(aliases) == 0 {
		return ""
	}
	shown := aliases[:util.Min(len(aliases), 3)]
	return ", also known as " + strings.Join(shown, ", ")
}

// applyLabel writes one accepted classification: the relationship row for
// (pair, type) is updated when present, created otherwise. A specific typed
// relationship lives alongside the pair's co_occurrence row; the two are
// never merged.
func (c *GraphClient) applyLabel(
	ctx context.Context,
	workspaceID string,
	item labelPair,
	label aiLabel,
	summary *DetectionSummary,
) {
	base := BaseStrength(item.pair.SharedDocCount, c.cfg.CooccurrenceCap)
	strength := blendStrength(base, label.Confidence)
	from, to := common.CanonicalPair(item.pair.EntityA, item.pair.EntityB)

	existing, err := c.storage.GetRelationshipByPair(ctx, workspaceID, from, to, label.Type)
	if err == nil {
		existing.Label = label.Label
		existing.Strength = strength
		existing.Evidence = item.evidence
		if err := c.storage.UpdateRelationship(ctx, existing); err != nil {
			summary.Errors = append(summary.Errors, fmt.Sprintf("Relationship %s -> %s: %s", from, to, err.Error()))
			return
		}
		summary.RelationshipsUpdated++
		summary.AILabeled++
		return
	}
	if !errors.Is(err, store.ErrNotFound) {
		summary.Errors = append(summary.Errors, fmt.Sprintf("Relationship %s -> %s: %s", from, to, err.Error()))
		return
	}

	relationship := &common.Relationship{
		WorkspaceID:  workspaceID,
		FromEntityID: from,
		ToEntityID:   to,
		Type:         label.Type,
		Label:        label.Label,
		Strength:     strength,
		Evidence:     item.evidence,
	}
	created, err := c.storage.CreateRelationship(ctx, relationship)
	if err != nil {
		summary.Errors = append(summary.Errors, fmt.Sprintf("Relationship %s -> %s: %s", from, to, err.Error()))
		return
	}
	if created {
		summary.RelationshipsCreated++
		summary.AILabeled++
	}
}
