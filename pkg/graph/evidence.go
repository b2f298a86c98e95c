package graph

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/tapestry-hq/tapestry/backend/internal/util"
	"github.com/tapestry-hq/tapestry/backend/pkg/common"
)

const evidenceFallback = "Context unavailable"

// snippetsPerEntity caps how many mention contexts one entity contributes to
// a single document's evidence entry.
const snippetsPerEntity = 2

// BaseStrength maps a shared-document count onto the deterministic [0.1, 1.0]
// strength scale: one shared document scores 0.1 and the score rises linearly
// until it saturates at 1.0 for saturation or more documents.
func BaseStrength(sharedDocCount int, saturation int) float64 {
	if sharedDocCount < 1 {
		return 0
	}
	if saturation < 2 {
		return 1.0
	}
	strength := 0.1 + float64(sharedDocCount-1)*(0.9/float64(saturation-1))
	if strength > 1.0 {
		return 1.0
	}
	return strength
}

// gatherEvidence builds one evidence entry per shared document, up to
// maxDocs, from both entities' mention contexts in that document. A document
// whose contexts cannot be read still yields an entry with a placeholder so
// the relationship keeps a record of the shared document.
func (c *GraphClient) gatherEvidence(
	ctx context.Context,
	workspaceID string,
	entityA string,
	entityB string,
	sharedDocIDs []string,
	maxDocs int,
) []common.Evidence {
	docs := sharedDocIDs[:util.Min(len(sharedDocIDs), maxDocs)]
	evidence := make([]common.Evidence, len(docs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	for i, docID := range docs {
		g.Go(func() error {
			snippets := make([]string, 0, snippetsPerEntity*2)
			for _, entityID := range []string{entityA, entityB} {
				contexts, err := c.storage.MentionContexts(gctx, workspaceID, entityID, docID, snippetsPerEntity)
				if err != nil {
					snippets = nil
					break
				}
				snippets = append(snippets, contexts...)
			}

			entry := common.Evidence{DocID: docID, Context: evidenceFallback}
			if len(snippets) > 0 {
				entry.Context = strings.Join(snippets, " | ")
			}
			evidence[i] = entry
			return nil
		})
	}

	// Workers only ever return nil; a per-document failure degrades to the
	// placeholder instead of aborting the gather.
	_ = g.Wait()

	return evidence
}
