package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tapestry-hq/tapestry/backend/pkg/graph"
	"github.com/tapestry-hq/tapestry/backend/pkg/logger"
)

// ProcessDetectMessage handles one detection job from the detect queue. A
// degraded pass (summary errors) is logged but acked; only an unreadable
// message is reported back for retry handling.
func ProcessDetectMessage(ctx context.Context, graphClient *graph.GraphClient, body string) error {
	var job DetectJob
	if err := json.Unmarshal([]byte(body), &job); err != nil {
		return fmt.Errorf("failed to decode detect job: %w", err)
	}
	if job.WorkspaceID == "" {
		return fmt.Errorf("detect job is missing a workspace id")
	}

	var summary *graph.DetectionSummary
	if job.EntityID != "" {
		summary = graphClient.UpdateRelationshipsForEntity(ctx, job.WorkspaceID, job.EntityID)
	} else {
		summary = graphClient.DetectRelationships(ctx, job.WorkspaceID)
	}

	if len(summary.Errors) > 0 {
		logger.Warn("Detection job finished with errors",
			"workspace", job.WorkspaceID,
			"entity", job.EntityID,
			"errors", summary.Errors,
		)
	}

	return nil
}
