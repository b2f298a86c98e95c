package routes

import (
	"errors"
	"net/http"

	_ "github.com/go-playground/validator"
	"github.com/labstack/echo/v4"

	"github.com/tapestry-hq/tapestry/backend/internal/queue"
	"github.com/tapestry-hq/tapestry/backend/internal/server/middleware"
	"github.com/tapestry-hq/tapestry/backend/pkg/graph"
	"github.com/tapestry-hq/tapestry/backend/pkg/logger"
	"github.com/tapestry-hq/tapestry/backend/pkg/store"
)

// IngestMemoriesHandler ingests an entity/relationship payload into the
// workspace graph and queues an incremental detection pass.
func IngestMemoriesHandler(c echo.Context) error {
	type ingestMemoriesParams struct {
		WorkspaceID string `param:"id" validate:"required"`
	}

	type ingestMemoriesResponse struct {
		Message          string             `json:"message"`
		Result           *graph.IngestResult `json:"result,omitempty"`
		ValidationErrors []graph.FieldError  `json:"validation_errors,omitempty"`
	}

	params := new(ingestMemoriesParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, ingestMemoriesResponse{
			Message: "Invalid request params",
		})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, ingestMemoriesResponse{
			Message: "Invalid request params",
		})
	}

	data := new(graph.IngestRequest)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, ingestMemoriesResponse{
			Message: "Invalid request body",
		})
	}

	app := c.(*middleware.AppContext).App
	ctx := c.Request().Context()

	result, err := app.Graph.IngestMemories(ctx, params.WorkspaceID, data)
	if err != nil {
		var verrs graph.ValidationErrors
		if errors.As(err, &verrs) {
			return c.JSON(http.StatusBadRequest, ingestMemoriesResponse{
				Message:          "Invalid ingestion payload",
				ValidationErrors: verrs,
			})
		}
		var limitErr *store.RelationshipLimitError
		if errors.As(err, &limitErr) {
			return c.JSON(http.StatusTooManyRequests, ingestMemoriesResponse{
				Message: limitErr.Error(),
			})
		}
		return c.JSON(http.StatusInternalServerError, ingestMemoriesResponse{
			Message: "Internal server error",
		})
	}

	for _, entityID := range result.TouchedEntityIDs {
		job := queue.DetectJob{WorkspaceID: params.WorkspaceID, EntityID: entityID}
		if err := queue.EnqueueDetect(app.Queue, job); err != nil {
			logger.Warn("Failed to enqueue detection job", "workspace", params.WorkspaceID, "entity", entityID, "err", err)
		}
	}

	return c.JSON(http.StatusOK, ingestMemoriesResponse{
		Message: "Memories ingested successfully",
		Result:  result,
	})
}
