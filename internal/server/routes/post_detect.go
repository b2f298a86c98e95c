package routes

import (
	"net/http"

	_ "github.com/go-playground/validator"
	"github.com/labstack/echo/v4"

	"github.com/tapestry-hq/tapestry/backend/internal/server/middleware"
	"github.com/tapestry-hq/tapestry/backend/pkg/graph"
)

// DetectRelationshipsHandler runs a detection pass synchronously: a full
// workspace pass, or an incremental pass when an entity id is given.
func DetectRelationshipsHandler(c echo.Context) error {
	type detectParams struct {
		WorkspaceID string `param:"id" validate:"required"`
	}

	type detectBody struct {
		EntityID string `json:"entity_id,omitempty"`
	}

	type detectResponse struct {
		Message string                  `json:"message"`
		Summary *graph.DetectionSummary `json:"summary,omitempty"`
	}

	params := new(detectParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, detectResponse{
			Message: "Invalid request params",
		})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, detectResponse{
			Message: "Invalid request params",
		})
	}

	data := new(detectBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, detectResponse{
			Message: "Invalid request body",
		})
	}

	app := c.(*middleware.AppContext).App
	ctx := c.Request().Context()

	var summary *graph.DetectionSummary
	if data.EntityID != "" {
		summary = app.Graph.UpdateRelationshipsForEntity(ctx, params.WorkspaceID, data.EntityID)
	} else {
		summary = app.Graph.DetectRelationships(ctx, params.WorkspaceID)
	}

	return c.JSON(http.StatusOK, detectResponse{
		Message: "Detection pass finished",
		Summary: summary,
	})
}
