package routes

import (
	"errors"
	"net/http"

	_ "github.com/go-playground/validator"
	"github.com/labstack/echo/v4"

	"github.com/tapestry-hq/tapestry/backend/internal/server/middleware"
	"github.com/tapestry-hq/tapestry/backend/pkg/common"
	"github.com/tapestry-hq/tapestry/backend/pkg/store"
)

// GetEntityRelationshipsHandler returns the entity's neighborhood, strongest
// relationships first.
func GetEntityRelationshipsHandler(c echo.Context) error {
	type getRelationshipsParams struct {
		WorkspaceID string `param:"id" validate:"required"`
		EntityID    string `param:"entity_id" validate:"required"`
		Limit       int    `query:"limit"`
	}

	type getRelationshipsResponse struct {
		Message       string                 `json:"message"`
		Relationships []*common.Relationship `json:"relationships,omitempty"`
	}

	params := new(getRelationshipsParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, getRelationshipsResponse{
			Message: "Invalid request params",
		})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, getRelationshipsResponse{
			Message: "Invalid request params",
		})
	}
	if params.Limit <= 0 || params.Limit > 200 {
		params.Limit = 50
	}

	app := c.(*middleware.AppContext).App
	ctx := c.Request().Context()

	relationships, err := app.Graph.Neighborhood(ctx, params.WorkspaceID, params.EntityID, params.Limit)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.JSON(http.StatusNotFound, getRelationshipsResponse{
				Message: "Entity not found",
			})
		}
		return c.JSON(http.StatusInternalServerError, getRelationshipsResponse{
			Message: "Internal server error",
		})
	}

	return c.JSON(http.StatusOK, getRelationshipsResponse{
		Message:       "Relationships fetched successfully",
		Relationships: relationships,
	})
}
