package routes

import (
	"errors"
	"net/http"

	_ "github.com/go-playground/validator"
	"github.com/labstack/echo/v4"

	"github.com/tapestry-hq/tapestry/backend/internal/server/middleware"
	"github.com/tapestry-hq/tapestry/backend/pkg/store"
)

// EditEntityHandler updates the alias list and/or metadata of one entity.
func EditEntityHandler(c echo.Context) error {
	type editEntityParams struct {
		WorkspaceID string `param:"id" validate:"required"`
		EntityID    string `param:"entity_id" validate:"required"`
	}

	type editEntityBody struct {
		Aliases  []string       `json:"aliases,omitempty"`
		Metadata map[string]any `json:"metadata,omitempty"`
	}

	type editEntityResponse struct {
		Message string `json:"message"`
	}

	params := new(editEntityParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, editEntityResponse{
			Message: "Invalid request params",
		})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, editEntityResponse{
			Message: "Invalid request params",
		})
	}

	data := new(editEntityBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, editEntityResponse{
			Message: "Invalid request body",
		})
	}
	if data.Aliases == nil && data.Metadata == nil {
		return c.JSON(http.StatusBadRequest, editEntityResponse{
			Message: "Nothing to update",
		})
	}

	app := c.(*middleware.AppContext).App
	ctx := c.Request().Context()

	if data.Aliases != nil {
		if err := app.Storage.UpdateEntityAliases(ctx, params.WorkspaceID, params.EntityID, data.Aliases); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return c.JSON(http.StatusNotFound, editEntityResponse{
					Message: "Entity not found",
				})
			}
			return c.JSON(http.StatusInternalServerError, editEntityResponse{
				Message: "Internal server error",
			})
		}
	}
	if data.Metadata != nil {
		if err := app.Storage.UpdateEntityMetadata(ctx, params.WorkspaceID, params.EntityID, data.Metadata); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return c.JSON(http.StatusNotFound, editEntityResponse{
					Message: "Entity not found",
				})
			}
			return c.JSON(http.StatusInternalServerError, editEntityResponse{
				Message: "Internal server error",
			})
		}
	}

	return c.JSON(http.StatusOK, editEntityResponse{
		Message: "Entity updated successfully",
	})
}

// DeleteEntityHandler deletes an entity; its mentions and relationships
// cascade away with it.
func DeleteEntityHandler(c echo.Context) error {
	type deleteEntityParams struct {
		WorkspaceID string `param:"id" validate:"required"`
		EntityID    string `param:"entity_id" validate:"required"`
	}

	type deleteEntityResponse struct {
		Message string `json:"message"`
	}

	params := new(deleteEntityParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, deleteEntityResponse{
			Message: "Invalid request params",
		})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, deleteEntityResponse{
			Message: "Invalid request params",
		})
	}

	app := c.(*middleware.AppContext).App
	ctx := c.Request().Context()

	if err := app.Storage.DeleteEntity(ctx, params.WorkspaceID, params.EntityID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.JSON(http.StatusNotFound, deleteEntityResponse{
				Message: "Entity not found",
			})
		}
		return c.JSON(http.StatusInternalServerError, deleteEntityResponse{
			Message: "Internal server error",
		})
	}

	return c.JSON(http.StatusOK, deleteEntityResponse{
		Message: "Entity deleted successfully",
	})
}

// MergeEntitiesHandler folds duplicate entities into a surviving one.
func MergeEntitiesHandler(c echo.Context) error {
	type mergeEntitiesParams struct {
		WorkspaceID string `param:"id" validate:"required"`
	}

	type mergeEntitiesBody struct {
		SurvivorID  string   `json:"survivor_id" validate:"required"`
		AbsorbedIDs []string `json:"absorbed_ids" validate:"required,min=1"`
	}

	type mergeEntitiesResponse struct {
		Message string `json:"message"`
	}

	params := new(mergeEntitiesParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, mergeEntitiesResponse{
			Message: "Invalid request params",
		})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, mergeEntitiesResponse{
			Message: "Invalid request params",
		})
	}

	data := new(mergeEntitiesBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, mergeEntitiesResponse{
			Message: "Invalid request body",
		})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, mergeEntitiesResponse{
			Message: "Invalid request body",
		})
	}
	for _, id := range data.AbsorbedIDs {
		if id == data.SurvivorID {
			return c.JSON(http.StatusBadRequest, mergeEntitiesResponse{
				Message: "Survivor cannot be absorbed into itself",
			})
		}
	}

	app := c.(*middleware.AppContext).App
	ctx := c.Request().Context()

	if err := app.Storage.MergeEntities(ctx, params.WorkspaceID, data.SurvivorID, data.AbsorbedIDs); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.JSON(http.StatusNotFound, mergeEntitiesResponse{
				Message: "Entity not found",
			})
		}
		return c.JSON(http.StatusInternalServerError, mergeEntitiesResponse{
			Message: "Internal server error",
		})
	}

	return c.JSON(http.StatusOK, mergeEntitiesResponse{
		Message: "Entities merged successfully",
	})
}

// DeleteDocMentionsHandler removes every mention a deleted document left
// behind.
func DeleteDocMentionsHandler(c echo.Context) error {
	type deleteDocMentionsParams struct {
		WorkspaceID string `param:"id" validate:"required"`
		DocID       string `param:"doc_id" validate:"required"`
	}

	type deleteDocMentionsResponse struct {
		Message string `json:"message"`
		Removed int64  `json:"removed"`
	}

	params := new(deleteDocMentionsParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, deleteDocMentionsResponse{
			Message: "Invalid request params",
		})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, deleteDocMentionsResponse{
			Message: "Invalid request params",
		})
	}

	app := c.(*middleware.AppContext).App
	ctx := c.Request().Context()

	removed, err := app.Storage.DeleteMentionsByDoc(ctx, params.WorkspaceID, params.DocID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, deleteDocMentionsResponse{
			Message: "Internal server error",
		})
	}

	return c.JSON(http.StatusOK, deleteDocMentionsResponse{
		Message: "Mentions deleted successfully",
		Removed: removed,
	})
}
