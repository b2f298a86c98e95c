package server

import (
	"github.com/labstack/echo/v4"

	"github.com/tapestry-hq/tapestry/backend/internal/server/middleware"
	"github.com/tapestry-hq/tapestry/backend/internal/server/routes"
)

func RegisterRoutes(e *echo.Echo) {
	// Health check route
	e.GET("/health", func(c echo.Context) error {
		return c.String(200, "OK")
	})

	apiRoutes := e.Group("/api", middleware.AuthMiddleware)

	// Ingestion and detection routes
	apiRoutes.POST("/workspaces/:id/memories", routes.IngestMemoriesHandler)
	apiRoutes.POST("/workspaces/:id/graph/detect", routes.DetectRelationshipsHandler)

	// Entity routes
	apiRoutes.GET("/workspaces/:id/entities/:entity_id/relationships", routes.GetEntityRelationshipsHandler)
	apiRoutes.PATCH("/workspaces/:id/entities/:entity_id", routes.EditEntityHandler)
	apiRoutes.DELETE("/workspaces/:id/entities/:entity_id", routes.DeleteEntityHandler)
	apiRoutes.POST("/workspaces/:id/entities/merge", routes.MergeEntitiesHandler)

	// Document cleanup routes
	apiRoutes.DELETE("/workspaces/:id/docs/:doc_id/mentions", routes.DeleteDocMentionsHandler)
}
