package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tapestry-hq/tapestry/backend/pkg/common"
	"github.com/tapestry-hq/tapestry/backend/pkg/logger"
	"github.com/tapestry-hq/tapestry/backend/pkg/store"
)

// IngestEntity is one entity sighting inside an ingestion payload.
type IngestEntity struct {
	Name       string         `json:"name"`
	EntityType string         `json:"entity_type"`
	Context    string         `json:"context,omitempty"`
	Confidence *float64       `json:"confidence,omitempty"`
	FieldPath  string         `json:"field_path,omitempty"`
	SourceRef  string         `json:"source_ref,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// IngestRelationship is one caller-asserted relationship between two entities
// named in the same payload or already known to the workspace.
type IngestRelationship struct {
	FromName         string `json:"from_name"`
	FromType         string `json:"from_type"`
	ToName           string `json:"to_name"`
	ToType           string `json:"to_type"`
	RelationshipType string `json:"relationship_type"`
	Label            string `json:"label,omitempty"`
	Evidence         string `json:"evidence,omitempty"`
}

// IngestRequest is the full ingestion payload for one document or product
// surface. DocID is required when ProductSource is "docs".
type IngestRequest struct {
	ProductSource string               `json:"product_source"`
	DocID         string               `json:"doc_id,omitempty"`
	Source        string               `json:"source,omitempty"`
	Entities      []IngestEntity       `json:"entities"`
	Relationships []IngestRelationship `json:"relationships,omitempty"`
}

// FieldError is one structured validation failure.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is the full set of validation failures for a payload. It
// is returned before any mutation occurs.
type ValidationErrors []FieldError

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, fe := range e {
		msgs[i] = fmt.Sprintf("%s: %s", fe.Field, fe.Message)
	}
	return "invalid ingestion payload: " + strings.Join(msgs, "; ")
}

// ValidateIngest checks the payload shape and enum values. It never mutates
// anything; an empty result means the payload is safe to process.
func (c *GraphClient) ValidateIngest(req *IngestRequest) ValidationErrors {
	var errs ValidationErrors

	productSource, ok := common.ParseProductSource(req.ProductSource)
	if req.ProductSource == "" {
		errs = append(errs, FieldError{Field: "product_source", Message: "Product source is required"})
	} else if !ok {
		errs = append(errs, FieldError{Field: "product_source", Message: fmt.Sprintf("Unknown product source %q", req.ProductSource)})
	}
	if productSource == common.ProductSourceDocs && req.DocID == "" {
		errs = append(errs, FieldError{Field: "doc_id", Message: "Document id is required for the docs product source"})
	}
	if req.Source != "" {
		if _, ok := common.ParseMentionSource(req.Source); !ok {
			errs = append(errs, FieldError{Field: "source", Message: fmt.Sprintf("Unknown mention source %q", req.Source)})
		}
	}

	if len(req.Entities) == 0 {
		errs = append(errs, FieldError{Field: "entities", Message: "At least one entity is required"})
	}
	if len(req.Entities) > c.cfg.MaxEntitiesPerIngest {
		errs = append(errs, FieldError{
			Field:   "entities",
			Message: fmt.Sprintf("Maximum %d entities allowed per ingestion", c.cfg.MaxEntitiesPerIngest),
		})
	}

	for i, entity := range req.Entities {
		if _, ok := common.ParseEntityType(entity.EntityType); !ok {
			errs = append(errs, FieldError{
				Field:   fmt.Sprintf("entities[%d].entity_type", i),
				Message: fmt.Sprintf("Unknown entity type %q", entity.EntityType),
			})
		}
		if entity.Confidence != nil && (*entity.Confidence < 0 || *entity.Confidence > 1) {
			errs = append(errs, FieldError{
				Field:   fmt.Sprintf("entities[%d].confidence", i),
				Message: "Confidence must be between 0 and 1",
			})
		}
	}

	for i, rel := range req.Relationships {
		if strings.TrimSpace(rel.FromName) == "" || strings.TrimSpace(rel.ToName) == "" {
			errs = append(errs, FieldError{
				Field:   fmt.Sprintf("relationships[%d]", i),
				Message: "Both endpoint names are required",
			})
		}
		if _, ok := common.ParseEntityType(rel.FromType); !ok {
			errs = append(errs, FieldError{
				Field:   fmt.Sprintf("relationships[%d].from_type", i),
				Message: fmt.Sprintf("Unknown entity type %q", rel.FromType),
			})
		}
		if _, ok := common.ParseEntityType(rel.ToType); !ok {
			errs = append(errs, FieldError{
				Field:   fmt.Sprintf("relationships[%d].to_type", i),
				Message: fmt.Sprintf("Unknown entity type %q", rel.ToType),
			})
		}
		if _, ok := common.ParseRelationshipType(rel.RelationshipType); !ok {
			errs = append(errs, FieldError{
				Field:   fmt.Sprintf("relationships[%d].relationship_type", i),
				Message: fmt.Sprintf("Unknown relationship type %q", rel.RelationshipType),
			})
		}
	}

	return errs
}

// IngestMemories processes one ingestion payload: entities are deduplicated
// against the workspace, mentions are recorded, and caller-asserted
// relationships are linked up. Processing is best-effort; a failing item is
// appended to the result's Errors and the batch continues. The only errors
// returned are validation failures (before any write) and the workspace
// relationship quota.
func (c *GraphClient) IngestMemories(
	ctx context.Context,
	workspaceID string,
	req *IngestRequest,
) (*IngestResult, error) {
	if errs := c.ValidateIngest(req); len(errs) > 0 {
		return nil, errs
	}

	result := &IngestResult{Errors: []string{}}
	productSource, _ := common.ParseProductSource(req.ProductSource)
	source := common.MentionSourceExtraction
	if req.Source != "" {
		source, _ = common.ParseMentionSource(req.Source)
	}

	// Entities already resolved in this call, keyed normalizedName::type.
	cache := make(map[string]string, len(req.Entities))
	var reused []*common.Entity
	var createdRelationships []*common.Relationship

	for _, item := range req.Entities {
		normalized := NormalizeName(item.Name)
		if normalized == "" {
			result.Errors = append(result.Errors, fmt.Sprintf("Entity '%s': name is empty after normalization", item.Name))
			continue
		}
		entityType, _ := common.ParseEntityType(item.EntityType)
		key := normalized + "::" + item.EntityType

		entityID, seen := cache[key]
		if !seen {
			entity := &common.Entity{
				WorkspaceID:    workspaceID,
				Type:           entityType,
				Name:           strings.TrimSpace(item.Name),
				NormalizedName: normalized,
				Metadata:       item.Metadata,
			}
			created, err := c.storage.GetOrCreateEntity(ctx, entity)
			if err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("Entity '%s': %s", item.Name, err.Error()))
				continue
			}
			if created {
				result.EntitiesCreated++
			} else {
				result.EntitiesReused++
				reused = append(reused, entity)
			}
			cache[key] = entity.ID
			entityID = entity.ID
			result.TouchedEntityIDs = append(result.TouchedEntityIDs, entity.ID)
		} else {
			result.EntitiesReused++
		}

		confidence := 1.0
		if item.Confidence != nil {
			confidence = *item.Confidence
		}
		mention := &common.Mention{
			WorkspaceID:   workspaceID,
			EntityID:      entityID,
			DocID:         req.DocID,
			Context:       item.Context,
			FieldPath:     item.FieldPath,
			Confidence:    confidence,
			Source:        source,
			ProductSource: productSource,
			SourceRef:     item.SourceRef,
		}
		created, err := c.storage.InsertMention(ctx, mention)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("Entity '%s': %s", item.Name, err.Error()))
			continue
		}
		if created {
			result.MentionsCreated++
		}
	}

	for _, rel := range req.Relationships {
		fromID, ok := c.resolveEntityID(ctx, workspaceID, cache, rel.FromName, rel.FromType)
		if !ok {
			result.Errors = append(result.Errors, fmt.Sprintf("Relationship '%s' -> '%s': entity '%s' not found", rel.FromName, rel.ToName, rel.FromName))
			continue
		}
		toID, ok := c.resolveEntityID(ctx, workspaceID, cache, rel.ToName, rel.ToType)
		if !ok {
			result.Errors = append(result.Errors, fmt.Sprintf("Relationship '%s' -> '%s': entity '%s' not found", rel.FromName, rel.ToName, rel.ToName))
			continue
		}

		relationshipType, _ := common.ParseRelationshipType(rel.RelationshipType)
		from, to := common.CanonicalPair(fromID, toID)
		evidence := []common.Evidence{}
		if rel.Evidence != "" {
			evidence = append(evidence, common.Evidence{DocID: req.DocID, Context: rel.Evidence})
		}

		relationship := &common.Relationship{
			WorkspaceID:  workspaceID,
			FromEntityID: from,
			ToEntityID:   to,
			Type:         relationshipType,
			Label:        rel.Label,
			Strength:     0.5,
			Evidence:     evidence,
		}
		created, err := c.storage.CreateRelationship(ctx, relationship)
		if err != nil {
			var limitErr *store.RelationshipLimitError
			if errors.As(err, &limitErr) {
				return nil, limitErr
			}
			result.Errors = append(result.Errors, fmt.Sprintf("Relationship '%s' -> '%s': %s", rel.FromName, rel.ToName, err.Error()))
			continue
		}
		if created {
			result.RelationshipsCreated++
			createdRelationships = append(createdRelationships, relationship)
		}
	}

	if c.notifier != nil && (len(reused) > 0 || len(createdRelationships) > 0) {
		go c.dispatchNotifications(workspaceID, reused, createdRelationships)
	}

	logger.Info("Ingestion finished",
		"workspace", workspaceID,
		"created", result.EntitiesCreated,
		"reused", result.EntitiesReused,
		"mentions", result.MentionsCreated,
		"relationships", result.RelationshipsCreated,
		"errors", len(result.Errors),
	)

	return result, nil
}

// resolveEntityID maps a relationship endpoint to an entity id, preferring
// entities seen in this call over a store lookup. Endpoints are never
// auto-created.
func (c *GraphClient) resolveEntityID(
	ctx context.Context,
	workspaceID string,
	cache map[string]string,
	name string,
	entityType string,
) (string, bool) {
	normalized := NormalizeName(name)
	if normalized == "" {
		return "", false
	}
	if id, ok := cache[normalized+"::"+entityType]; ok {
		return id, true
	}

	parsedType, _ := common.ParseEntityType(entityType)
	entity, err := c.storage.GetEntityByKey(ctx, workspaceID, normalized, parsedType)
	if err != nil {
		return "", false
	}
	cache[normalized+"::"+entityType] = entity.ID
	return entity.ID, true
}

func (c *GraphClient) dispatchNotifications(
	workspaceID string,
	reused []*common.Entity,
	created []*common.Relationship,
) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Notification dispatch panicked", "workspace", workspaceID, "err", r)
		}
	}()

	for _, entity := range reused {
		c.notifier.EntityReused(workspaceID, entity)
	}
	for _, relationship := range created {
		c.notifier.RelationshipCreated(workspaceID, relationship)
	}
}
