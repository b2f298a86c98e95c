package queue

import (
	"encoding/json"

	"github.com/rabbitmq/amqp091-go"

	"github.com/tapestry-hq/tapestry/backend/pkg/common"
	"github.com/tapestry-hq/tapestry/backend/pkg/logger"
)

// GraphNotifier publishes graph events to the pubsub exchange so other
// product surfaces can react to them. All publishes are best-effort; a
// failure is logged and dropped.
type GraphNotifier struct {
	ch *amqp091.Channel
}

func NewGraphNotifier(ch *amqp091.Channel) *GraphNotifier {
	return &GraphNotifier{ch: ch}
}

type entityReusedEvent struct {
	WorkspaceID string `json:"workspace_id"`
	EntityID    string `json:"entity_id"`
	Name        string `json:"name"`
	EntityType  string `json:"entity_type"`
}

type relationshipCreatedEvent struct {
	WorkspaceID      string  `json:"workspace_id"`
	RelationshipID   string  `json:"relationship_id"`
	FromEntityID     string  `json:"from_entity_id"`
	ToEntityID       string  `json:"to_entity_id"`
	RelationshipType string  `json:"relationship_type"`
	Strength         float64 `json:"strength"`
}

func (n *GraphNotifier) EntityReused(workspaceID string, entity *common.Entity) {
	n.publish("graph.entity.reused", entityReusedEvent{
		WorkspaceID: workspaceID,
		EntityID:    entity.ID,
		Name:        entity.Name,
		EntityType:  string(entity.Type),
	})
}

func (n *GraphNotifier) RelationshipCreated(workspaceID string, relationship *common.Relationship) {
	n.publish("graph.relationship.created", relationshipCreatedEvent{
		WorkspaceID:      workspaceID,
		RelationshipID:   relationship.ID,
		FromEntityID:     relationship.FromEntityID,
		ToEntityID:       relationship.ToEntityID,
		RelationshipType: string(relationship.Type),
		Strength:         relationship.Strength,
	})
}

func (n *GraphNotifier) publish(topic string, event any) {
	data, err := json.Marshal(event)
	if err != nil {
		logger.Warn("Failed to encode graph event", "topic", topic, "err", err)
		return
	}
	if err := PublishTopic(n.ch, topic, data); err != nil {
		logger.Warn("Failed to publish graph event", "topic", topic, "err", err)
	}
}
