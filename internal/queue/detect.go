package queue

import (
	"encoding/json"

	"github.com/rabbitmq/amqp091-go"
)

// DetectJob asks the worker to run an incremental detection pass for one
// entity, or a full workspace pass when EntityID is empty.
type DetectJob struct {
	WorkspaceID string `json:"workspace_id"`
	EntityID    string `json:"entity_id,omitempty"`
}

// EnqueueDetect puts a detection job on the detect queue.
func EnqueueDetect(ch *amqp091.Channel, job DetectJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return PublishFIFO(ch, DetectQueue, data)
}
