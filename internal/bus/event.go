package bus

import (
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/orchestra/pkg/models"
)

// Event is the unit of information passed across the event bus and the
// command bus. It is the same wire shape regardless of which bus carries
// it, matching the single Event type the rest of the orchestrator (tasks,
// gateways) already constructs and inspects.
type Event = models.Event

// NewEvent constructs an Event stamped with a fresh id and the current time.
// eventType identifies the topic (e.g. models.EventTaskCreated,
// "user_message"); payload carries type-specific data and is left as a loose
// map rather than a closed struct so new producers never need a schema
// change here to add a field.
func NewEvent(eventType models.EventType, payload map[string]any) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Payload:   payload,
		Timestamp: time.Now(),
	}
}
