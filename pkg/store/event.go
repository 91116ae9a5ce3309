package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NewEvent builds an envelope with a fresh event id around payload.
func NewEvent(eventType EventType, service, key string, payload any) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	id := uuid.NewString()
	return &Event{
		EventID:       EventID(id),
		EventType:     eventType,
		SchemaVersion: SchemaVersion,
		TsEvent:       time.Now().UTC(),
		Source: EventSource{
			Service:  service,
			WriterID: "linkd",
		},
		Key: key,
		Correlation: EventCorrelation{
			CorrelationID: id,
		},
		Payload: data,
	}, nil
}
