package event

import (
	"time"

	"github.com/google/uuid"
)

// New builds a pending event row from a producer request. RunAt left
// nil means "due immediately".
func New(req CreateRequest) Event {
	now := time.Now().UTC()

	return Event{
		ID:         uuid.NewString(),
		Type:       req.Type,
		Payload:    req.Payload,
		Source:     req.Source,
		Status:     StatusPending,
		RetryCount: 0,
		RunAt:      req.RunAt,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}
