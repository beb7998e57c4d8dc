// Package handlers holds application-level event routes registered
// against internal/router, mirroring the teacher's pattern of keeping
// business logic out of the dispatch mechanism itself.
package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/U1traVeno/pgebus/internal/domain/event"
	"github.com/U1traVeno/pgebus/internal/notifications"
	"github.com/U1traVeno/pgebus/internal/repo/postgres"
)

// registrationConfirmedPayload is the expected shape of a
// "registration.confirmed" event's JSON payload.
type registrationConfirmedPayload struct {
	Email          string `json:"email"`
	Name           string `json:"name"`
	EventID        string `json:"event_id"`
	RegistrationID string `json:"registration_id"`
}

// RegistrationConfirmation builds a router.HandlerFunc that sends a
// registration confirmation through notifier for every
// "registration.confirmed" event. A malformed payload or a notifier
// failure both surface as an error so the worker's retry/backoff
// policy applies.
func RegistrationConfirmation(notifier notifications.Notifier) func(ctx context.Context, sess postgres.Session, e event.Event) error {
	return func(ctx context.Context, sess postgres.Session, e event.Event) error {
		var p registrationConfirmedPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return fmt.Errorf("registration_confirmation: decode payload: %w", err)
		}

		return notifier.SendRegistrationConfirmation(ctx, notifications.SendRegistrationConfirmationInput{
			Email:          p.Email,
			Name:           p.Name,
			EventID:        p.EventID,
			RegistrationID: p.RegistrationID,
		})
	}
}
