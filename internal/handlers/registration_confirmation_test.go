package handlers

import (
	"context"
	"errors"
	"testing"

	"github.com/U1traVeno/pgebus/internal/domain/event"
	"github.com/U1traVeno/pgebus/internal/notifications"
)

type fakeNotifier struct {
	in  notifications.SendRegistrationConfirmationInput
	err error
}

func (f *fakeNotifier) SendRegistrationConfirmation(ctx context.Context, in notifications.SendRegistrationConfirmationInput) error {
	f.in = in
	return f.err
}

func TestRegistrationConfirmationDispatchesNotification(t *testing.T) {
	n := &fakeNotifier{}
	h := RegistrationConfirmation(n)

	e := event.New(event.CreateRequest{
		Type:    "registration.confirmed",
		Source:  event.SourceInternal,
		Payload: []byte(`{"email":"a@b.com","name":"Ada","event_id":"e1","registration_id":"r1"}`),
	})

	if err := h(context.Background(), nil, e); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if n.in.Email != "a@b.com" || n.in.RegistrationID != "r1" {
		t.Fatalf("unexpected notifier input: %+v", n.in)
	}
}

func TestRegistrationConfirmationRejectsMalformedPayload(t *testing.T) {
	h := RegistrationConfirmation(&fakeNotifier{})

	e := event.New(event.CreateRequest{
		Type:    "registration.confirmed",
		Source:  event.SourceInternal,
		Payload: []byte(`not json`),
	})

	if err := h(context.Background(), nil, e); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestRegistrationConfirmationPropagatesNotifierError(t *testing.T) {
	n := &fakeNotifier{err: errors.New("provider down")}
	h := RegistrationConfirmation(n)

	e := event.New(event.CreateRequest{
		Type:    "registration.confirmed",
		Source:  event.SourceInternal,
		Payload: []byte(`{"email":"a@b.com"}`),
	})

	if err := h(context.Background(), nil, e); err == nil {
		t.Fatal("expected notifier error to propagate")
	}
}
