// Package push dispatches notifications to partner devices. Dispatch is
// fire-and-forget: failures are logged, never retried, and never block the
// caller.
package push

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"
)

const dispatchTimeout = 5 * time.Second

// Notifier sends a notification to a device token.
type Notifier interface {
	Send(ctx context.Context, deviceToken, title, body string, data map[string]string)
}

// APNs sends notifications through Apple's push service using token-based
// authentication.
type APNs struct {
	client *apns2.Client
	topic  string
}

// NewAPNs creates an APNs notifier from a .p8 signing key.
func NewAPNs(keyPath, keyID, teamID, topic string, production bool) (*APNs, error) {
	authKey, err := token.AuthKeyFromFile(keyPath)
	if err != nil {
		return nil, err
	}
	client := apns2.NewTokenClient(&token.Token{
		AuthKey: authKey,
		KeyID:   keyID,
		TeamID:  teamID,
	})
	if production {
		client = client.Production()
	} else {
		client = client.Development()
	}
	return &APNs{client: client, topic: topic}, nil
}

// Send dispatches one notification. Errors are absorbed here; the caller
// has already moved on.
func (a *APNs) Send(ctx context.Context, deviceToken, title, body string, data map[string]string) {
	pl := payload.NewPayload().AlertTitle(title).AlertBody(body).Sound("default")
	for k, v := range data {
		pl.Custom(k, v)
	}

	notification := &apns2.Notification{
		DeviceToken: deviceToken,
		Topic:       a.topic,
		Payload:     pl,
		Priority:    apns2.PriorityHigh,
	}

	ctx, cancel := context.WithTimeout(ctx, dispatchTimeout)
	defer cancel()

	res, err := a.client.PushWithContext(ctx, notification)
	if err != nil {
		log.Warn().Err(err).Msg("Push dispatch failed")
		return
	}
	if !res.Sent() {
		log.Warn().
			Int("status", res.StatusCode).
			Str("reason", res.Reason).
			Msg("Push rejected")
	}
}

// Noop is a Notifier that drops everything; used when push is not
// configured.
type Noop struct{}

// Send does nothing.
func (Noop) Send(context.Context, string, string, string, map[string]string) {}
