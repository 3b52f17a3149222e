package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	webpush "github.com/SherClockHolmes/webpush-go"
)

// Subscription is a browser push subscription.
type Subscription struct {
	Endpoint string
	P256dh   string
	Auth     string
}

// SubscriptionStore lists and prunes push subscriptions.
type SubscriptionStore interface {
	ListSubscriptions(ctx context.Context) ([]Subscription, error)
	DeleteSubscription(ctx context.Context, endpoint string) error
}

// WebPushNotifier sends a VAPID-signed web push to every stored subscription.
// Subscriptions the push service reports as gone (404/410) are deleted.
type WebPushNotifier struct {
	Store           SubscriptionStore
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	Subject         string
	TTL             int
	HTTPClient      webpush.HTTPClient
	Logger          *slog.Logger
}

// pushPayload is what the staff service worker renders: data.title and
// data.message.
type pushPayload struct {
	Title   string `json:"title"`
	Message string `json:"message"`
}

func encodePush(msg Message) ([]byte, error) {
	return json.Marshal(pushPayload{Title: msg.Title, Message: msg.Body})
}

func (n *WebPushNotifier) Notify(ctx context.Context, msg Message) error {
	if n == nil || n.Store == nil {
		return nil
	}
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}

	subs, err := n.Store.ListSubscriptions(ctx)
	if err != nil {
		return fmt.Errorf("list push subscriptions: %w", err)
	}
	if len(subs) == 0 {
		return nil
	}
	payload, err := encodePush(msg)
	if err != nil {
		return err
	}

	ttl := n.TTL
	if ttl <= 0 {
		ttl = 60
	}
	var errs []error
	for _, sub := range subs {
		resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys:     webpush.Keys{Auth: sub.Auth, P256dh: sub.P256dh},
		}, &webpush.Options{
			HTTPClient:      n.HTTPClient,
			Subscriber:      n.Subject,
			VAPIDPublicKey:  n.VAPIDPublicKey,
			VAPIDPrivateKey: n.VAPIDPrivateKey,
			TTL:             ttl,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("push %s: %w", sub.Endpoint, err))
			continue
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
			logger.Info("push subscription expired, removing", "endpoint", sub.Endpoint, "status", resp.StatusCode)
			if err := n.Store.DeleteSubscription(ctx, sub.Endpoint); err != nil {
				errs = append(errs, fmt.Errorf("delete subscription %s: %w", sub.Endpoint, err))
			}
		case resp.StatusCode >= 400:
			errs = append(errs, fmt.Errorf("push %s: status %d", sub.Endpoint, resp.StatusCode))
		}
	}
	return errors.Join(errs...)
}
