package mercadopago

import (
	"encoding/json"
	"errors"
)

// Event types the engine acts on. Anything else is acknowledged and ignored.
const (
	EventTypePayment     = "payment"
	EventTypePreapproval = "subscription_preapproval"
)

// Notification is the envelope Mercado Pago posts to the webhook endpoint.
// The top-level id distinguishes redeliveries of the same event; data.id is
// the provider resource to fetch.
type Notification struct {
	ID       json.Number      `json:"id"`
	Type     string           `json:"type"`
	Action   string           `json:"action"`
	LiveMode bool             `json:"live_mode"`
	Data     NotificationData `json:"data"`
}

// NotificationData carries the resource identifier.
type NotificationData struct {
	ID string `json:"id"`
}

// ParseNotification decodes the raw webhook body into an envelope.
func ParseNotification(payload []byte) (Notification, error) {
	var n Notification
	if err := json.Unmarshal(payload, &n); err != nil {
		return Notification{}, err
	}
	return n, nil
}

// NotificationID returns the idempotency key for this delivery. Sandbox
// traffic sometimes omits the envelope id, so the resource identity serves
// as a stable fallback.
func (n Notification) NotificationID() string {
	if id := n.ID.String(); id != "" {
		return id
	}
	return n.Type + ":" + n.Data.ID
}

// Validate rejects envelopes missing the fields processing depends on.
func (n Notification) Validate() error {
	if n.Type == "" {
		return errors.New("notification type is required")
	}
	if n.Data.ID == "" {
		return errors.New("notification data.id is required")
	}
	return nil
}
