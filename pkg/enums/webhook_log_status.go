package enums

import "fmt"

// WebhookLogStatus tracks the processing outcome of an inbound notification.
type WebhookLogStatus string

const (
	WebhookLogStatusReceived  WebhookLogStatus = "received"
	WebhookLogStatusProcessed WebhookLogStatus = "processed"
	WebhookLogStatusDeferred  WebhookLogStatus = "deferred"
	WebhookLogStatusFailed    WebhookLogStatus = "failed"
)

var validWebhookLogStatuses = []WebhookLogStatus{
	WebhookLogStatusReceived,
	WebhookLogStatusProcessed,
	WebhookLogStatusDeferred,
	WebhookLogStatusFailed,
}

// String implements fmt.Stringer.
func (w WebhookLogStatus) String() string {
	return string(w)
}

// IsValid reports whether the value is known.
func (w WebhookLogStatus) IsValid() bool {
	for _, candidate := range validWebhookLogStatuses {
		if candidate == w {
			return true
		}
	}
	return false
}

// ParseWebhookLogStatus converts raw input into a WebhookLogStatus.
func ParseWebhookLogStatus(value string) (WebhookLogStatus, error) {
	for _, candidate := range validWebhookLogStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid webhook log status %q", value)
}
