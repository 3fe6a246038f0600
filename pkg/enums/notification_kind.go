package enums

import "fmt"

// NotificationKind labels customer-facing notification records.
type NotificationKind string

const (
	NotificationKindSubscriptionActivated NotificationKind = "subscription_activated"
	NotificationKindSubscriptionPaused    NotificationKind = "subscription_paused"
	NotificationKindSubscriptionResumed   NotificationKind = "subscription_resumed"
	NotificationKindSubscriptionCancelled NotificationKind = "subscription_cancelled"
)

var validNotificationKinds = []NotificationKind{
	NotificationKindSubscriptionActivated,
	NotificationKindSubscriptionPaused,
	NotificationKindSubscriptionResumed,
	NotificationKindSubscriptionCancelled,
}

// String implements fmt.Stringer.
func (n NotificationKind) String() string {
	return string(n)
}

// IsValid reports whether the value is known.
func (n NotificationKind) IsValid() bool {
	for _, candidate := range validNotificationKinds {
		if candidate == n {
			return true
		}
	}
	return false
}

// ParseNotificationKind converts raw input into a NotificationKind.
func ParseNotificationKind(value string) (NotificationKind, error) {
	for _, candidate := range validNotificationKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid notification kind %q", value)
}
