package enums

import "fmt"

// ActivationSource records which path drove a payment event into the ledger.
type ActivationSource string

const (
	ActivationSourceWebhook    ActivationSource = "webhook"
	ActivationSourceReconciler ActivationSource = "reconciler"
	ActivationSourceManual     ActivationSource = "manual"
)

var validActivationSources = []ActivationSource{
	ActivationSourceWebhook,
	ActivationSourceReconciler,
	ActivationSourceManual,
}

// String implements fmt.Stringer.
func (a ActivationSource) String() string {
	return string(a)
}

// IsValid reports whether the value is known.
func (a ActivationSource) IsValid() bool {
	for _, candidate := range validActivationSources {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseActivationSource converts raw input into an ActivationSource.
func ParseActivationSource(value string) (ActivationSource, error) {
	for _, candidate := range validActivationSources {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid activation source %q", value)
}
