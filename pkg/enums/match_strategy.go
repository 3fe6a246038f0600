package enums

import "fmt"

// MatchStrategy identifies which step of the matcher's fallback chain
// resolved a provider object to a local subscription.
type MatchStrategy string

const (
	MatchStrategyExternalReference      MatchStrategy = "external_reference"
	MatchStrategyProviderSubscriptionID MatchStrategy = "provider_subscription_id"
	MatchStrategyAlternateReference     MatchStrategy = "alternate_reference"
	MatchStrategyUserProductWindow      MatchStrategy = "user_product_window"
	MatchStrategyPayerEmailWindow       MatchStrategy = "payer_email_window"
)

var validMatchStrategies = []MatchStrategy{
	MatchStrategyExternalReference,
	MatchStrategyProviderSubscriptionID,
	MatchStrategyAlternateReference,
	MatchStrategyUserProductWindow,
	MatchStrategyPayerEmailWindow,
}

// String implements fmt.Stringer.
func (m MatchStrategy) String() string {
	return string(m)
}

// IsValid reports whether the value is known.
func (m MatchStrategy) IsValid() bool {
	for _, candidate := range validMatchStrategies {
		if candidate == m {
			return true
		}
	}
	return false
}

// ParseMatchStrategy converts raw input into a MatchStrategy.
func ParseMatchStrategy(value string) (MatchStrategy, error) {
	for _, candidate := range validMatchStrategies {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid match strategy %q", value)
}
