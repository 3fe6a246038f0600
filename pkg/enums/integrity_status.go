package enums

import "fmt"

// IntegrityStatus buckets a user's integrity score into a health grade.
type IntegrityStatus string

const (
	IntegrityStatusHealthy  IntegrityStatus = "healthy"
	IntegrityStatusWarning  IntegrityStatus = "warning"
	IntegrityStatusCritical IntegrityStatus = "critical"
)

var validIntegrityStatuses = []IntegrityStatus{
	IntegrityStatusHealthy,
	IntegrityStatusWarning,
	IntegrityStatusCritical,
}

// String implements fmt.Stringer.
func (i IntegrityStatus) String() string {
	return string(i)
}

// IsValid reports whether the value is known.
func (i IntegrityStatus) IsValid() bool {
	for _, candidate := range validIntegrityStatuses {
		if candidate == i {
			return true
		}
	}
	return false
}

// IntegrityStatusForScore maps a 0-100 score onto a health grade.
func IntegrityStatusForScore(score int) IntegrityStatus {
	switch {
	case score >= 80:
		return IntegrityStatusHealthy
	case score >= 50:
		return IntegrityStatusWarning
	default:
		return IntegrityStatusCritical
	}
}

// ParseIntegrityStatus converts raw input into an IntegrityStatus.
func ParseIntegrityStatus(value string) (IntegrityStatus, error) {
	for _, candidate := range validIntegrityStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid integrity status %q", value)
}
