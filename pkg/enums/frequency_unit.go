package enums

import "fmt"

// FrequencyUnit is the unit of the recurring billing interval.
type FrequencyUnit string

const (
	FrequencyUnitDays   FrequencyUnit = "days"
	FrequencyUnitMonths FrequencyUnit = "months"
)

var validFrequencyUnits = []FrequencyUnit{
	FrequencyUnitDays,
	FrequencyUnitMonths,
}

// String implements fmt.Stringer.
func (f FrequencyUnit) String() string {
	return string(f)
}

// IsValid reports whether the value is known.
func (f FrequencyUnit) IsValid() bool {
	for _, candidate := range validFrequencyUnits {
		if candidate == f {
			return true
		}
	}
	return false
}

// ParseFrequencyUnit converts raw input into a FrequencyUnit.
func ParseFrequencyUnit(value string) (FrequencyUnit, error) {
	for _, candidate := range validFrequencyUnits {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid frequency unit %q", value)
}
