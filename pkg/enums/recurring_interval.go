package enums

import "fmt"

// RecurringInterval is the billing cadence offered for subscription products.
type RecurringInterval string

const (
	RecurringIntervalWeek  RecurringInterval = "week"
	RecurringIntervalMonth RecurringInterval = "month"
)

var validRecurringIntervals = []RecurringInterval{
	RecurringIntervalWeek,
	RecurringIntervalMonth,
}

// String implements fmt.Stringer.
func (r RecurringInterval) String() string {
	return string(r)
}

// IsValid reports whether the interval is recognized.
func (r RecurringInterval) IsValid() bool {
	for _, candidate := range validRecurringIntervals {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseRecurringInterval converts a raw string into a RecurringInterval.
func ParseRecurringInterval(value string) (RecurringInterval, error) {
	for _, candidate := range validRecurringIntervals {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid recurring interval %q", value)
}
