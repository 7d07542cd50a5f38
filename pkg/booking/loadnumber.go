package booking

import (
	"fmt"
	"time"
)

const loadNumberDateLayout = "20060102"

// LoadNumberPrefix is the day a load number belongs to, in the configured timezone.
func LoadNumberPrefix(now time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return now.In(loc).Format(loadNumberDateLayout)
}

// FormatLoadNumber renders YYYYMMDD-NNN. Ordinals past 999 keep their extra digits.
func FormatLoadNumber(prefix string, ordinal int) string {
	return fmt.Sprintf("%s-%03d", prefix, ordinal)
}
