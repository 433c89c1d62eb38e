package utils

import "time"

// Now returns the current time in UTC, truncated to microseconds so
// values round-trip through postgres timestamps unchanged.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
