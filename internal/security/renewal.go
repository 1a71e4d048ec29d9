package security

import "time"

// tokenEpoch is the origin of Miniserver timestamps.
var tokenEpoch = time.Date(2009, time.January, 1, 0, 0, 0, 0, time.UTC)

const (
	// defaultRenewal applies when a token reply carries no validUntil.
	defaultRenewal = 48 * time.Hour
	// renewalMargin is how long before expiry a token is refreshed.
	renewalMargin = 24 * time.Hour
)

// TokenExpiry converts a validUntil value to wall time.
func TokenExpiry(validUntil int64) time.Time {
	return tokenEpoch.Add(time.Duration(validUntil) * time.Second)
}

// renewalDelay returns how long to wait before refreshing a token. The
// margin before expiry is halved until it fits the remaining lifetime.
func renewalDelay(validUntil *int64, now time.Time) time.Duration {
	if validUntil == nil {
		return defaultRenewal
	}
	remaining := TokenExpiry(*validUntil).Sub(now)
	if remaining <= 0 {
		return 0
	}
	margin := renewalMargin
	for margin > 0 && margin >= remaining {
		margin /= 2
	}
	return remaining - margin
}
