// internal/backoff/backoff.go

// Package backoff holds the single exponential-backoff formula shared by
// the sync queue and the file-change history, so both retry clocks agree
// on cadence.
package backoff

import "time"

// maxShift caps the exponent so the delay cannot overflow a Duration.
const maxShift = 20

// Delay returns base * 2^retryCount. retryCount is the failure count
// after the current failure has been added. Delays grow strictly with
// the count up to maxShift and plateau beyond it: with the default
// one-second base, 2^20 seconds is already past twelve days, and an
// uncapped shift would wrap Duration negative around count 33.
func Delay(retryCount int, base time.Duration) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	if retryCount < 0 {
		retryCount = 0
	}
	if retryCount > maxShift {
		retryCount = maxShift
	}
	return base * time.Duration(1<<uint(retryCount))
}

// NextRetryAt schedules the moment a failed unit becomes eligible again.
func NextRetryAt(now time.Time, retryCount int, base time.Duration) time.Time {
	return now.Add(Delay(retryCount, base))
}
