package gossip

import "time"

// FailureDetector classifies a record by how long ago it was last refreshed.
// Only local receipt times are compared, so peers need no clock sync.
type FailureDetector interface {
	// Suspected reports whether the record should no longer be vouched for.
	Suspected(lastRefreshed, now time.Duration) bool
	// Expired reports whether the record should be tombstoned.
	Expired(lastRefreshed, now time.Duration) bool
}

// TimeoutDetector is the two-threshold heartbeat detector: suspicion after
// Fail, removal after Fail+Remove.
type TimeoutDetector struct {
	Fail   time.Duration
	Remove time.Duration
}

func (d TimeoutDetector) Suspected(lastRefreshed, now time.Duration) bool {
	return now-lastRefreshed > d.Fail
}

func (d TimeoutDetector) Expired(lastRefreshed, now time.Duration) bool {
	return now-lastRefreshed > d.Fail+d.Remove
}
