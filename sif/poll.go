package sif

import "time"

var (
	flagPollInterval = time.Millisecond
	flagPollTimeout  = 5 * time.Second
	txPollInterval   = 100 * time.Microsecond
	txPollTimeout    = 5 * time.Second
)

// pollUntil polls cond every interval until it reports true.  It returns
// false if cond didn't hold within timeout.
func pollUntil(cond func() bool, interval, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			return cond()
		}
		time.Sleep(interval)
	}
	return true
}
