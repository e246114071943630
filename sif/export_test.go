package sif

import "time"

// SetPollTimeouts shortens the handshake and transmit poll timeouts so
// failure paths can be tested without waiting out the hardware values.  It
// returns a func restoring the previous values.
func SetPollTimeouts(flag, tx time.Duration) (restore func()) {
	prevFlag, prevTx := flagPollTimeout, txPollTimeout
	flagPollTimeout, txPollTimeout = flag, tx
	return func() {
		flagPollTimeout, txPollTimeout = prevFlag, prevTx
	}
}
