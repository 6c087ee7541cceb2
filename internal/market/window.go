package market

import "time"

// Window24h is the rolling window for previous close and the 24h high/low.
const Window24h = 24 * time.Hour

// rollWindow closes the 24h window once it has run its length: the current
// value becomes the previous close and high/low restart from it.
func rollWindow(current int64, prevClose, high, low *int64, started *time.Time, now time.Time) bool {
	if !started.IsZero() && now.Sub(*started) < Window24h {
		return false
	}
	*prevClose = current
	*high = current
	*low = current
	*started = now
	return true
}
