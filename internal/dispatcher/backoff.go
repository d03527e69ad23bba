package dispatcher

import "time"

// retryDelay doubles base for every attempt after the first, capped at max:
// with 5s/5m that is 5s, 10s, 20s, 40s ... 5m.
func retryDelay(attempt int, base, max time.Duration) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if max > 0 && d >= max {
			return max
		}
	}
	if max > 0 && d > max {
		return max
	}
	return d
}
