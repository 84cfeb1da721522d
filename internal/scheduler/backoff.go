package scheduler

import "time"

// Policy decides when a tenant is polled next.
type Policy struct {
	// Interval is the normal gap between successful cycles.
	Interval time.Duration
	// Jitter spreads runs by up to ±Jitter*delay.
	Jitter float64
	// RetryBase is the delay after the first failure; it doubles with
	// every further consecutive failure.
	RetryBase time.Duration
	// MaxMultiplier caps retry delays at Interval*MaxMultiplier.
	MaxMultiplier int
}

// NextPoll returns the time of the next regular cycle. sample must be in [0,1).
func (p Policy) NextPoll(now time.Time, sample float64) time.Time {
	return now.Add(p.jittered(p.Interval, sample))
}

// RetryDelay returns how long to wait after the given number of
// consecutive failures. sample must be in [0,1).
func (p Policy) RetryDelay(failures int, sample float64) time.Duration {
	if failures <= 0 {
		return p.jittered(p.Interval, sample)
	}

	mult := p.MaxMultiplier
	if mult < 1 {
		mult = 1
	}
	limit := p.Interval * time.Duration(mult)

	delay := p.RetryBase
	if delay <= 0 {
		delay = p.Interval
	}
	for i := 1; i < failures && delay < limit; i++ {
		delay *= 2
	}
	if limit > 0 && delay > limit {
		delay = limit
	}
	return p.jittered(delay, sample)
}

func (p Policy) jittered(d time.Duration, sample float64) time.Duration {
	if p.Jitter <= 0 || d <= 0 {
		return d
	}
	offset := float64(d) * p.Jitter * (2*sample - 1)
	return d + time.Duration(offset)
}
