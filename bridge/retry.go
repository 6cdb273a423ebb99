package bridge

import (
	"context"
	"time"
)

// Policy is a bounded fixed-interval retry policy.
type Policy struct {
	// Attempts is the total number of tries, including the first. Default: 20.
	Attempts int `yaml:"attempts"`
	// Interval is the pause between tries. Default: 500ms.
	Interval time.Duration `yaml:"interval"`
}

func (p *Policy) defaults() {
	if p.Attempts <= 0 {
		p.Attempts = 20
	}
	if p.Interval <= 0 {
		p.Interval = 500 * time.Millisecond
	}
}

// Do runs fn until it succeeds, returns a non-retryable error, the attempts
// are exhausted, or ctx is done. The first attempt runs immediately. On
// exhaustion the last error is returned.
func (p Policy) Do(ctx context.Context, fn func() error, retryable func(error) bool) error {
	p.defaults()

	var err error
	for attempt := 0; attempt < p.Attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.Interval):
			}
		}
		err = fn()
		if err == nil || !retryable(err) {
			return err
		}
	}
	return err
}
