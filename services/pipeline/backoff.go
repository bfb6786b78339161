package pipeline

import (
	// Go Internal Packages
	"time"

	// External Packages
	"github.com/cenkalti/backoff/v4"
)

// Backoff computes the jittered, capped exponential delay before a retry.
type Backoff struct {
	Base time.Duration
	Cap  time.Duration
}

// Delay returns the wait after the given number of attempts (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = b.Base
	eb.Multiplier = 2
	eb.RandomizationFactor = 0.5
	eb.MaxInterval = b.Cap
	eb.MaxElapsedTime = 0
	eb.Reset()

	d := eb.NextBackOff()
	for i := 1; i < attempt; i++ {
		d = eb.NextBackOff()
	}
	return min(d, b.Cap)
}
