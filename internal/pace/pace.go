// Package pace spaces out calls to the remote service. Every wait is
// cancellable: sleeps are taken in short slices so an interrupt lands
// within one slice rather than after the full duration.
package pace

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultSlice bounds a single uninterrupted wait
const DefaultSlice = 100 * time.Millisecond

// Pacer applies the randomized inter-action delay and the rate-limit backoff
type Pacer struct {
	min, max time.Duration
	backoff  time.Duration
	slice    time.Duration

	mu   sync.Mutex
	rand func() float64
}

// New returns a Pacer drawing delays uniformly from [min, max]
func New(min, max, backoff time.Duration) *Pacer {
	if max < min {
		max = min
	}
	return &Pacer{
		min:     min,
		max:     max,
		backoff: backoff,
		slice:   DefaultSlice,
		rand:    rand.Float64,
	}
}

// WithRand replaces the random source; f must return values in [0,1).
func (p *Pacer) WithRand(f func() float64) *Pacer {
	p.mu.Lock()
	p.rand = f
	p.mu.Unlock()
	return p
}

// Next returns the next inter-action delay without sleeping
func (p *Pacer) Next() time.Duration {
	p.mu.Lock()
	r := p.rand()
	p.mu.Unlock()
	return p.min + time.Duration(r*float64(p.max-p.min))
}

// Delay sleeps for a random duration in [min, max]
func (p *Pacer) Delay(ctx context.Context) error {
	d := p.Next()
	log.Debug().Dur("delay", d).Msg("pausing between actions")
	return p.Sleep(ctx, d)
}

// Backoff sleeps for the configured rate-limit duration
func (p *Pacer) Backoff(ctx context.Context) error {
	log.Warn().Dur("backoff", p.backoff).Msg("rate limited, waiting")
	return p.Sleep(ctx, p.backoff)
}

// Sleep waits for d in bounded slices and returns ctx.Err() as soon as the
// context is done.
func (p *Pacer) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	deadline := time.Now().Add(d)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil
		}
		if remaining > p.slice {
			remaining = p.slice
		}

		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Info().Msg("sleep interrupted")
			return ctx.Err()
		case <-timer.C:
		}
	}
}
