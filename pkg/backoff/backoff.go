// Package backoff computes retry delays shared by the lifecycle engine, the
// outbox relay, the bus consumers and the HTTP client.
package backoff

import (
	"context"
	"math/rand"
	"time"
)

// Strategy defines how to calculate the next wait time.
type Strategy interface {
	Next(attempt int) time.Duration
}

// Exponential implements exponential backoff with jitter.
type Exponential struct {
	Base   time.Duration
	Max    time.Duration
	Factor float64
	Jitter float64 // 0.0 to 1.0
}

// Default returns the strategy used for transaction retries.
// Base: 50ms, Max: 2s, Factor: 2.0, Jitter: 0.2
func Default() *Exponential {
	return &Exponential{
		Base:   50 * time.Millisecond,
		Max:    2 * time.Second,
		Factor: 2.0,
		Jitter: 0.2,
	}
}

// Next calculates the wait duration for the given attempt (0-based).
func (b *Exponential) Next(attempt int) time.Duration {
	if attempt < 0 {
		return b.Base
	}

	delay := float64(b.Base)
	for i := 0; i < attempt; i++ {
		delay *= b.Factor
	}

	if delay > float64(b.Max) {
		delay = float64(b.Max)
	}

	// delay * (1 +/- Jitter)
	if b.Jitter > 0 {
		jitterFactor := (rand.Float64()*2 - 1) * b.Jitter
		delay += delay * jitterFactor
	}

	if delay < 0 {
		return 0
	}

	return time.Duration(delay)
}

// Ceiling is the longest Next can return for attempt.
func (b *Exponential) Ceiling(attempt int) time.Duration {
	delay := float64(b.Base)
	for i := 0; i < attempt; i++ {
		delay *= b.Factor
	}
	if delay > float64(b.Max) {
		delay = float64(b.Max)
	}
	return time.Duration(delay * (1 + b.Jitter))
}

// Sleep waits for the attempt's delay or until ctx is done.
func Sleep(ctx context.Context, s Strategy, attempt int) error {
	t := time.NewTimer(s.Next(attempt))
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
