package provider

import (
	"context"
	"sync"
	"time"

	"relaybot/internal/domain"
)

// RateLimiter is a token bucket for throttling completion calls.
type RateLimiter struct {
	mu       sync.Mutex
	tokens   float64
	max      float64
	rate     float64 // tokens per second
	lastTime time.Time
}

func NewRateLimiter(maxBurst int, ratePerMinute float64) *RateLimiter {
	if maxBurst <= 0 {
		maxBurst = 10
	}
	if ratePerMinute <= 0 {
		ratePerMinute = 30
	}
	return &RateLimiter{
		tokens:   float64(maxBurst),
		max:      float64(maxBurst),
		rate:     ratePerMinute / 60.0,
		lastTime: time.Now(),
	}
}

func (rl *RateLimiter) Wait(ctx context.Context) error {
	for {
		rl.mu.Lock()
		now := time.Now()
		elapsed := now.Sub(rl.lastTime).Seconds()
		rl.tokens += elapsed * rl.rate
		if rl.tokens > rl.max {
			rl.tokens = rl.max
		}
		rl.lastTime = now

		if rl.tokens >= 1.0 {
			rl.tokens -= 1.0
			rl.mu.Unlock()
			return nil
		}

		waitSec := (1.0 - rl.tokens) / rl.rate
		rl.mu.Unlock()

		timer := time.NewTimer(time.Duration(waitSec * float64(time.Second)))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// RateLimited wraps a provider so every Chat call first takes a token.
type RateLimited struct {
	domain.Provider
	limiter *RateLimiter
}

func NewRateLimited(p domain.Provider, perMinute int) *RateLimited {
	burst := perMinute / 6
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{Provider: p, limiter: NewRateLimiter(burst, float64(perMinute))}
}

func (r *RateLimited) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.Provider.Chat(ctx, req)
}
