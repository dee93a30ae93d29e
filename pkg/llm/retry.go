// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	llmerrors "github.com/tombee/llmdebug/pkg/errors"
)

// ErrMaxRetriesExceeded indicates all retry attempts were exhausted.
var ErrMaxRetriesExceeded = errors.New("maximum retry attempts exceeded")

// RetryConfig configures retries with exponential backoff.
type RetryConfig struct {
	// MaxRetries is the number of retries after the first attempt (0 = none).
	MaxRetries int

	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration

	// MaxDelay caps every delay, including server Retry-After hints.
	MaxDelay time.Duration

	// Multiplier grows the delay per attempt.
	Multiplier float64

	// Jitter spreads each delay by up to this fraction either way (0.0-1.0).
	Jitter float64

	// Retryable decides whether err is transient. Nil uses isRetryableError:
	// rate limits, HTTP 5xx and temporary network errors.
	Retryable func(err error) bool

	// OnRetry is called before each wait.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// DefaultRetryConfig suits interactive oracle calls: a few quick retries.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     20 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.1,
	}
}

// RetryingProvider retries transient provider failures.
type RetryingProvider struct {
	provider Provider
	config   RetryConfig
}

var _ Provider = (*RetryingProvider)(nil)

// NewRetryableProvider wraps provider with retries.
func NewRetryableProvider(provider Provider, config RetryConfig) *RetryingProvider {
	if config.Retryable == nil {
		config.Retryable = isRetryableError
	}
	if config.Multiplier <= 0 {
		config.Multiplier = 1
	}
	return &RetryingProvider{provider: provider, config: config}
}

// Name returns the wrapped provider's name.
func (r *RetryingProvider) Name() string {
	return r.provider.Name()
}

// Complete sends req, retrying transient failures until MaxRetries is
// spent or ctx ends.
func (r *RetryingProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		resp, err := r.provider.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !r.config.Retryable(err) {
			return nil, err
		}
		lastErr = err
		if attempt == r.config.MaxRetries {
			break
		}

		delay := r.delay(attempt+1, err)
		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt+1, delay, err)
		}
		if err := sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w after %d attempts: %w", ErrMaxRetriesExceeded, r.config.MaxRetries+1, lastErr)
}

// delay returns the wait before retry number attempt. A Retry-After hint
// from the provider replaces the computed backoff.
func (r *RetryingProvider) delay(attempt int, err error) time.Duration {
	var providerErr *llmerrors.ProviderError
	if errors.As(err, &providerErr) && providerErr.RetryAfter > 0 {
		return min(providerErr.RetryAfter, r.config.MaxDelay)
	}
	return r.backoff(attempt)
}

// backoff is InitialDelay * Multiplier^(attempt-1), capped and jittered.
func (r *RetryingProvider) backoff(attempt int) time.Duration {
	d := float64(r.config.InitialDelay) * math.Pow(r.config.Multiplier, float64(attempt-1))
	d = math.Min(d, float64(r.config.MaxDelay))
	if j := r.config.Jitter; j > 0 {
		d *= 1 + j*(2*rand.Float64()-1)
	}
	return time.Duration(d)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// isRetryableError reports whether err is worth another attempt. The
// caller's cancellation and deadlines never are.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if llmerrors.IsRetryable(err) {
		return true
	}
	var temp interface{ Temporary() bool }
	return errors.As(err, &temp) && temp.Temporary()
}
