// Package storage carries the timeout and retry policy applied to ledger
// store calls. Only idempotent reads are retried; state transitions go
// through Write, which never retries.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/frahmantamala/purchase-core/internal"
	"github.com/sethvargo/go-retry"
)

type Policy struct {
	Timeout    time.Duration
	MaxRetries uint64
	Delay      time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		Timeout:    5 * time.Second,
		MaxRetries: 3,
		Delay:      50 * time.Millisecond,
	}
}

func PolicyFromConfig(cfg internal.PurchaseConfig) Policy {
	p := DefaultPolicy()
	if cfg.StoreTimeout > 0 {
		p.Timeout = cfg.StoreTimeout
	}
	if cfg.ReadRetries >= 0 {
		p.MaxRetries = uint64(cfg.ReadRetries)
	}
	if cfg.ReadRetryDelay > 0 {
		p.Delay = cfg.ReadRetryDelay
	}
	return p
}

// Read runs fn with a bounded timeout, retrying errors that are not listed
// in permanent. Context cancellation is never retried.
func Read(ctx context.Context, p Policy, fn func(ctx context.Context) error, permanent ...error) error {
	ctx, cancel := internal.WithTimeout(ctx, p.Timeout)
	defer cancel()

	backoff := retry.WithMaxRetries(p.MaxRetries, retry.NewConstant(p.Delay))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		for _, target := range permanent {
			if errors.Is(err, target) {
				return err
			}
		}
		return retry.RetryableError(err)
	})
}

// Write runs fn once under the policy timeout.
func Write(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	ctx, cancel := internal.WithTimeout(ctx, p.Timeout)
	defer cancel()
	return fn(ctx)
}
