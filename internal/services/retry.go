package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"konsul_app_echo/internal/config"
)

// RetryPolicy bounds calls to the payment gateway
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	Timeout        time.Duration
}

// RetryPolicyFromConfig builds the gateway retry policy
func RetryPolicyFromConfig(cfg *config.Config) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    cfg.GatewayMaxAttempts,
		InitialBackoff: cfg.GatewayInitialBackoff,
		Timeout:        cfg.GatewayTimeout,
	}
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// backOff doubles from InitialBackoff without jitter and stops after
// MaxAttempts-1 waits. The overall deadline comes from the context.
func (p RetryPolicy) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialBackoff
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithMaxRetries(b, uint64(p.attempts()-1))
}

// Do runs op until it succeeds, fails permanently or the policy is exhausted.
// Exhausted transient failures and timeouts are reported as
// ErrGatewayUnavailable.
func (p RetryPolicy) Do(ctx context.Context, log *zap.SugaredLogger, op string, fn func(ctx context.Context) error) error {
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	attempt := 0
	permanent := false
	operation := func() error {
		attempt++
		err := fn(ctx)
		if err != nil && !IsTransient(err) {
			permanent = true
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		log.Warnw("gateway_call_retry", "op", op, "attempt", attempt, "max_attempts", p.attempts(), "backoff", wait, "error", err)
	}

	err := backoff.RetryNotify(operation, backoff.WithContext(p.backOff(), ctx), notify)
	switch {
	case err == nil:
		return nil
	case permanent:
		return err
	case errors.Is(err, context.Canceled) && !errors.Is(ctx.Err(), context.DeadlineExceeded):
		return err
	}
	log.Warnw("gateway_call_exhausted", "op", op, "attempts", attempt, "error", err)
	return fmt.Errorf("%w: %s: %v", ErrGatewayUnavailable, op, err)
}
