package ai

import (
	"context"
	"fmt"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// PolicyConfig bounds every provider call. MaxRetries counts attempts after the first one.
type PolicyConfig struct {
	Timeout           time.Duration
	MaxRetries        int
	Backoff           time.Duration
	RequestsPerSecond float64
}

type policy struct {
	name    string
	cfg     PolicyConfig
	limiter *rate.Limiter
}

func newPolicy(name string, cfg PolicyConfig) *policy {
	p := &policy{name: name, cfg: cfg}
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return p
}

func (p *policy) do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.cfg.MaxRetries + 1
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			if err := sleepContext(ctx, p.cfg.Backoff<<(i-1)); err != nil {
				return err
			}
		}
		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		err := p.attempt(ctx, fn)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !IsTransient(err) {
			return fmt.Errorf("%w: %w", ErrProviderFailure, err)
		}
		lastErr = err
		logutil.GetLogger(ctx).Warn("provider call failed, will retry",
			zap.String("name", p.name),
			zap.Int("attempt", i+1),
			zap.Int("max_attempts", attempts),
			zap.Error(err),
		)
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrProviderFailure, attempts, lastErr)
}

func (p *policy) attempt(ctx context.Context, fn func(ctx context.Context) error) error {
	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}
	return fn(ctx)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type policyGenerator struct {
	next   IGenerator
	policy *policy
}

// WrapPolicyGenerator adds timeout, bounded retry and rate limiting to g.
func WrapPolicyGenerator(name string, g IGenerator, cfg PolicyConfig) IGenerator {
	if g == nil {
		return nil
	}
	return &policyGenerator{next: g, policy: newPolicy(name, cfg)}
}

func (p *policyGenerator) Generate(ctx context.Context, prompt string, schema *Schema) (string, error) {
	var out string
	err := p.policy.do(ctx, func(ctx context.Context) error {
		res, err := p.next.Generate(ctx, prompt, schema)
		if err != nil {
			return err
		}
		out = res
		return nil
	})
	if err != nil {
		return "", err
	}
	return out, nil
}

type policyEmbedder struct {
	next   IEmbedder
	policy *policy
}

func WrapPolicyEmbedder(name string, e IEmbedder, cfg PolicyConfig) IEmbedder {
	if e == nil {
		return nil
	}
	return &policyEmbedder{next: e, policy: newPolicy(name, cfg)}
}

func (p *policyEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	var out []float32
	err := p.policy.do(ctx, func(ctx context.Context) error {
		res, err := p.next.Embed(ctx, text, taskType)
		if err != nil {
			return err
		}
		out = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (p *policyEmbedder) ModelName() string {
	return p.next.ModelName()
}
