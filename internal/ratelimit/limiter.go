// Package ratelimit throttles unauthenticated entry points such as login,
// signup and invitation acceptance.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/tenantry/internal/clock"
	"github.com/smallbiznis/tenantry/internal/config"
	"github.com/smallbiznis/tenantry/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	EndpointLogin            = "login"
	EndpointSignup           = "signup"
	EndpointInvitationAccept = "invitation_accept"
)

const keyFormat = "tenantry:ratelimit:%s:%s"

// Rule is a token bucket refilled at Rate tokens per second up to Burst.
type Rule struct {
	Rate  float64
	Burst int
}

func (r Rule) validate() error {
	if r.Rate <= 0 {
		return errors.New("rate limiter rate must be positive")
	}
	if r.Burst <= 0 {
		return errors.New("rate limiter burst must be positive")
	}
	return nil
}

type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
	ResetTime  time.Time
}

func newResult(allowed bool, rule Rule, tokens float64, now time.Time) *Result {
	retryAfter := time.Duration(0)
	if !allowed {
		if needed := 1.0 - tokens; needed > 0 {
			retryAfter = time.Duration(needed / rule.Rate * float64(time.Second))
		}
	}
	remaining := int(math.Floor(tokens))
	if remaining < 0 {
		remaining = 0
	}
	return &Result{
		Allowed:    allowed,
		Limit:      rule.Burst,
		Remaining:  remaining,
		RetryAfter: retryAfter,
		ResetTime:  now.Add(retryAfter),
	}
}

type bucket interface {
	Allow(ctx context.Context, key string, rule Rule) (*Result, error)
}

// Limiter applies the policy rule configured for an endpoint.
type Limiter interface {
	Allow(ctx context.Context, endpoint, subject string) (*Result, error)
}

type Params struct {
	fx.In

	Lc      fx.Lifecycle
	Cfg     config.Config
	Policy  *config.PolicyHolder
	Clock   clock.Clock
	Log     *zap.Logger
	Metrics *metrics.Metrics `optional:"true"`
}

type policyLimiter struct {
	bucket  bucket
	policy  *config.PolicyHolder
	log     *zap.Logger
	metrics *metrics.Metrics
}

func NewLimiter(p Params) (Limiter, error) {
	log := p.Log.Named("ratelimit")

	addr := strings.TrimSpace(p.Cfg.RedisAddr)
	if addr == "" {
		log.Info("redis not configured, using in-process rate limits")
		return newPolicyLimiter(NewLocalBucket(p.Clock), p.Policy, log, p.Metrics), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(p.Cfg.RedisPassword),
		DB:       p.Cfg.RedisDB,
	})
	p.Lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return newPolicyLimiter(NewTokenBucket(client), p.Policy, log, p.Metrics), nil
}

func newPolicyLimiter(b bucket, policy *config.PolicyHolder, log *zap.Logger, m *metrics.Metrics) *policyLimiter {
	return &policyLimiter{bucket: b, policy: policy, log: log, metrics: m}
}

// Allow fails open when the backing store errors.
func (l *policyLimiter) Allow(ctx context.Context, endpoint, subject string) (*Result, error) {
	rule, ok := l.ruleFor(endpoint)
	if !ok {
		return nil, fmt.Errorf("ratelimit: unknown endpoint %q", endpoint)
	}

	key := fmt.Sprintf(keyFormat, endpoint, strings.ToLower(strings.TrimSpace(subject)))
	res, err := l.bucket.Allow(ctx, key, rule)
	if err != nil {
		l.log.Warn("rate limit check failed", zap.String("endpoint", endpoint), zap.Error(err))
		return &Result{Allowed: true, Limit: rule.Burst}, nil
	}
	if !res.Allowed {
		l.metrics.RecordRateLimitDenied(ctx, endpoint)
	}
	return res, nil
}

func (l *policyLimiter) ruleFor(endpoint string) (Rule, bool) {
	limits := l.policy.Get().RateLimits
	var rule config.RateRule
	switch endpoint {
	case EndpointLogin:
		rule = limits.Login
	case EndpointSignup:
		rule = limits.Signup
	case EndpointInvitationAccept:
		rule = limits.InvitationAccept
	default:
		return Rule{}, false
	}
	return Rule{Rate: rule.Rate, Burst: rule.Burst}, true
}
