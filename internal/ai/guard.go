package ai

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/sony/gobreaker"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	appErr "github.com/xxxsen/docchat/internal/pkg/errors"
)

type GuardConfig struct {
	Name             string
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
	RPS              float64
	Burst            int

	// CallTimeout bounds a whole Complete call; streams are bounded by the caller.
	CallTimeout time.Duration
}

type guardedChat struct {
	next        IChat
	breaker     *gobreaker.CircuitBreaker
	limiter     *rate.Limiter
	callTimeout time.Duration
}

// WithGuard rate-limits calls to next and opens a circuit after consecutive
// upstream failures. Only opening a stream counts; reading it does not.
func WithGuard(next IChat, cfg GuardConfig) IChat {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	threshold := cfg.FailureThreshold
	g := &guardedChat{next: next, callTimeout: cfg.CallTimeout}
	g.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			// configuration and caller cancellation say nothing about upstream health
			return err == nil ||
				errors.Is(err, appErr.ErrMissingCredential) ||
				errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logutil.GetLogger(context.Background()).Warn("llm circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	if cfg.RPS > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RPS), burst)
	}
	return g
}

func (g *guardedChat) wait(ctx context.Context) error {
	if g.limiter == nil {
		return nil
	}
	return g.limiter.Wait(ctx)
}

func (g *guardedChat) Complete(ctx context.Context, req *ChatRequest) (string, error) {
	if g.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.callTimeout)
		defer cancel()
	}
	if err := g.wait(ctx); err != nil {
		return "", err
	}
	res, err := g.breaker.Execute(func() (interface{}, error) {
		return g.next.Complete(ctx, req)
	})
	if err != nil {
		return "", err
	}
	return res.(string), nil
}

func (g *guardedChat) Stream(ctx context.Context, req *ChatRequest) (io.ReadCloser, error) {
	if err := g.wait(ctx); err != nil {
		return nil, err
	}
	res, err := g.breaker.Execute(func() (interface{}, error) {
		return g.next.Stream(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return res.(io.ReadCloser), nil
}
