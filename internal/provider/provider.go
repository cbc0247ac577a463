// Package provider defines the pluggable sources that produce raw drug
// candidates for a query, and the safe way to call them.
package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fairyhunter13/drug-price-aggregator/internal/model"
	"github.com/fairyhunter13/drug-price-aggregator/internal/obs"
)

var (
	// ErrTimeout is recorded when a provider does not answer within its budget.
	ErrTimeout = errors.New("provider timed out")
	// ErrPanic is recorded when a provider panics.
	ErrPanic = errors.New("provider panicked")
)

// Provider fetches raw candidates for a free-text query.
//
// Implementations own their network policy and should honour ctx. They may
// return an error; Call turns errors, panics and timeouts into a Result.
type Provider interface {
	Name() string
	Fetch(ctx context.Context, query string) ([]model.RawCandidate, error)
}

// Result is the outcome of one provider call.
type Result struct {
	Source     string
	Candidates []model.RawCandidate
	Err        error
	Elapsed    time.Duration
}

// OK reports whether the call succeeded (possibly with zero candidates).
func (r Result) OK() bool { return r.Err == nil }

// Call runs p.Fetch with its own timeout and never panics. A timeout cancels
// only this call's context; the returned Result always arrives within timeout
// even if the provider ignores cancellation.
func Call(ctx context.Context, p Provider, query string, timeout time.Duration) Result {
	name := p.Name()
	start := time.Now()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	done := make(chan Result, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- Result{Source: name, Err: fmt.Errorf("%w: %v", ErrPanic, rec)}
			}
		}()
		cands, err := p.Fetch(ctx, query)
		done <- Result{Source: name, Candidates: cands, Err: err}
	}()

	var res Result
	select {
	case res = <-done:
		if res.Err != nil && ctx.Err() != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			res.Err = fmt.Errorf("%w: %v", ErrTimeout, res.Err)
		}
	case <-ctx.Done():
		err := ctx.Err()
		if errors.Is(err, context.DeadlineExceeded) {
			err = ErrTimeout
		}
		res = Result{Source: name, Err: err}
	}
	res.Elapsed = time.Since(start)
	if res.Err != nil {
		res.Candidates = nil
	}
	for i := range res.Candidates {
		if res.Candidates[i].SourceID == "" {
			res.Candidates[i].SourceID = name
		}
	}

	obs.ProviderCalls.WithLabelValues(name, outcome(res)).Inc()
	obs.ProviderLatency.WithLabelValues(name).Observe(res.Elapsed.Seconds())
	return res
}

func outcome(r Result) string {
	switch {
	case errors.Is(r.Err, ErrTimeout):
		return "timeout"
	case errors.Is(r.Err, ErrPanic):
		return "panic"
	case r.Err != nil:
		return "error"
	case len(r.Candidates) == 0:
		return "empty"
	default:
		return "ok"
	}
}

// Func adapts a function to the Provider interface.
type Func struct {
	ID string
	Fn func(ctx context.Context, query string) ([]model.RawCandidate, error)
}

func (f Func) Name() string { return f.ID }

func (f Func) Fetch(ctx context.Context, query string) ([]model.RawCandidate, error) {
	return f.Fn(ctx, query)
}
