package device

import (
	"context"

	"github.com/flowforge-io/flowforge/pkg/concurrency"
	"github.com/flowforge-io/flowforge/pkg/errors"
)

// Guarded wraps an executor with a circuit breaker so a flapping device
// fails fast instead of queueing pipelines behind it.
type Guarded struct {
	inner   Executor
	breaker *concurrency.Breaker
}

// Guard wraps executor with breaker. A nil breaker gets defaults.
func Guard(executor Executor, breaker *concurrency.Breaker) *Guarded {
	if breaker == nil {
		breaker = concurrency.NewBreaker(0, 0)
	}
	return &Guarded{inner: executor, breaker: breaker}
}

// Execute implements Executor.
func (g *Guarded) Execute(ctx context.Context, functionID string, inputs map[string]interface{}) (map[string]interface{}, error) {
	if !g.breaker.Allow() {
		return nil, errors.ErrCircuitOpen
	}
	outputs, err := g.inner.Execute(ctx, functionID, inputs)
	if err != nil {
		g.breaker.RecordFailure()
		return nil, err
	}
	g.breaker.RecordSuccess()
	return outputs, nil
}

// Breaker exposes the underlying breaker for observability.
func (g *Guarded) Breaker() *concurrency.Breaker { return g.breaker }
