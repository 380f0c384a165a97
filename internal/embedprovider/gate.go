package embedprovider

import (
	"context"

	"golang.org/x/time/rate"
)

// gate bounds concurrent in-flight requests to a remote provider and,
// optionally, paces them to a fixed requests-per-second ceiling. No example
// in the corpus imports a rate-limiting library; x/time/rate is the
// standard ecosystem choice for this and is justified in DESIGN.md.
type gate struct {
	sem     chan struct{}
	limiter *rate.Limiter
}

func newGate(maxInFlight int, requestsPerSecond float64) *gate {
	if maxInFlight < 1 {
		maxInFlight = 1
	}
	g := &gate{sem: make(chan struct{}, maxInFlight)}
	if requestsPerSecond > 0 {
		g.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), 1)
	}
	return g
}

// acquire blocks until a concurrency slot is free and, if rate limiting is
// enabled, until the next token is available. release must be called
// exactly once per successful acquire.
func (g *gate) acquire(ctx context.Context) (release func(), err error) {
	select {
	case g.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			<-g.sem
			return nil, err
		}
	}
	return func() { <-g.sem }, nil
}
