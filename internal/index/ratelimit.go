package index

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimited throttles calls to an Embedder.
type RateLimited struct {
	next    Embedder
	limiter *rate.Limiter
}

// NewRateLimited wraps next with a limiter of perSecond calls. A
// non-positive rate returns next unchanged.
func NewRateLimited(next Embedder, perSecond float64, burst int) Embedder {
	if perSecond <= 0 {
		return next
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{next: next, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (r *RateLimited) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.next.Embed(ctx, text)
}
