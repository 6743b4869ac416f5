package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"eventportal/internal/metrics"
)

// Expirer fails pending records older than ttl and reports how many.
type Expirer interface {
	ExpireStale(ctx context.Context, ttl time.Duration) (int64, error)
}

// Reconciler periodically fails checkouts that were opened and never
// completed.
type Reconciler struct {
	Payments  Expirer
	Donations Expirer
	TTL       time.Duration
	Every     time.Duration
	Log       *zap.Logger
}

// Run sweeps once immediately and then on every tick until ctx ends.
func (r *Reconciler) Run(ctx context.Context) {
	every := r.Every
	if every <= 0 {
		every = 10 * time.Minute
	}
	r.Sweep(ctx)
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep runs one pass over both sides.
func (r *Reconciler) Sweep(ctx context.Context) {
	log := r.Log
	if log == nil {
		log = zap.NewNop()
	}
	ttl := r.TTL
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	sides := []struct {
		kind string
		exp  Expirer
	}{
		{"registration", r.Payments},
		{"donation", r.Donations},
	}
	for _, s := range sides {
		if s.exp == nil {
			continue
		}
		n, err := s.exp.ExpireStale(ctx, ttl)
		if err != nil {
			if ctx.Err() == nil {
				log.Error("expire stale checkouts", zap.String("kind", s.kind), zap.Error(err))
			}
			continue
		}
		if n > 0 {
			metrics.Reconciled.WithLabelValues(s.kind).Add(float64(n))
			log.Info("expired stale checkouts", zap.String("kind", s.kind), zap.Int64("count", n))
		}
	}
}
