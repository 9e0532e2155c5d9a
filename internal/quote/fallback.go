package quote

import (
	"context"

	"stock-alert/internal/models"
)

// Fallback tries the primary provider and, when it fails, the secondary.
// Each quote keeps the source of the provider that produced it.
type Fallback struct {
	primary   Provider
	secondary Provider
}

// NewFallback composes two providers.
func NewFallback(primary, secondary Provider) *Fallback {
	return &Fallback{primary: primary, secondary: secondary}
}

func (f *Fallback) Name() string {
	return f.primary.Name() + "_then_" + f.secondary.Name()
}

func (f *Fallback) Ready() bool {
	return f.primary.Ready() || f.secondary.Ready()
}

// Fetch returns the first successful quote. When both fail the secondary
// error is reported, unless the secondary was never usable.
func (f *Fallback) Fetch(ctx context.Context, ticker string) (*models.Quote, error) {
	q, err := f.primary.Fetch(ctx, ticker)
	if err == nil {
		return q, nil
	}
	if !f.secondary.Ready() || ctx.Err() != nil {
		return nil, err
	}

	q2, err2 := f.secondary.Fetch(ctx, ticker)
	if err2 == nil {
		return q2, nil
	}
	return nil, err2
}
