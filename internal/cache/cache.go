package cache

import (
	"context"
	"time"

	"github.com/Jonnhyortega/controlia-software-sub000/internal/domain"
)

// RegisterCache holds each owner's register summary list. Writers that touch
// a register call Invalidate; a stale read is bounded by the TTL.
type RegisterCache interface {
	GetSummaries(ctx context.Context, ownerID string) ([]domain.RegisterSummary, bool, error)
	SetSummaries(ctx context.Context, ownerID string, summaries []domain.RegisterSummary, ttl time.Duration) error
	Invalidate(ctx context.Context, ownerID string) error
}

type NoopRegisterCache struct{}

func (NoopRegisterCache) GetSummaries(_ context.Context, _ string) ([]domain.RegisterSummary, bool, error) {
	return nil, false, nil
}

func (NoopRegisterCache) SetSummaries(_ context.Context, _ string, _ []domain.RegisterSummary, _ time.Duration) error {
	return nil
}

func (NoopRegisterCache) Invalidate(_ context.Context, _ string) error {
	return nil
}
