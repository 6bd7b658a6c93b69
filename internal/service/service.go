package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Jonnhyortega/controlia-software-sub000/internal/businessday"
	"github.com/Jonnhyortega/controlia-software-sub000/internal/cache"
	"github.com/Jonnhyortega/controlia-software-sub000/internal/domain"
	"github.com/Jonnhyortega/controlia-software-sub000/internal/logger"
	"github.com/Jonnhyortega/controlia-software-sub000/internal/store"
	"github.com/Jonnhyortega/controlia-software-sub000/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

const (
	defaultRegisterCacheTTL = 30 * time.Second
	compensationTimeout     = 15 * time.Second
)

type Service struct {
	repo     store.Repository
	stock    *StockLedger
	cash     *cashAggregator
	days     *businessday.Resolver
	cache    cache.RegisterCache
	cacheTTL time.Duration
	log      logger.Logger
	now      func() time.Time

	// cacheMu orders summary writes against invalidations; cacheGen counts
	// invalidations per owner.
	cacheMu  sync.Mutex
	cacheGen map[string]uint64
}

type Option func(*Service)

// WithClock replaces time.Now, mainly so tests can pin the business day.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func WithRegisterCache(c cache.RegisterCache, ttl time.Duration) Option {
	return func(s *Service) {
		if c != nil {
			s.cache = c
		}
		if ttl > 0 {
			s.cacheTTL = ttl
		}
	}
}

func New(repo store.Repository, days *businessday.Resolver, log logger.Logger, opts ...Option) *Service {
	if log == nil {
		log = logger.Discard()
	}

	s := &Service{
		repo:     repo,
		stock:    NewStockLedger(repo, log),
		cash:     &cashAggregator{registers: repo},
		days:     days,
		cache:    cache.NoopRegisterCache{},
		cacheTTL: defaultRegisterCacheTTL,
		log:      log,
		now:      time.Now,
		cacheGen: make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) clock() time.Time {
	return s.now().UTC()
}

func (s *Service) ListAuditLogs(ctx context.Context, ownerID string, date string, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	from, to, err := s.dayRange(date)
	if err != nil {
		return nil, err
	}
	return s.repo.ListAuditLogs(ctx, ownerID, from, to, limit)
}

// dayRange resolves an optional YYYY-MM-DD to business-day bounds; empty
// means today.
func (s *Service) dayRange(date string) (time.Time, time.Time, error) {
	if strings.TrimSpace(date) == "" {
		from, to := s.days.Range(s.clock())
		return from, to, nil
	}
	from, to, err := s.days.RangeForDate(date)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: %v", store.ErrInvalidTransaction, err)
	}
	return from, to, nil
}

func (s *Service) logAudit(ctx context.Context, ownerID string, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		OwnerID:       ownerID,
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.clock(),
	}); err != nil {
		s.log.Warn("[audit] failed to write audit log", logger.Fields{
			"action": action,
			"entity": entityType + "/" + entityID,
			"error":  err.Error(),
		})
	}
}

// detached returns a context that outlives the caller's cancellation, for
// writes that undo or finish work already committed.
func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
}

func (s *Service) invalidateRegisters(ctx context.Context, ownerID string) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.cacheGen[ownerID]++
	if err := s.cache.Invalidate(ctx, ownerID); err != nil {
		s.log.Warn("[cache] failed to invalidate register summaries", logger.Fields{
			"owner_id": ownerID,
			"error":    err.Error(),
		})
	}
}
