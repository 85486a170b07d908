package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"quickmart/backend/internal/cache"
	"quickmart/backend/internal/domain"
	"quickmart/backend/internal/logger"
	"quickmart/backend/internal/metrics"
	"quickmart/backend/internal/store"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

const DefaultLowStockThreshold = 5

type Options struct {
	Location          *time.Location
	Currency          string
	// LowStockThreshold flags items at or below this level; nil means
	// DefaultLowStockThreshold and zero flags only sold-out items.
	LowStockThreshold *int
	Cache             cache.ReportCache
	CacheTTL          time.Duration
	Metrics           *metrics.POSMetrics
	Logger            *logger.Logger
}

type Service struct {
	repo              store.Repository
	loc               *time.Location
	currency          string
	lowStockThreshold int
	cache             cache.ReportCache
	cacheTTL          time.Duration
	metrics           *metrics.POSMetrics
	log               *logger.Logger
	reports           singleflight.Group
}

func New(repo store.Repository, opts Options) *Service {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Currency == "" {
		opts.Currency = "UGX"
	}
	lowStock := DefaultLowStockThreshold
	if opts.LowStockThreshold != nil && *opts.LowStockThreshold >= 0 {
		lowStock = *opts.LowStockThreshold
	}
	if opts.Cache == nil {
		opts.Cache = cache.NoopReportCache{}
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}

	return &Service{
		repo:              repo,
		loc:               opts.Location,
		currency:          strings.ToUpper(opts.Currency),
		lowStockThreshold: lowStock,
		cache:             opts.Cache,
		cacheTTL:          opts.CacheTTL,
		metrics:           opts.Metrics,
		log:               opts.Logger,
	}
}

// Location is the business timezone.
func (s *Service) Location() *time.Location {
	return s.loc
}

// ParseDateRange turns optional YYYY-MM-DD bounds into an inclusive range in
// the business timezone. The upper bound covers the whole of its day.
func (s *Service) ParseDateRange(from string, to string) (domain.DateRange, error) {
	var rng domain.DateRange
	if from = strings.TrimSpace(from); from != "" {
		day, err := time.ParseInLocation("2006-01-02", from, s.loc)
		if err != nil {
			return domain.DateRange{}, fmt.Errorf("%w: from must be YYYY-MM-DD", store.ErrValidation)
		}
		rng.From = day
	}
	if to = strings.TrimSpace(to); to != "" {
		day, err := time.ParseInLocation("2006-01-02", to, s.loc)
		if err != nil {
			return domain.DateRange{}, fmt.Errorf("%w: to must be YYYY-MM-DD", store.ErrValidation)
		}
		rng.To = day.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}
	if !rng.From.IsZero() && !rng.To.IsZero() && rng.To.Before(rng.From) {
		return domain.DateRange{}, fmt.Errorf("%w: from is after to", store.ErrValidation)
	}
	return rng, nil
}

// formatAmount renders amount in the business currency, e.g. "20,000 USh".
func (s *Service) formatAmount(amount decimal.Decimal) string {
	cur := money.GetCurrency(s.currency)
	if cur == nil {
		return amount.StringFixed(2) + " " + s.currency
	}
	factor, _ := decimal.NewFromInt(10).PowInt32(int32(cur.Fraction))
	return money.New(amount.Mul(factor).Round(0).IntPart(), s.currency).Display()
}

func (s *Service) actorContext(ctx context.Context) context.Context {
	if actor, ok := ActorFromContext(ctx); ok {
		return s.log.WithActor(ctx, actor.Username, actor.Role)
	}
	return ctx
}
