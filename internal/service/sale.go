package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"quickmart/backend/internal/calc"
	"quickmart/backend/internal/domain"
	"quickmart/backend/internal/store"
	"quickmart/backend/internal/xid"
)

const (
	defaultRecentSales = 10
	maxRecentSales     = 100
)

// ProcessSale commits one sale. Nothing is written unless the whole
// check-decrement-append transition succeeds.
func (s *Service) ProcessSale(ctx context.Context, req domain.SaleRequest) (domain.SaleReceipt, error) {
	ctx = s.actorContext(ctx)
	req.ItemID = strings.TrimSpace(req.ItemID)
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	if req.ItemID == "" {
		return domain.SaleReceipt{}, fmt.Errorf("%w: item_id is required", store.ErrValidation)
	}
	if req.Quantity < 1 {
		s.metrics.ObserveSale(outcome(store.ErrValidation), 0)
		return domain.SaleReceipt{}, fmt.Errorf("%w: quantity must be a positive integer", store.ErrValidation)
	}

	commit, err := s.repo.CommitSale(ctx, domain.SaleCommand{
		SaleID:         xid.New("sale"),
		ItemID:         req.ItemID,
		Quantity:       req.Quantity,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		s.metrics.ObserveSale(outcome(err), 0)
		ctx = s.log.WithFields(ctx, map[string]any{"item_id": req.ItemID, "quantity": req.Quantity})
		if errors.Is(err, store.ErrPersistence) || outcome(err) == "error" {
			s.log.Error(ctx, "sale aborted", err)
		} else {
			s.log.Warn(ctx, "sale rejected: "+err.Error())
		}
		return domain.SaleReceipt{}, err
	}

	if commit.Duplicate {
		s.metrics.ObserveSale("duplicate", 0)
	} else {
		s.metrics.ObserveSale("committed", commit.Record.QuantitySold)
	}
	return s.receipt(commit), nil
}

func (s *Service) receipt(commit *domain.SaleCommit) domain.SaleReceipt {
	rec := commit.Record
	return domain.SaleReceipt{
		SaleID:       rec.ID,
		ItemID:       rec.ItemID,
		ItemName:     commit.ItemName,
		Quantity:     rec.QuantitySold,
		Category:     rec.CategorySnapshot,
		Unit:         rec.UnitSnapshot,
		UnitPrice:    rec.UnitPriceAtSale,
		TotalPrice:   rec.TotalPrice,
		TotalDisplay: s.formatAmount(rec.TotalPrice),
		SoldAt:       rec.Timestamp.In(s.loc).Format(time.RFC3339),
		Duplicate:    commit.Duplicate,
	}
}

// RecentSales lists the newest sales first for the till's history panel.
func (s *Service) RecentSales(ctx context.Context, limit int) ([]domain.RecentSale, error) {
	if limit < 1 {
		limit = defaultRecentSales
	}
	if limit > maxRecentSales {
		limit = maxRecentSales
	}
	sales, err := s.repo.RecentSales(ctx, limit)
	if err != nil {
		return nil, err
	}
	for i := range sales {
		sales[i].Timestamp = sales[i].Timestamp.In(s.loc)
	}
	return sales, nil
}

func (s *Service) Calculate(_ context.Context, req domain.CalculatorRequest) (domain.CalculatorResponse, error) {
	result, err := calc.Eval(req.Expression)
	if err != nil {
		return domain.CalculatorResponse{}, fmt.Errorf("%w: %v", store.ErrValidation, err)
	}
	return domain.CalculatorResponse{Expression: req.Expression, Result: result}, nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "committed"
	case errors.Is(err, store.ErrValidation):
		return "validation"
	case errors.Is(err, store.ErrNotFound):
		return "not_found"
	case errors.Is(err, store.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, store.ErrPersistence):
		return "persistence"
	default:
		return "error"
	}
}
