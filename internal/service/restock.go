package service

import (
	"context"
	"fmt"
	"strings"

	"quickmart/backend/internal/domain"
	"quickmart/backend/internal/store"
)

// Restock adds stock to an item. The on-hand increment and the restock
// adjustment are committed together by the repository.
func (s *Service) Restock(ctx context.Context, itemID string, req domain.RestockRequest) (domain.StockLevelView, error) {
	ctx = s.actorContext(ctx)
	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		return domain.StockLevelView{}, store.ErrNotFound
	}
	if req.Quantity < 1 {
		s.metrics.ObserveRestock(outcome(store.ErrValidation))
		return domain.StockLevelView{}, fmt.Errorf("%w: quantity must be a positive integer", store.ErrValidation)
	}

	view, err := s.repo.ApplyRestock(ctx, itemID, req.Quantity)
	if err != nil {
		s.metrics.ObserveRestock(outcome(err))
		s.log.Error(s.log.WithFields(ctx, map[string]any{"item_id": itemID, "quantity": req.Quantity}), "restock failed", err)
		return domain.StockLevelView{}, err
	}
	s.metrics.ObserveRestock("committed")

	view.LowStock = view.CurrentLevel <= s.lowStockThreshold
	s.log.Info(s.log.WithFields(ctx, map[string]any{
		"item_id":       itemID,
		"quantity":      req.Quantity,
		"current_level": view.CurrentLevel,
	}), "item restocked")
	return *view, nil
}
