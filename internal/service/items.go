package service

import (
	"context"
	"fmt"
	"strings"

	"quickmart/backend/internal/domain"
	"quickmart/backend/internal/store"
)

func (s *Service) ListItems(ctx context.Context) ([]domain.Item, error) {
	return s.repo.ListItems(ctx)
}

// CreateItem adds an item to the catalog. A positive initial quantity is
// recorded as an intake adjustment together with the item.
func (s *Service) CreateItem(ctx context.Context, req domain.ItemCreateRequest) (domain.Item, error) {
	ctx = s.actorContext(ctx)
	item := domain.Item{
		Name:      strings.TrimSpace(req.Name),
		Category:  strings.TrimSpace(req.Category),
		Unit:      strings.TrimSpace(req.Unit),
		UnitPrice: req.UnitPrice,
	}
	if item.Name == "" || item.Unit == "" {
		return domain.Item{}, fmt.Errorf("%w: name and unit are required", store.ErrValidation)
	}
	if !item.UnitPrice.IsPositive() {
		return domain.Item{}, fmt.Errorf("%w: unit_price must be positive", store.ErrValidation)
	}
	if req.InitialQuantity < 0 {
		return domain.Item{}, fmt.Errorf("%w: initial_quantity must not be negative", store.ErrValidation)
	}

	created, err := s.repo.CreateItem(ctx, item, req.InitialQuantity)
	if err != nil {
		return domain.Item{}, err
	}
	s.log.Info(s.log.WithFields(ctx, map[string]any{"item_id": created.ID, "initial_quantity": req.InitialQuantity}), "item created")
	return *created, nil
}

// UpdateItem changes descriptive fields and price. Quantity only moves
// through sales and restocks.
func (s *Service) UpdateItem(ctx context.Context, itemID string, req domain.ItemUpdateRequest) (domain.Item, error) {
	ctx = s.actorContext(ctx)
	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		return domain.Item{}, store.ErrNotFound
	}

	existing, err := s.repo.GetItem(ctx, itemID)
	if err != nil {
		return domain.Item{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Item{}, fmt.Errorf("%w: name must not be empty", store.ErrValidation)
		}
		updated.Name = name
	}
	if req.Category != nil {
		updated.Category = strings.TrimSpace(*req.Category)
	}
	if req.Unit != nil {
		unit := strings.TrimSpace(*req.Unit)
		if unit == "" {
			return domain.Item{}, fmt.Errorf("%w: unit must not be empty", store.ErrValidation)
		}
		updated.Unit = unit
	}
	if req.UnitPrice != nil {
		if !req.UnitPrice.IsPositive() {
			return domain.Item{}, fmt.Errorf("%w: unit_price must be positive", store.ErrValidation)
		}
		updated.UnitPrice = *req.UnitPrice
	}

	saved, err := s.repo.UpdateItem(ctx, updated)
	if err != nil {
		return domain.Item{}, err
	}
	if !saved.UnitPrice.Equal(existing.UnitPrice) {
		s.log.Info(s.log.WithFields(ctx, map[string]any{
			"item_id":   saved.ID,
			"old_price": existing.UnitPrice.String(),
			"new_price": saved.UnitPrice.String(),
		}), "item price changed")
	}
	return *saved, nil
}
