package service

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"kioskpos/backend/internal/domain"
	"kioskpos/backend/internal/store"
)

const unknownProductName = "Unknown product"

// KioskInventory joins the kiosk's inventory records with their products.
// A record whose product is gone is shown as an unknown-product placeholder.
func (s *Service) KioskInventory(ctx context.Context, session domain.Session, kioskID string) ([]domain.InventoryItemView, error) {
	if _, err := s.authorizeKiosk(ctx, session, kioskID); err != nil {
		return nil, err
	}

	if items, ok, err := s.cache.Get(ctx, kioskID); err != nil {
		s.logger.WarnContext(ctx, "inventory cache read failed", "kiosk_id", kioskID, "error", err)
	} else if ok {
		return items, nil
	}

	gen := s.generation(kioskID)
	items, err := s.loadInventoryView(ctx, kioskID)
	if err != nil {
		return nil, err
	}
	if s.generation(kioskID) != gen {
		// a commit or replenishment landed while loading
		return items, nil
	}
	if err := s.cache.Set(ctx, kioskID, items, s.cacheTTL); err != nil {
		s.logger.WarnContext(ctx, "inventory cache write failed", "kiosk_id", kioskID, "error", err)
	}
	if s.generation(kioskID) != gen {
		// invalidated between the check and the Set; drop what was just written
		s.dropCached(ctx, kioskID)
	}
	return items, nil
}

func (s *Service) loadInventoryView(ctx context.Context, kioskID string) ([]domain.InventoryItemView, error) {
	records, err := s.repo.ListInventoryByKiosk(ctx, kioskID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(records))
	for _, rec := range records {
		ids = append(ids, rec.ProductID)
	}
	products, err := s.repo.GetProductsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	items := make([]domain.InventoryItemView, 0, len(records))
	for _, rec := range records {
		item := domain.InventoryItemView{
			RecordID:  rec.ID,
			KioskID:   rec.KioskID,
			ProductID: rec.ProductID,
			Quantity:  rec.Quantity,
		}
		if p, ok := products[rec.ProductID]; ok {
			item.Name = p.Name
			item.SKU = p.SKU
			item.Category = p.Category
			item.Material = p.Material
			item.SellPrice = p.SellPrice
			item.CommissionRate = p.CommissionRate
		} else {
			item.Name = unknownProductName
			item.Unknown = true
		}
		items = append(items, item)
	}
	return items, nil
}

// Replenish adds stock of a product at a kiosk, creating the record on first
// delivery. The kiosk's total stock may not exceed its capacity.
func (s *Service) Replenish(ctx context.Context, session domain.Session, kioskID string, req domain.ReplenishRequest) (domain.InventoryRecord, error) {
	if err := requireAdmin(session); err != nil {
		return domain.InventoryRecord{}, err
	}
	req.ProductID = strings.TrimSpace(req.ProductID)
	if req.ProductID == "" || req.Quantity < 1 {
		return domain.InventoryRecord{}, store.ErrInvalidTransaction
	}

	kiosk, err := s.repo.GetKiosk(ctx, kioskID)
	if err != nil {
		return domain.InventoryRecord{}, err
	}
	product, err := s.repo.GetProduct(ctx, req.ProductID)
	if err != nil {
		return domain.InventoryRecord{}, err
	}
	if !product.Active {
		return domain.InventoryRecord{}, fmt.Errorf("%w: product %s is inactive", store.ErrInvalidTransaction, product.SKU)
	}
	existing, err := s.repo.ListInventoryByKiosk(ctx, kioskID)
	if err != nil {
		return domain.InventoryRecord{}, err
	}

	targetID := domain.InventoryRecordID(kioskID, req.ProductID)
	var result domain.InventoryRecord
	err = s.repo.RunAtomic(ctx, func(ctx context.Context, tx store.Tx) error {
		total := 0
		for _, rec := range existing {
			if rec.ID == targetID {
				continue
			}
			current, err := tx.GetInventory(ctx, rec.ID)
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			total += current.Quantity
		}

		target, err := tx.GetInventory(ctx, targetID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			target = &domain.InventoryRecord{ID: targetID, KioskID: kioskID, ProductID: req.ProductID}
		case err != nil:
			return err
		}

		if total+target.Quantity+req.Quantity > kiosk.Capacity {
			return fmt.Errorf("%w: kiosk %s holds at most %d items (now %d)",
				store.ErrInvalidTransaction, kiosk.Code, kiosk.Capacity, total+target.Quantity)
		}
		target.Quantity += req.Quantity
		result = *target
		return tx.PutInventory(ctx, *target)
	})
	if err != nil {
		return domain.InventoryRecord{}, err
	}
	s.invalidate(ctx, kioskID)

	s.audit(ctx, session, "inventory_replenish", targetID, "quantity", req.Quantity, "new_quantity", result.Quantity)
	return result, nil
}

// RemoveInventory withdraws a product from a kiosk. Open carts holding it
// fail at checkout with a not-found error naming the product.
func (s *Service) RemoveInventory(ctx context.Context, session domain.Session, kioskID string, productID string) error {
	if err := requireAdmin(session); err != nil {
		return err
	}
	id := domain.InventoryRecordID(kioskID, productID)
	if err := s.repo.DeleteInventory(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx, kioskID)
	s.audit(ctx, session, "inventory_remove", id)
	return nil
}

// StockOverview totals stock per product across kiosks, including products
// with no stock anywhere.
func (s *Service) StockOverview(ctx context.Context, session domain.Session) ([]domain.StockOverviewItem, error) {
	if err := requireAdmin(session); err != nil {
		return nil, err
	}
	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	records, err := s.repo.ListInventory(ctx)
	if err != nil {
		return nil, err
	}

	byProduct := make(map[string]*domain.StockOverviewItem, len(products))
	for _, p := range products {
		byProduct[p.ID] = &domain.StockOverviewItem{ProductID: p.ID, SKU: p.SKU, Name: p.Name, ByKiosk: map[string]int{}}
	}
	for _, rec := range records {
		item, ok := byProduct[rec.ProductID]
		if !ok {
			item = &domain.StockOverviewItem{ProductID: rec.ProductID, Name: unknownProductName, ByKiosk: map[string]int{}}
			byProduct[rec.ProductID] = item
		}
		item.Total += rec.Quantity
		item.ByKiosk[rec.KioskID] += rec.Quantity
	}

	overview := make([]domain.StockOverviewItem, 0, len(byProduct))
	for _, item := range byProduct {
		overview = append(overview, *item)
	}
	slices.SortFunc(overview, func(a, b domain.StockOverviewItem) int {
		if c := cmp.Compare(a.SKU, b.SKU); c != 0 {
			return c
		}
		return cmp.Compare(a.ProductID, b.ProductID)
	})
	return overview, nil
}

// invalidate bumps the kiosk's generation before dropping its cached view, so
// loads that started earlier never write their result back.
func (s *Service) invalidate(ctx context.Context, kioskID string) {
	s.genMu.Lock()
	s.generations[kioskID]++
	s.genMu.Unlock()
	s.dropCached(ctx, kioskID)
}

func (s *Service) dropCached(ctx context.Context, kioskID string) {
	if err := s.cache.Invalidate(ctx, kioskID); err != nil {
		s.logger.WarnContext(ctx, "inventory cache invalidation failed", "kiosk_id", kioskID, "error", err)
	}
}

func (s *Service) generation(kioskID string) uint64 {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	return s.generations[kioskID]
}

// invalidateAll drops every kiosk view, used when catalog data shown in the
// views changes.
func (s *Service) invalidateAll(ctx context.Context) {
	kiosks, err := s.repo.ListKiosks(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "list kiosks for cache invalidation", "error", err)
		return
	}
	for _, k := range kiosks {
		s.invalidate(ctx, k.ID)
	}
}
