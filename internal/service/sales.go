package service

import (
	"context"
	"errors"
	"fmt"

	"kioskpos/backend/internal/domain"
	"kioskpos/backend/internal/money"
	"kioskpos/backend/internal/sale"
	"kioskpos/backend/internal/store"
)

const (
	defaultSalesLimit = 50
	maxSalesLimit     = 500
)

// CommitSale records a sale for the session's kiosk. Failures are returned
// as *sale.CommitError with an operator-facing message.
func (s *Service) CommitSale(ctx context.Context, session domain.Session, lines []domain.CartLine, meta domain.SaleMetadata) (*domain.Sale, error) {
	if len(lines) > 0 {
		if _, err := s.authorizeKiosk(ctx, session, meta.KioskID); err != nil {
			return nil, &sale.CommitError{Message: "you cannot sell from this kiosk", Err: err}
		}
		if meta.CustomerID != "" {
			if _, err := s.repo.GetCustomer(ctx, meta.CustomerID); err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return nil, &sale.CommitError{Message: "customer not found", Err: err}
				}
				return nil, &sale.CommitError{Message: "could not complete sale", Err: err}
			}
		}
	}

	committed, err := s.engine.CommitSale(ctx, lines, session, meta)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, committed.KioskID)

	s.audit(ctx, session, "sale_commit", committed.ID,
		"kiosk_id", committed.KioskID,
		"total_net", committed.TotalNet.StringFixed(money.Places),
		"commission", committed.TotalCommission.StringFixed(money.Places),
		"payment", committed.PaymentMethod)
	return committed, nil
}

// ListSales returns sales newest first. Vendors only ever see their own.
func (s *Service) ListSales(ctx context.Context, session domain.Session, filter domain.SaleFilter) ([]domain.Sale, error) {
	if !session.IsAdmin() {
		filter.VendorID = session.PrincipalID
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultSalesLimit
	}
	if filter.Limit > maxSalesLimit {
		filter.Limit = maxSalesLimit
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.To.Before(filter.From) {
		return nil, fmt.Errorf("%w: date range ends before it starts", store.ErrInvalidTransaction)
	}
	return s.repo.ListSales(ctx, filter)
}

func (s *Service) GetSale(ctx context.Context, session domain.Session, id string) (domain.Sale, error) {
	found, err := s.repo.GetSale(ctx, id)
	if err != nil {
		return domain.Sale{}, err
	}
	if !session.IsAdmin() && found.VendorID != session.PrincipalID {
		return domain.Sale{}, store.ErrNotFound
	}
	return *found, nil
}
