package service

import (
	"context"
	"net/mail"
	"strings"

	"kioskpos/backend/internal/domain"
	"kioskpos/backend/internal/store"
	"kioskpos/backend/internal/xid"
)

const maxCustomerResults = 20

func (s *Service) CreateCustomer(ctx context.Context, session domain.Session, req domain.CustomerCreateRequest) (domain.Customer, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.WhatsApp = normalizePhone(req.WhatsApp)

	if req.Name == "" {
		return domain.Customer{}, store.ErrInvalidTransaction
	}
	if req.Email != "" {
		if _, err := mail.ParseAddress(req.Email); err != nil {
			return domain.Customer{}, store.ErrInvalidTransaction
		}
	}

	created, err := s.repo.CreateCustomer(ctx, domain.Customer{
		ID:       xid.New("cus"),
		Name:     req.Name,
		Email:    req.Email,
		WhatsApp: req.WhatsApp,
	})
	if err != nil {
		return domain.Customer{}, err
	}
	s.audit(ctx, session, "customer_create", created.ID)
	return *created, nil
}

// SearchCustomers matches customers whose name starts with prefix, ignoring case.
func (s *Service) SearchCustomers(ctx context.Context, prefix string, limit int) ([]domain.Customer, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return []domain.Customer{}, nil
	}
	if limit <= 0 || limit > maxCustomerResults {
		limit = maxCustomerResults
	}
	return s.repo.SearchCustomers(ctx, prefix, limit)
}

// normalizePhone keeps digits and a leading plus sign.
func normalizePhone(raw string) string {
	raw = strings.TrimSpace(raw)
	var b strings.Builder
	for i, r := range raw {
		if (r == '+' && i == 0) || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
