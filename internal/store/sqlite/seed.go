package sqlite

import (
	"context"
	"strings"
	"time"

	"servicedesk/internal/models"

	"github.com/google/uuid"
)

func (s *Store) UpsertService(ctx context.Context, service models.Service) error {
	if service.ServiceID == "" {
		service.ServiceID = uuid.NewString()
	}
	row := serviceRow{
		ServiceID: service.ServiceID,
		Code:      strings.ToUpper(service.Code),
		Name:      service.Name,
		Active:    service.Active,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.db.NewInsert().
		Model(&row).
		On("CONFLICT (service_id) DO UPDATE").
		Set("code = EXCLUDED.code").
		Set("name = EXCLUDED.name").
		Set("active = EXCLUDED.active").
		Exec(ctx)
	return classify(err)
}

func (s *Store) UpsertCustomer(ctx context.Context, customer models.Customer) error {
	if customer.CustomerID == "" {
		customer.CustomerID = uuid.NewString()
	}
	row := customerRow{
		CustomerID: customer.CustomerID,
		Name:       customer.Name,
		Email:      customer.Email,
		Phone:      customer.Phone,
		CreatedAt:  time.Now().UTC(),
	}
	_, err := s.db.NewInsert().
		Model(&row).
		On("CONFLICT (customer_id) DO UPDATE").
		Set("name = EXCLUDED.name").
		Set("email = EXCLUDED.email").
		Set("phone = EXCLUDED.phone").
		Exec(ctx)
	return classify(err)
}

func (s *Store) UpsertUser(ctx context.Context, user models.User) error {
	if user.UserID == "" {
		user.UserID = uuid.NewString()
	}
	created := user.Created
	if created.IsZero() {
		created = time.Now().UTC()
	}
	row := userRow{
		UserID:       user.UserID,
		Email:        strings.ToLower(strings.TrimSpace(user.Email)),
		Name:         user.Name,
		Role:         user.RoleName,
		PasswordHash: user.PasswordHash,
		Active:       user.Active,
		CreatedAt:    created,
	}
	_, err := s.db.NewInsert().
		Model(&row).
		On("CONFLICT (email) DO UPDATE").
		Set("name = EXCLUDED.name").
		Set("role = EXCLUDED.role").
		Set("password_hash = EXCLUDED.password_hash").
		Set("active = EXCLUDED.active").
		Exec(ctx)
	return classify(err)
}
