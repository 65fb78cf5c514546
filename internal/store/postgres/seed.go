package postgres

import (
	"context"
	"strings"
	"time"

	"servicedesk/internal/models"
	"servicedesk/internal/store"

	"github.com/google/uuid"
)

var _ store.Seeder = (*Store)(nil)

func (s *Store) UpsertService(ctx context.Context, service models.Service) error {
	if service.ServiceID == "" {
		service.ServiceID = uuid.NewString()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO services (service_id, code, name, active)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (service_id)
		DO UPDATE SET code = EXCLUDED.code, name = EXCLUDED.name, active = EXCLUDED.active
	`, service.ServiceID, strings.ToUpper(service.Code), service.Name, service.Active)
	return classify(err)
}

func (s *Store) UpsertCustomer(ctx context.Context, customer models.Customer) error {
	if customer.CustomerID == "" {
		customer.CustomerID = uuid.NewString()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO customers (customer_id, name, email, phone)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (customer_id)
		DO UPDATE SET name = EXCLUDED.name, email = EXCLUDED.email, phone = EXCLUDED.phone
	`, customer.CustomerID, customer.Name, nullIfEmpty(customer.Email), nullIfEmpty(customer.Phone))
	return classify(err)
}

// UpsertUser keys on email so re-running a bootstrap rotates the password
// instead of failing.
func (s *Store) UpsertUser(ctx context.Context, user models.User) error {
	if user.UserID == "" {
		user.UserID = uuid.NewString()
	}
	created := user.Created
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (user_id, email, name, role, password_hash, active, created_at)
		VALUES ($1, lower($2), $3, $4, $5, $6, $7)
		ON CONFLICT (email)
		DO UPDATE SET name = EXCLUDED.name, role = EXCLUDED.role,
			password_hash = EXCLUDED.password_hash, active = EXCLUDED.active
	`, user.UserID, strings.TrimSpace(user.Email), user.Name, user.RoleName, user.PasswordHash, user.Active, created)
	return classify(err)
}
