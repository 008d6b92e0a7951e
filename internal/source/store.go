// Package source serves a development copy of the remote customer
// directory: the same routes, envelopes and error bodies the dashboard
// consumes in production.
package source

import (
	"context"
	"errors"

	"github.com/jogardn/customer-directory/pkg/models"
)

var ErrNotFound = errors.New("customer not found")

// Store is read-only. ListCustomers returns summaries without orders;
// GetCustomer returns the customer with nested orders, items and products.
type Store interface {
	ListCustomers(ctx context.Context, skip, limit int) ([]models.Customer, error)
	GetCustomer(ctx context.Context, id int64) (models.Customer, error)
}
