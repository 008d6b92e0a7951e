package source

import (
	"context"
	"sort"
	"strconv"
	"sync"

	"github.com/jogardn/customer-directory/pkg/models"
	"github.com/shopspring/decimal"
)

type MemoryStore struct {
	mutex     sync.RWMutex
	customers map[int64]models.Customer
}

func NewMemoryStore(customers ...models.Customer) *MemoryStore {
	s := &MemoryStore{customers: make(map[int64]models.Customer)}
	for _, c := range customers {
		id, err := strconv.ParseInt(c.ID.String(), 10, 64)
		if err != nil {
			continue
		}
		c.OrdersCount = len(c.Orders)
		for i := range c.Orders {
			n := len(c.Orders[i].Items)
			c.Orders[i].ItemCount = &n
		}
		s.customers[id] = c
	}
	return s
}

func (s *MemoryStore) ListCustomers(ctx context.Context, skip, limit int) ([]models.Customer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if skip < 0 {
		skip = 0
	}

	s.mutex.RLock()
	ids := make([]int64, 0, len(s.customers))
	for id := range s.customers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	result := []models.Customer{}
	for i := skip; i < len(ids) && len(result) < limit; i++ {
		c := s.customers[ids[i]]
		c.PhoneNumber = ""
		c.CreatedAt = ""
		c.Orders = nil
		result = append(result, c)
	}
	s.mutex.RUnlock()

	return result, nil
}

func (s *MemoryStore) GetCustomer(ctx context.Context, id int64) (models.Customer, error) {
	if err := ctx.Err(); err != nil {
		return models.Customer{}, err
	}

	s.mutex.RLock()
	defer s.mutex.RUnlock()

	c, ok := s.customers[id]
	if !ok {
		return models.Customer{}, ErrNotFound
	}
	return c, nil
}

// SeedCustomers is the fixture the mock serves when no database is
// configured.
func SeedCustomers() []models.Customer {
	keyboard := &models.Product{Name: "Mechanical Keyboard"}
	mouse := &models.Product{Name: "Wireless Mouse"}
	monitor := &models.Product{Name: "27in Monitor"}
	cable := &models.Product{Name: "USB-C Cable"}

	return []models.Customer{
		{
			ID: "1", FirstName: "Ann", LastName: "Lee", Email: "ann.lee@example.com",
			PhoneNumber: "555-0101", CreatedAt: "2023-01-15T10:30:00",
			Orders: []models.Order{
				{
					ID: "101", Status: "completed", CreatedAt: "2023-02-01T09:00:00", UpdatedAt: "2023-02-03T12:00:00",
					Items: []models.Item{
						{ID: "1001", Quantity: 2, Price: decimal.RequireFromString("5.00"), Product: keyboard},
						{ID: "1002", Quantity: 1, Price: decimal.RequireFromString("7.00"), Product: mouse},
					},
				},
				{
					ID: "102", Status: "pending", CreatedAt: "2023-03-12T14:45:00", UpdatedAt: "2023-03-12T14:45:00",
					Items: []models.Item{
						{ID: "1003", Quantity: 3, Price: decimal.RequireFromString("4.99"), Product: cable},
					},
				},
			},
		},
		{
			ID: "2", FirstName: "Bob", LastName: "Hanson", Email: "bob@x.io",
			PhoneNumber: "555-0102", CreatedAt: "2023-04-02T08:15:00",
			Orders: []models.Order{
				{
					ID: "103", Status: "cancelled", CreatedAt: "2023-04-05T16:20:00", UpdatedAt: "2023-04-06T10:00:00",
					Items: []models.Item{
						{ID: "1004", Quantity: 1, Price: decimal.RequireFromString("219.99"), Product: monitor},
					},
				},
			},
		},
		{
			ID: "3", FirstName: "Carla", LastName: "Mendes", Email: "carla.mendes@example.org",
			CreatedAt: "2023-06-20T19:05:00",
		},
		{
			ID: "4", FirstName: "Dmitri", LastName: "Ivanov", Email: "d.ivanov@example.net",
			PhoneNumber: "555-0104", CreatedAt: "2023-08-09T11:40:00",
			Orders: []models.Order{
				{ID: "104", Status: "shipped", CreatedAt: "2023-08-10T13:00:00", UpdatedAt: "2023-08-11T09:30:00"},
			},
		},
	}
}
