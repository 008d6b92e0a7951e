package source

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jogardn/customer-directory/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// timestampLayout matches the naive ISO timestamps the directory API emits.
const timestampLayout = "2006-01-02T15:04:05"

type PostgresStore struct {
	db     *sql.DB
	logger *logrus.Logger
}

func NewPostgresStore(db *sql.DB, logger *logrus.Logger) *PostgresStore {
	return &PostgresStore{db: db, logger: logger}
}

// WaitForDatabase pings until the database answers or attempts run out.
func WaitForDatabase(ctx context.Context, db *sql.DB, attempts int, delay time.Duration, logger *logrus.Logger) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = db.PingContext(ctx); err == nil {
			logger.Info("Database connection established")
			return nil
		}
		logger.WithField("attempt", i+1).Info("Waiting for database...")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("database not ready after %d attempts: %w", attempts, err)
}

func CreateTables(ctx context.Context, db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id SERIAL PRIMARY KEY,
			first_name VARCHAR(100),
			last_name VARCHAR(100),
			email VARCHAR(255) NOT NULL UNIQUE,
			phone_number VARCHAR(50),
			created_at TIMESTAMP DEFAULT NOW(),
			updated_at TIMESTAMP DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS products (
			id SERIAL PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			category VARCHAR(100),
			price DECIMAL(10,2) NOT NULL,
			description TEXT,
			created_at TIMESTAMP DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS orders (
			id SERIAL PRIMARY KEY,
			user_id INTEGER NOT NULL REFERENCES users(id),
			status VARCHAR(50),
			created_at TIMESTAMP DEFAULT NOW(),
			updated_at TIMESTAMP DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS order_items (
			id SERIAL PRIMARY KEY,
			order_id INTEGER NOT NULL REFERENCES orders(id),
			product_id INTEGER NOT NULL REFERENCES products(id),
			quantity INTEGER NOT NULL DEFAULT 1,
			price DECIMAL(10,2) NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_user_id ON orders(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_order_items_order_id ON order_items(order_id)`,
	}

	for _, query := range queries {
		if _, err := db.ExecContext(ctx, query); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) ListCustomers(ctx context.Context, skip, limit int) ([]models.Customer, error) {
	query := `
		SELECT u.id, u.first_name, u.last_name, u.email,
			(SELECT COUNT(*) FROM orders o WHERE o.user_id = u.id)
		FROM users u ORDER BY u.id OFFSET $1 LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, query, skip, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list customers: %w", err)
	}
	defer rows.Close()

	customers := []models.Customer{}
	for rows.Next() {
		var (
			c                   models.Customer
			id                  int64
			firstName, lastName sql.NullString
		)
		if err := rows.Scan(&id, &firstName, &lastName, &c.Email, &c.OrdersCount); err != nil {
			return nil, fmt.Errorf("failed to scan customer: %w", err)
		}
		c.ID = models.ID(strconv.FormatInt(id, 10))
		c.FirstName = firstName.String
		c.LastName = lastName.String
		customers = append(customers, c)
	}
	return customers, rows.Err()
}

func (s *PostgresStore) GetCustomer(ctx context.Context, id int64) (models.Customer, error) {
	var (
		c                          models.Customer
		firstName, lastName, phone sql.NullString
		createdAt                  sql.NullTime
	)

	query := `
		SELECT first_name, last_name, email, phone_number, created_at
		FROM users WHERE id = $1
	`
	err := s.db.QueryRowContext(ctx, query, id).Scan(&firstName, &lastName, &c.Email, &phone, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Customer{}, ErrNotFound
	}
	if err != nil {
		return models.Customer{}, fmt.Errorf("failed to get customer %d: %w", id, err)
	}

	c.ID = models.ID(strconv.FormatInt(id, 10))
	c.FirstName = firstName.String
	c.LastName = lastName.String
	c.PhoneNumber = phone.String
	c.CreatedAt = formatTimestamp(createdAt)

	orders, err := s.ordersFor(ctx, id)
	if err != nil {
		return models.Customer{}, err
	}
	c.Orders = orders
	c.OrdersCount = len(orders)

	return c, nil
}

func (s *PostgresStore) ordersFor(ctx context.Context, userID int64) ([]models.Order, error) {
	query := `
		SELECT id, status, created_at, updated_at
		FROM orders WHERE user_id = $1 ORDER BY created_at, id
	`
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	defer rows.Close()

	var orders []models.Order
	index := make(map[int64]int)
	for rows.Next() {
		var (
			o                    models.Order
			id                   int64
			status               sql.NullString
			createdAt, updatedAt sql.NullTime
		)
		if err := rows.Scan(&id, &status, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		o.ID = models.ID(strconv.FormatInt(id, 10))
		o.Status = status.String
		o.CreatedAt = formatTimestamp(createdAt)
		o.UpdatedAt = formatTimestamp(updatedAt)
		index[id] = len(orders)
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return orders, nil
	}

	itemsQuery := `
		SELECT oi.id, oi.order_id, oi.quantity, oi.price, p.name
		FROM order_items oi
		JOIN orders o ON o.id = oi.order_id
		LEFT JOIN products p ON p.id = oi.product_id
		WHERE o.user_id = $1 ORDER BY oi.id
	`
	itemRows, err := s.db.QueryContext(ctx, itemsQuery, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list order items: %w", err)
	}
	defer itemRows.Close()

	for itemRows.Next() {
		var (
			item          models.Item
			itemID, owner int64
			price         decimal.Decimal
			productName   sql.NullString
		)
		if err := itemRows.Scan(&itemID, &owner, &item.Quantity, &price, &productName); err != nil {
			return nil, fmt.Errorf("failed to scan order item: %w", err)
		}
		item.ID = models.ID(strconv.FormatInt(itemID, 10))
		item.Price = price
		if productName.Valid {
			item.Product = &models.Product{Name: productName.String}
		}

		i := index[owner]
		orders[i].Items = append(orders[i].Items, item)
	}
	if err := itemRows.Err(); err != nil {
		return nil, err
	}

	for i := range orders {
		n := len(orders[i].Items)
		orders[i].ItemCount = &n
	}
	return orders, nil
}

func formatTimestamp(t sql.NullTime) string {
	if !t.Valid {
		return ""
	}
	return t.Time.Format(timestampLayout)
}

// SeedIfEmpty loads customers into an empty users table in one transaction.
func SeedIfEmpty(ctx context.Context, db *sql.DB, customers []models.Customer) (bool, error) {
	var count int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
		return false, err
	}
	if count > 0 {
		return false, nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	products := make(map[string]int64)
	for _, c := range customers {
		var userID int64
		err := tx.QueryRowContext(ctx, `
			INSERT INTO users (first_name, last_name, email, phone_number, created_at)
			VALUES ($1, $2, $3, NULLIF($4, ''), $5) RETURNING id
		`, c.FirstName, c.LastName, c.Email, c.PhoneNumber, parseTimestamp(c.CreatedAt)).Scan(&userID)
		if err != nil {
			return false, fmt.Errorf("failed to insert customer %s: %w", c.Email, err)
		}

		for _, o := range c.Orders {
			var orderID int64
			err := tx.QueryRowContext(ctx, `
				INSERT INTO orders (user_id, status, created_at, updated_at)
				VALUES ($1, $2, $3, $4) RETURNING id
			`, userID, o.Status, parseTimestamp(o.CreatedAt), parseTimestamp(o.UpdatedAt)).Scan(&orderID)
			if err != nil {
				return false, fmt.Errorf("failed to insert order: %w", err)
			}

			for _, item := range o.Items {
				name := "Unknown product"
				if item.Product != nil {
					name = item.Product.Name
				}
				productID, ok := products[name]
				if !ok {
					err := tx.QueryRowContext(ctx, `
						INSERT INTO products (name, price) VALUES ($1, $2) RETURNING id
					`, name, item.Price).Scan(&productID)
					if err != nil {
						return false, fmt.Errorf("failed to insert product %s: %w", name, err)
					}
					products[name] = productID
				}

				_, err := tx.ExecContext(ctx, `
					INSERT INTO order_items (order_id, product_id, quantity, price)
					VALUES ($1, $2, $3, $4)
				`, orderID, productID, item.Quantity, item.Price)
				if err != nil {
					return false, fmt.Errorf("failed to insert order item: %w", err)
				}
			}
		}
	}

	return true, tx.Commit()
}

func parseTimestamp(raw string) sql.NullTime {
	t, err := time.Parse(timestampLayout, raw)
	if err != nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}
