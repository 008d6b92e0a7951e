// Package viewmodel turns raw directory payloads into display-ready values.
// Every function here is pure and total: missing fields degrade to empty
// strings, zero counts and a "0.00" total.
package viewmodel

import (
	"fmt"

	"github.com/jogardn/customer-directory/pkg/models"
	"github.com/shopspring/decimal"
)

type CustomerSummary struct {
	ID         models.ID `json:"id"`
	FirstName  string    `json:"first_name"`
	LastName   string    `json:"last_name"`
	Email      string    `json:"email"`
	OrderCount int       `json:"order_count"`
	HasOrders  bool      `json:"has_orders"`
	CreatedAt  string    `json:"created_at"`
}

type CustomerDetail struct {
	CustomerSummary
	Phone           string         `json:"phone"`
	OrderCountLabel string         `json:"order_count_label"`
	Orders          []OrderSummary `json:"orders"`
}

type OrderSummary struct {
	ID        models.ID     `json:"id"`
	Status    string        `json:"status"`
	Category  Category      `json:"category"`
	CreatedAt string        `json:"created_at"`
	ItemCount int           `json:"item_count"`
	Items     []ItemSummary `json:"items"`
	Total     string        `json:"total"`
}

type ItemSummary struct {
	ID          models.ID `json:"id"`
	ProductName string    `json:"product_name"`
	Quantity    int       `json:"quantity"`
	UnitPrice   string    `json:"unit_price"`
	LineTotal   string    `json:"line_total"`
}

// Mapper carries the display settings shared by all conversions.
type Mapper struct {
	Dates DateFormatter
}

var defaultMapper = Mapper{Dates: DateFormatter{Layout: DefaultDateLayout}}

func NewMapper(dates DateFormatter) Mapper {
	return Mapper{Dates: dates}
}

func ToCustomerSummary(raw models.Customer) CustomerSummary {
	return defaultMapper.CustomerSummary(raw)
}

func ToCustomerSummaries(raw []models.Customer) []CustomerSummary {
	return defaultMapper.CustomerSummaries(raw)
}

func ToCustomerDetail(raw models.Customer) CustomerDetail {
	return defaultMapper.CustomerDetail(raw)
}

func ToOrderSummary(raw models.Order) OrderSummary {
	return defaultMapper.OrderSummary(raw)
}

func (m Mapper) CustomerSummary(raw models.Customer) CustomerSummary {
	return CustomerSummary{
		ID:         raw.ID,
		FirstName:  raw.FirstName,
		LastName:   raw.LastName,
		Email:      raw.Email,
		OrderCount: raw.OrdersCount,
		HasOrders:  raw.OrdersCount > 0,
		CreatedAt:  m.Dates.Format(raw.CreatedAt),
	}
}

func (m Mapper) CustomerSummaries(raw []models.Customer) []CustomerSummary {
	summaries := make([]CustomerSummary, 0, len(raw))
	for _, c := range raw {
		summaries = append(summaries, m.CustomerSummary(c))
	}
	return summaries
}

func (m Mapper) CustomerDetail(raw models.Customer) CustomerDetail {
	orders := make([]OrderSummary, 0, len(raw.Orders))
	for _, o := range raw.Orders {
		orders = append(orders, m.OrderSummary(o))
	}

	return CustomerDetail{
		CustomerSummary: m.CustomerSummary(raw),
		Phone:           raw.PhoneNumber,
		OrderCountLabel: OrderCountLabel(raw.OrdersCount),
		Orders:          orders,
	}
}

func (m Mapper) OrderSummary(raw models.Order) OrderSummary {
	itemCount := 0
	if raw.ItemCount != nil {
		itemCount = *raw.ItemCount
	}

	items := make([]ItemSummary, 0, len(raw.Items))
	for _, it := range raw.Items {
		items = append(items, toItemSummary(it))
	}

	return OrderSummary{
		ID:        raw.ID,
		Status:    raw.Status,
		Category:  CategoryFor(raw.Status),
		CreatedAt: m.Dates.Format(raw.CreatedAt),
		ItemCount: itemCount,
		Items:     items,
		Total:     FormatAmount(OrderTotal(raw)),
	}
}

func toItemSummary(raw models.Item) ItemSummary {
	name := ""
	if raw.Product != nil {
		name = raw.Product.Name
	}

	return ItemSummary{
		ID:          raw.ID,
		ProductName: name,
		Quantity:    raw.Quantity,
		UnitPrice:   FormatAmount(raw.Price),
		LineTotal:   FormatAmount(lineTotal(raw)),
	}
}

// OrderTotal sums price × quantity over the items actually present. The
// server's item count is ignored.
func OrderTotal(raw models.Order) decimal.Decimal {
	total := decimal.Zero
	for _, it := range raw.Items {
		total = total.Add(lineTotal(it))
	}
	return total
}

func lineTotal(it models.Item) decimal.Decimal {
	return it.Price.Mul(decimal.NewFromInt(int64(it.Quantity)))
}

// FormatAmount renders an amount with exactly two decimal places.
func FormatAmount(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// OrderCountLabel renders "1 Order" or "N Orders".
func OrderCountLabel(n int) string {
	if n == 1 {
		return "1 Order"
	}
	return fmt.Sprintf("%d Orders", n)
}
