package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
)

// ID is an opaque identifier issued by the remote directory. It decodes from
// either a JSON string or a JSON number and is forwarded as-is.
type ID string

func (id ID) String() string {
	return string(id)
}

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("failed to decode id: %w", err)
		}
		*id = ID(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("failed to decode id: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// MarshalJSON writes integral identifiers as JSON numbers, the way the
// directory API emits them, and anything else as a string.
func (id ID) MarshalJSON() ([]byte, error) {
	if _, err := strconv.ParseInt(string(id), 10, 64); err == nil {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

type Customer struct {
	ID          ID      `json:"id"`
	FirstName   string  `json:"first_name"`
	LastName    string  `json:"last_name"`
	Email       string  `json:"email"`
	PhoneNumber string  `json:"phone_number,omitempty"`
	CreatedAt   string  `json:"created_at,omitempty"`
	OrdersCount int     `json:"orders_count"`
	Orders      []Order `json:"orders,omitempty"`
}

type Order struct {
	ID        ID     `json:"id"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
	// ItemCount is the server-side summary. It may be stale or missing and is
	// never used for totals.
	ItemCount *int   `json:"items_count,omitempty"`
	Items     []Item `json:"items,omitempty"`
}

// UnmarshalJSON accepts both spellings the directory API has used for the
// order identifier (id, order_id) and the item summary (items_count, item_count).
func (o *Order) UnmarshalJSON(data []byte) error {
	type plain Order
	var aux struct {
		plain
		OrderID        *ID  `json:"order_id"`
		ItemCountAlias *int `json:"item_count"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	*o = Order(aux.plain)
	if o.ID == "" && aux.OrderID != nil {
		o.ID = *aux.OrderID
	}
	if o.ItemCount == nil && aux.ItemCountAlias != nil {
		o.ItemCount = aux.ItemCountAlias
	}
	return nil
}

type Item struct {
	ID       ID              `json:"id"`
	Quantity int             `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
	Product  *Product        `json:"product,omitempty"`
}

type Product struct {
	Name string `json:"name"`
}

// Envelope wraps every successful directory payload.
type Envelope[T any] struct {
	Status string `json:"status,omitempty"`
	Count  *int   `json:"count,omitempty"`
	Data   T      `json:"data"`
}

// ErrorBody is the body the directory API returns with a non-2xx status.
// Detail is usually a string but validation failures carry a list.
type ErrorBody struct {
	Detail json.RawMessage `json:"detail,omitempty"`
}

// Message returns Detail when it is a plain string, otherwise "".
func (b ErrorBody) Message() string {
	var s string
	if err := json.Unmarshal(b.Detail, &s); err != nil {
		return ""
	}
	return s
}
