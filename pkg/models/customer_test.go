package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDDecoding(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want ID
	}{
		{"number", `42`, "42"},
		{"string", `"c-42"`, "c-42"},
		{"numeric string", `"42"`, "42"},
		{"null", `null`, ""},
		{"large number", `12345678901234567890`, "12345678901234567890"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var id ID
			require.NoError(t, json.Unmarshal([]byte(tt.raw), &id))
			assert.Equal(t, tt.want, id)
		})
	}

	var id ID
	assert.Error(t, json.Unmarshal([]byte(`{}`), &id))
}

func TestIDEncoding(t *testing.T) {
	out, err := json.Marshal(struct {
		A ID `json:"a"`
		B ID `json:"b"`
	}{A: "7", B: "c-7"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":7,"b":"c-7"}`, string(out))
}

func TestOrderAliases(t *testing.T) {
	var orders []Order
	require.NoError(t, json.Unmarshal([]byte(`[
		{"order_id": 5, "status": "completed", "item_count": 2},
		{"id": 6, "order_id": 99, "items_count": 1, "item_count": 3},
		{"id": "7", "status": "pending"}
	]`), &orders))

	require.Len(t, orders, 3)
	assert.Equal(t, ID("5"), orders[0].ID)
	require.NotNil(t, orders[0].ItemCount)
	assert.Equal(t, 2, *orders[0].ItemCount)

	assert.Equal(t, ID("6"), orders[1].ID)
	assert.Equal(t, 1, *orders[1].ItemCount)

	assert.Equal(t, ID("7"), orders[2].ID)
	assert.Nil(t, orders[2].ItemCount)
	assert.Empty(t, orders[2].Items)
}

func TestItemPriceFromNumber(t *testing.T) {
	var item Item
	require.NoError(t, json.Unmarshal([]byte(`{"id":1,"quantity":3,"price":4.99,"product":{"name":"Cable"}}`), &item))
	assert.Equal(t, "4.99", item.Price.StringFixed(2))
	assert.Equal(t, "Cable", item.Product.Name)
}

func TestErrorBodyMessage(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{`{"detail":"Customer not found"}`, "Customer not found"},
		{`{"detail":[{"msg":"value is not a valid integer"}]}`, ""},
		{`{}`, ""},
	}

	for _, tt := range tests {
		var body ErrorBody
		require.NoError(t, json.Unmarshal([]byte(tt.raw), &body))
		assert.Equal(t, tt.want, body.Message(), tt.raw)
	}
}

func TestEnvelopeCount(t *testing.T) {
	var env Envelope[[]Customer]
	require.NoError(t, json.Unmarshal([]byte(`{"status":"success","count":1,"data":[{"id":1,"first_name":"Ann"}]}`), &env))
	require.NotNil(t, env.Count)
	assert.Equal(t, 1, *env.Count)
	assert.Equal(t, "success", env.Status)
	assert.Equal(t, "Ann", env.Data[0].FirstName)
}
