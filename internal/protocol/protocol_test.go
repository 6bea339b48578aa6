package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"commerce-service/internal/apperr"
	"commerce-service/internal/model"
)

func decodeErr(t *testing.T, frame string) *DecodeError {
	t.Helper()
	_, err := Decode([]byte(frame))
	require.Error(t, err)
	var de *DecodeError
	require.ErrorAs(t, err, &de)
	return de
}

func TestDecodeVariants(t *testing.T) {
	req, err := Decode([]byte(`{"type":"add_to_cart","username":"alice","product_id":"7","quantity":3}`))
	require.NoError(t, err)
	add, ok := req.(*AddToCart)
	require.True(t, ok)
	assert.Equal(t, "alice", add.Username)
	assert.Equal(t, ID(7), add.ProductID)
	assert.Equal(t, 3, add.Quantity)

	req, err = Decode([]byte(`{"type":"chat_send","to":null,"content":"hi"}`))
	require.NoError(t, err)
	send := req.(*ChatSend)
	assert.Nil(t, send.To)
	assert.Equal(t, TypeChatSend, send.Type())

	req, err = Decode([]byte(`{"type":"checkout_selected","items":[{"product_id":1,"quantity":2}]}`))
	require.NoError(t, err)
	sel := req.(*CheckoutSelected)
	assert.Equal(t, []SelectedItem{{ProductID: 1, Quantity: 2}}, sel.Items)

	req, err = Decode([]byte(`{"type":"stats_monthly","from":"2025-01-01","to":"2025-12-31","username":"bob"}`))
	require.NoError(t, err)
	stats := req.(*StatsMonthly)
	assert.Equal(t, "bob", stats.Username)
	assert.Equal(t, "2025-01-01", stats.From)
}

func TestEveryVariantDecodes(t *testing.T) {
	for msgType := range variants {
		req, err := Decode([]byte(`{"type":"` + msgType + `"}`))
		require.NoError(t, err, msgType)
		assert.Equal(t, msgType, req.Type())
		assert.NotEqual(t, TypeError, ResponseType(msgType))
	}
}

func TestDecodeErrors(t *testing.T) {
	assert.Equal(t, apperr.CodeInvalidJSON, decodeErr(t, `{not json`).Code)
	assert.Equal(t, apperr.CodeInvalidJSON, decodeErr(t, `[1,2]`).Code)
	assert.Equal(t, apperr.CodeInvalidJSON, decodeErr(t, `null`).Code)
	assert.Equal(t, apperr.CodeUnknownType, decodeErr(t, `{"username":"x"}`).Code)
	assert.Equal(t, apperr.CodeUnknownType, decodeErr(t, `{"type":42}`).Code)

	unknown := decodeErr(t, `{"type":"teleport"}`)
	assert.Equal(t, apperr.CodeUnknownType, unknown.Code)
	assert.Equal(t, "teleport", unknown.Type)
	assert.Equal(t, TypeError, ResponseType("teleport"))

	bad := decodeErr(t, `{"type":"add_to_cart","quantity":"lots"}`)
	assert.Equal(t, apperr.CodeInvalidArgument, bad.Code)
	assert.Equal(t, TypeAddToCart, bad.Type)

	badID := decodeErr(t, `{"type":"get_product_detail","product_id":"abc"}`)
	assert.Equal(t, apperr.CodeInvalidArgument, badID.Code)
}

func TestOrderViewLines(t *testing.T) {
	discount := 8.0
	h := &model.OrderHeader{
		ID:         3,
		Status:     model.StatusCart,
		TotalPrice: 25,
		CreatedAt:  time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC),
		Items: []model.OrderItem{
			{ID: 11, ProductID: 1, Quantity: 2, Price: 10},
			{ID: 12, ProductID: 2, Quantity: 1, Price: 5},
		},
	}
	products := map[uint]*model.Product{
		1: {ID: 1, Name: "lamp", Price: 12, Stock: 4, OnSale: true, DiscountPrice: &discount, ImageURL: "/img/lamp.png"},
	}

	data, err := Encode(OrderResponse{Result: OK(TypeCartItems, ""), OrderView: NewOrderView(h, products)})
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "cart_items", decoded["type"])
	assert.Equal(t, true, decoded["success"])
	assert.EqualValues(t, 3, decoded["orderId"])

	items := decoded["items"].([]any)
	require.Len(t, items, 2)
	first := items[0].(map[string]any)
	assert.Equal(t, "lamp", first["name"])
	assert.EqualValues(t, 10, first["price"])
	assert.EqualValues(t, 20, first["subtotal"])
	assert.EqualValues(t, 4, first["stock"])
	assert.Equal(t, true, first["onSale"])
	assert.EqualValues(t, 8, first["discountPrice"])

	// A product that vanished from the catalog still renders its line
	second := items[1].(map[string]any)
	assert.Equal(t, "", second["name"])
	assert.EqualValues(t, 5, second["subtotal"])
}

func TestEmptyOrderViewHasItems(t *testing.T) {
	data, err := Encode(OrderResponse{Result: OK(TypeCartItems, ""), OrderView: NewOrderView(nil, nil)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"cart_items","success":true,"totalPrice":0,"items":[]}`, string(data))
}

func TestFailureResult(t *testing.T) {
	res := Fail(TypeCheckoutResponse, apperr.CodeInsufficientStock, "insufficient stock")
	res.ProductID = 9
	data, err := Encode(res)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"checkout_response","success":false,"code":4001,"message":"insufficient stock","product_id":9}`, string(data))
}
