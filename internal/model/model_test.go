package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func ptr(v float64) *float64 { return &v }

func TestEffectivePrice(t *testing.T) {
	p := Product{Price: 100}
	assert.Equal(t, 100.0, p.EffectivePrice())

	p.OnSale = true
	p.DiscountPrice = ptr(80)
	assert.Equal(t, 80.0, p.EffectivePrice())
	assert.InDelta(t, 0.2, p.DiscountRatio(), 1e-9)

	// An invalid discount never applies
	p.DiscountPrice = ptr(120)
	assert.Equal(t, 100.0, p.EffectivePrice())
	assert.Zero(t, p.DiscountRatio())
}

func TestCalcTotal(t *testing.T) {
	h := OrderHeader{Items: []OrderItem{
		{ProductID: 1, Quantity: 3, Price: 0.1},
		{ProductID: 2, Quantity: 2, Price: 19.99},
	}}
	assert.Equal(t, 40.28, h.CalcTotal())
	assert.Equal(t, 1, h.ItemByProduct(2))
	assert.Equal(t, -1, h.ItemByProduct(3))
	assert.Equal(t, []uint{1, 2}, h.ProductIDs())
}

func TestNormalizeRecipient(t *testing.T) {
	blank := "  "
	bob := " bob "
	assert.Nil(t, NormalizeRecipient(nil))
	assert.Nil(t, NormalizeRecipient(&blank))
	assert.Equal(t, "bob", *NormalizeRecipient(&bob))

	m := ChatMessage{ToUser: &blank}
	assert.True(t, m.IsBroadcast())
}
