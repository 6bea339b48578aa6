package model

import (
	"math"
	"time"
)

// OrderStatus is the lifecycle state of an order header
type OrderStatus string

const (
	StatusCart            OrderStatus = "CART"
	StatusPaid            OrderStatus = "PAID"
	StatusCancelled       OrderStatus = "CANCELLED"
	StatusDeletedByClient OrderStatus = "DELETED_BY_CLIENT"
	StatusRefunded        OrderStatus = "REFUNDED"
)

// OrderHeader is either the client's working cart (status CART) or a historical order.
// The header exclusively owns its items.
type OrderHeader struct {
	ID         uint        `json:"orderId" gorm:"primaryKey"`
	ClientID   uint        `json:"clientId" gorm:"not null;index;uniqueIndex:idx_one_cart_per_client,where:status = 'CART'"`
	Status     OrderStatus `json:"status" gorm:"type:varchar(32);not null;index"`
	TotalPrice float64     `json:"totalPrice" gorm:"not null;default:0"`
	CreatedAt  time.Time   `json:"createdAt" gorm:"not null;index"`
	UpdatedAt  time.Time   `json:"updatedAt"`
	Items      []OrderItem `json:"items" gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
}

// OrderItem is one line of an order. Price is a snapshot taken when the line was created.
type OrderItem struct {
	ID        uint    `json:"itemId" gorm:"primaryKey"`
	OrderID   uint    `json:"orderId" gorm:"not null;index"`
	ProductID uint    `json:"productId" gorm:"not null;index"`
	Quantity  int     `json:"quantity" gorm:"not null"`
	Price     float64 `json:"price" gorm:"not null"`
}

// Subtotal is price times quantity
func (i OrderItem) Subtotal() float64 {
	return RoundMoney(i.Price * float64(i.Quantity))
}

// CalcTotal sums the item subtotals
func (h *OrderHeader) CalcTotal() float64 {
	total := 0.0
	for _, it := range h.Items {
		total += it.Price * float64(it.Quantity)
	}
	return RoundMoney(total)
}

// ItemByProduct returns the index of the line for productID, or -1
func (h *OrderHeader) ItemByProduct(productID uint) int {
	for i, it := range h.Items {
		if it.ProductID == productID {
			return i
		}
	}
	return -1
}

// ItemByID returns the index of the line with the given id, or -1
func (h *OrderHeader) ItemByID(itemID uint) int {
	for i, it := range h.Items {
		if it.ID == itemID {
			return i
		}
	}
	return -1
}

// ProductIDs lists the distinct products referenced by the header
func (h *OrderHeader) ProductIDs() []uint {
	seen := make(map[uint]struct{}, len(h.Items))
	ids := make([]uint, 0, len(h.Items))
	for _, it := range h.Items {
		if _, ok := seen[it.ProductID]; ok {
			continue
		}
		seen[it.ProductID] = struct{}{}
		ids = append(ids, it.ProductID)
	}
	return ids
}

// RoundMoney rounds to cents
func RoundMoney(v float64) float64 {
	return math.Round(v*100) / 100
}
