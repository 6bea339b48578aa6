package model

import "time"

// Product represents a catalog entry
type Product struct {
	ID            uint      `json:"id" gorm:"primaryKey"`
	Name          string    `json:"name" gorm:"type:varchar(255);not null"`
	Price         float64   `json:"price" gorm:"not null"`
	DiscountPrice *float64  `json:"discountPrice,omitempty"`
	OnSale        bool      `json:"onSale" gorm:"not null;default:false"`
	Stock         int       `json:"stock" gorm:"not null;default:0"`
	Sales         int       `json:"sales" gorm:"not null;default:0"`
	Description   string    `json:"description" gorm:"type:text"`
	ImageURL      string    `json:"imageUrl" gorm:"type:varchar(512)"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// EffectivePrice is the price a customer currently pays
func (p *Product) EffectivePrice() float64 {
	if p.HasValidDiscount() {
		return *p.DiscountPrice
	}
	return p.Price
}

// HasValidDiscount reports whether the product is on sale with 0 < discountPrice < price
func (p *Product) HasValidDiscount() bool {
	return p.OnSale && p.DiscountPrice != nil && *p.DiscountPrice > 0 && *p.DiscountPrice < p.Price
}

// DiscountRatio is the relative markdown, zero when not on sale
func (p *Product) DiscountRatio() float64 {
	if !p.HasValidDiscount() || p.Price <= 0 {
		return 0
	}
	return (p.Price - *p.DiscountPrice) / p.Price
}
