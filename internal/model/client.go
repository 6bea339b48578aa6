package model

import "time"

// Client is a registered shop account
type Client struct {
	ID            uint      `json:"id" gorm:"primaryKey"`
	Username      string    `json:"username" gorm:"type:varchar(64);uniqueIndex;not null"`
	Password      string    `json:"-" gorm:"type:varchar(255);not null"`
	Phone         string    `json:"phone" gorm:"type:varchar(32)"`
	Email         string    `json:"email" gorm:"type:varchar(128)"`
	Enabled       bool      `json:"enabled" gorm:"not null;default:true"`
	PurchaseCount int       `json:"purchaseCount" gorm:"not null;default:0"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}
