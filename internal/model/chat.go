package model

import (
	"strings"
	"time"
)

// ChatMessage is a persisted direct or broadcast message. ToUser nil means broadcast.
type ChatMessage struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	FromUser  string    `json:"from" gorm:"type:varchar(64);not null;index"`
	ToUser    *string   `json:"to" gorm:"type:varchar(64);index"`
	Content   string    `json:"content" gorm:"type:varchar(2000);not null"`
	CreatedAt time.Time `json:"createdAt" gorm:"not null;index"`
}

// IsBroadcast reports whether the message targets everyone
func (m *ChatMessage) IsBroadcast() bool {
	return m.ToUser == nil || strings.TrimSpace(*m.ToUser) == ""
}

// NormalizeRecipient turns a blank recipient into nil
func NormalizeRecipient(to *string) *string {
	if to == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*to)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
