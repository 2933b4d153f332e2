package models

import (
	"time"

	"gorm.io/datatypes"
)

// PaymentRecord is the audit trail for gateway answers, one row per
// reference. Redelivered webhooks overwrite status and payload in place.
type PaymentRecord struct {
	Reference        string         `gorm:"size:100;primary_key" json:"reference"`
	Amount           int64          `gorm:"not null" json:"amount"`
	Currency         string         `gorm:"size:3" json:"currency"`
	Status           string         `gorm:"size:30;not null" json:"status"`
	Channel          string         `gorm:"size:50" json:"channel"`
	Source           string         `gorm:"size:20;not null" json:"source"`
	ProviderResponse datatypes.JSON `json:"provider_response"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
