package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrNotFound = errors.New("customer_not_found")
)

// Customer carries the payment-relevant customer fields: the processor
// customer id (created lazily, persisted once) and the Direct Debit
// mandate. MandateActive only flips when a setup-mode checkout
// completion carrying a mandate reference is reconciled.
type Customer struct {
	ID                  snowflake.ID `json:"id" gorm:"primaryKey"`
	Name                string       `json:"name" gorm:"not null"`
	Email               string       `json:"email" gorm:"not null"`
	Currency            string       `json:"currency,omitempty" gorm:"column:currency"`
	ProcessorCustomerID string       `json:"processor_customer_id,omitempty" gorm:"type:text"`
	MandateRef          string       `json:"mandate_ref,omitempty" gorm:"type:text"`
	MandateActive       bool         `json:"mandate_active" gorm:"not null;default:false"`
	CreatedAt           time.Time    `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt           time.Time    `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Customer) TableName() string { return "customers" }
