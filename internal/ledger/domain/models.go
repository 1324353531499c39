package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrNotFound        = errors.New("ledger_entry_not_found")
	ErrInvalidAmount   = errors.New("invalid_ledger_amount")
	ErrInvalidCategory = errors.New("invalid_ledger_category")
	ErrInvalidMethod   = errors.New("invalid_ledger_method")
	ErrInvalidStatus   = errors.New("invalid_ledger_status")
	ErrInvalidCustomer = errors.New("invalid_ledger_customer")
)

// Category classifies what a money movement was for.
type Category string

const (
	CategoryDeposit Category = "deposit"
	CategoryBalance Category = "balance"
	CategoryFull    Category = "full"
	CategoryMonthly Category = "monthly"
	CategoryRefund  Category = "refund"
)

// Method is the payment rail the movement used.
type Method string

const (
	MethodCard      Method = "card"
	MethodBankDebit Method = "bank_debit"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusRefunded  Status = "refunded"
)

// Entry is one recorded money movement: a charge attempt, a settled
// charge, a failure record, or a refund (negative amount). Amounts are
// minor units, signed. ProviderEventID is the idempotency key: unique
// when present, so replayed webhook deliveries degrade to no-ops.
type Entry struct {
	ID              snowflake.ID  `json:"id" gorm:"primaryKey"`
	OrderID         *snowflake.ID `json:"order_id" gorm:"index"`
	CustomerID      snowflake.ID  `json:"customer_id" gorm:"not null;index"`
	Amount          int64         `json:"amount" gorm:"not null"`
	Category        Category      `json:"category" gorm:"type:text;not null"`
	Method          Method        `json:"method" gorm:"type:text;not null"`
	ProviderRef     string        `json:"provider_ref" gorm:"type:text"`
	ProviderEventID *string       `json:"provider_event_id" gorm:"type:text"`
	ProviderStatus  string        `json:"provider_status" gorm:"type:text"`
	Status          Status        `json:"status" gorm:"type:text;not null"`
	CreatedAt       time.Time     `json:"created_at" gorm:"not null"`
}

func (Entry) TableName() string { return "ledger_entries" }

// Validate checks the fields every entry must carry before insert.
func (e *Entry) Validate() error {
	if e.CustomerID == 0 {
		return ErrInvalidCustomer
	}
	if e.Amount == 0 {
		return ErrInvalidAmount
	}
	switch e.Category {
	case CategoryDeposit, CategoryBalance, CategoryFull, CategoryMonthly:
		if e.Amount < 0 {
			return ErrInvalidAmount
		}
	case CategoryRefund:
		if e.Amount > 0 {
			return ErrInvalidAmount
		}
	default:
		return ErrInvalidCategory
	}
	switch e.Method {
	case MethodCard, MethodBankDebit:
	default:
		return ErrInvalidMethod
	}
	switch e.Status {
	case StatusPending, StatusPaid, StatusFailed, StatusCancelled, StatusRefunded:
	default:
		return ErrInvalidStatus
	}
	return nil
}

// ParseCategory normalizes a client-supplied category string.
func ParseCategory(raw string) (Category, error) {
	switch Category(raw) {
	case CategoryDeposit:
		return CategoryDeposit, nil
	case CategoryBalance:
		return CategoryBalance, nil
	case CategoryFull:
		return CategoryFull, nil
	case CategoryMonthly:
		return CategoryMonthly, nil
	default:
		return "", ErrInvalidCategory
	}
}
