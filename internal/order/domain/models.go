package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

var (
	ErrNotFound        = errors.New("order_not_found")
	ErrInvalidQuote    = errors.New("invalid_quote")
	ErrInvalidCategory = errors.New("invalid_order_category")
	ErrNothingOwed     = errors.New("nothing_owed")
)

type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// Order is one billable engagement. TotalPaid, DepositPaid and
// BalancePaid are denormalized from the ledger: they are recomputed
// from settled entries after every reconciliation, never incremented.
type Order struct {
	ID            snowflake.ID   `json:"id" gorm:"primaryKey"`
	CustomerID    snowflake.ID   `json:"customer_id" gorm:"not null;index"`
	Title         string         `json:"title" gorm:"not null"`
	Description   string         `json:"description" gorm:"type:text"`
	Items         datatypes.JSON `json:"items" gorm:"type:jsonb"`
	DepositAmount int64          `json:"deposit_amount" gorm:"not null"`
	BalanceAmount int64          `json:"balance_amount" gorm:"not null"`
	TotalPaid     int64          `json:"total_paid" gorm:"not null;default:0"`
	DepositPaid   bool           `json:"deposit_paid" gorm:"not null;default:false"`
	BalancePaid   bool           `json:"balance_paid" gorm:"not null;default:false"`
	Status        Status         `json:"status" gorm:"type:text;not null"`
	CreatedAt     time.Time      `json:"created_at" gorm:"not null"`
	UpdatedAt     time.Time      `json:"updated_at" gorm:"not null"`
}

func (Order) TableName() string { return "orders" }

// Total is the full engagement price.
func (o *Order) Total() int64 {
	return o.DepositAmount + o.BalanceAmount
}
