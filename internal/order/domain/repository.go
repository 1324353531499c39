package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Create(ctx context.Context, db *gorm.DB, order *Order) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Order, error)

	// RecomputeTotals re-reads the order under a row lock, re-derives
	// total_paid and the paid flags from settled ledger entries, and
	// writes them back. It must run inside the same transaction as the
	// ledger write it follows.
	RecomputeTotals(ctx context.Context, tx *gorm.DB, id snowflake.ID, now time.Time) (*Order, error)

	Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) error
}
