package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository persists ledger entries. Methods take the handle they run
// on so callers can compose them inside a transaction.
type Repository interface {
	// Insert writes the entry, treating ProviderEventID as an
	// insert-or-no-op key. Returns false when an entry with the same
	// provider event id already exists.
	Insert(ctx context.Context, db *gorm.DB, entry *Entry) (bool, error)

	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Entry, error)
	FindByProviderEventID(ctx context.Context, db *gorm.DB, eventID string) (*Entry, error)
	FindByProviderRef(ctx context.Context, db *gorm.DB, ref string) (*Entry, error)

	// MarkSettled promotes a pending entry, stamping the provider event
	// id that settled it.
	MarkSettled(ctx context.Context, db *gorm.DB, id snowflake.ID, status Status, providerEventID string, providerStatus string) error

	// SumSettled with no categories returns the order's net settled
	// total, paid rows plus negative refunded rows. With categories it
	// returns the gross paid sum for those categories only.
	SumSettled(ctx context.Context, db *gorm.DB, orderID snowflake.ID, categories ...Category) (int64, error)

	DeleteByOrder(ctx context.Context, db *gorm.DB, orderID snowflake.ID) error
}
