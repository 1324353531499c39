package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Customer, error)

	// SetProcessorCustomerID persists the processor-side customer id the
	// first time one is created. No-op when already set.
	SetProcessorCustomerID(ctx context.Context, db *gorm.DB, id snowflake.ID, processorCustomerID string, now time.Time) error

	// ActivateMandate stores the mandate reference and marks it active.
	ActivateMandate(ctx context.Context, db *gorm.DB, id snowflake.ID, mandateRef string, now time.Time) error

	// ListBillable returns customers with an active mandate and a
	// processor customer id, ordered by id for stable batch runs.
	ListBillable(ctx context.Context, db *gorm.DB) ([]Customer, error)
}
