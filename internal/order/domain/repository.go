package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type OrderFilter struct {
	TechnicianID snowflake.ID
	Statuses     []Status
	PayoutWeek   *int
	PayoutYear   *int
	PaidAfter    *time.Time
	CreatedAfter *time.Time
	// ClosedFrom and ClosedBefore bound COALESCE(returned_at, cancelled_at) as [from, before).
	ClosedFrom   *time.Time
	ClosedBefore *time.Time
	Limit        int
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, order *Order) error
	Update(ctx context.Context, db *gorm.DB, order *Order) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Order, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Order, error)
	List(ctx context.Context, db *gorm.DB, filter OrderFilter) ([]*Order, error)
	Delete(ctx context.Context, db *gorm.DB, ids []snowflake.ID) (int64, error)

	InsertNote(ctx context.Context, db *gorm.DB, note *OrderNote) error
	ListNotes(ctx context.Context, db *gorm.DB, orderID snowflake.ID) ([]*OrderNote, error)
	DeleteNotes(ctx context.Context, db *gorm.DB, orderIDs []snowflake.ID) error
}
