package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/repairpay/internal/payoutweek"
	"github.com/smallbiznis/repairpay/internal/payrollerr"
)

type CreateOrderRequest struct {
	TechnicianID    snowflake.ID
	PaymentMethod   string
	ReplacementCost int64
	TotalPrice      int64
	// CreatedAt is the business date; it defaults to now.
	CreatedAt    *time.Time
	CustomerName string
	Device       string
	Description  string
	HasReceipt   bool
}

type AttachReceiptRequest struct {
	OrderID       snowflake.ID
	PaymentMethod *string
	ReceiptDate   *time.Time
}

type UpdateCostsRequest struct {
	OrderID         snowflake.ID
	ReplacementCost int64
	TotalPrice      int64
}

type ListOrdersRequest struct {
	TechnicianID snowflake.ID
	Status       string
	Limit        int
}

type Service interface {
	CreateOrder(ctx context.Context, req CreateOrderRequest) (Order, error)
	AttachOrUpdateReceipt(ctx context.Context, req AttachReceiptRequest) (Order, error)
	RemoveReceipt(ctx context.Context, orderID snowflake.ID) (Order, error)
	UpdateCosts(ctx context.Context, req UpdateCostsRequest) (Order, error)
	MarkReturned(ctx context.Context, orderID snowflake.ID) (Order, error)
	MarkCancelled(ctx context.Context, orderID snowflake.ID) (Order, error)
	DeleteOrder(ctx context.Context, orderID snowflake.ID) error

	GetByID(ctx context.Context, orderID snowflake.ID) (Order, error)
	ListByTechnician(ctx context.Context, req ListOrdersRequest) ([]Order, error)
	AddNote(ctx context.Context, orderID snowflake.ID, body string) (OrderNote, error)
	ListNotes(ctx context.Context, orderID snowflake.ID) ([]OrderNote, error)

	PaidOrdersForEpoch(ctx context.Context, technicianID snowflake.ID, epoch payoutweek.Epoch, sincePaidAt *time.Time) ([]Order, error)
	// EarnedForEpoch returns every order whose permanent epoch is epoch, including
	// ones returned or cancelled after payment.
	EarnedForEpoch(ctx context.Context, technicianID snowflake.ID, epoch payoutweek.Epoch) ([]Order, error)
	PendingOrders(ctx context.Context, technicianID snowflake.ID) ([]Order, error)
	ReturnedOrCancelledInRange(ctx context.Context, technicianID snowflake.ID, start, end time.Time, sinceCreatedAt *time.Time) ([]Order, error)
}

var (
	ErrInvalidID         = payrollerr.New(payrollerr.ErrInvalidInput, "invalid_order_id")
	ErrInvalidTechnician = payrollerr.New(payrollerr.ErrInvalidInput, "invalid_technician")
	ErrInvalidAmounts    = payrollerr.New(payrollerr.ErrInvalidInput, "invalid_order_amounts")
	ErrInvalidStatus     = payrollerr.New(payrollerr.ErrInvalidInput, "invalid_order_status")
	ErrInvalidRange      = payrollerr.New(payrollerr.ErrInvalidInput, "invalid_date_range")
	ErrEmptyNote         = payrollerr.New(payrollerr.ErrInvalidInput, "empty_note")
	ErrTerminal          = payrollerr.New(payrollerr.ErrInvalidState, "order_terminal")
	ErrNotPaid           = payrollerr.New(payrollerr.ErrInvalidState, "order_not_paid")
	ErrNotFound          = payrollerr.New(payrollerr.ErrNotFound, "order_not_found")
)
