package authorization

import (
	"context"

	"github.com/smallbiznis/repairpay/internal/payrollerr"
)

type Service interface {
	// Authorize checks the actor carried by ctx against object and action.
	Authorize(ctx context.Context, object string, action string) error
}

var (
	ErrInvalidActor  = payrollerr.New(payrollerr.ErrInvalidInput, "invalid_actor")
	ErrInvalidObject = payrollerr.New(payrollerr.ErrInvalidInput, "invalid_object")
	ErrInvalidAction = payrollerr.New(payrollerr.ErrInvalidInput, "invalid_action")
	ErrForbidden     = payrollerr.New(payrollerr.ErrForbidden, "forbidden")
)
