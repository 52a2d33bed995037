// Package commission computes a technician's share of a repair order.
package commission

import (
	"strings"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/repairpay/internal/payrollerr"
)

// PaymentMethod is how the customer paid for the repair. The empty value means
// the order has no receipt yet.
type PaymentMethod string

const (
	PaymentMethodNone     PaymentMethod = ""
	PaymentMethodCash     PaymentMethod = "CASH"
	PaymentMethodCard     PaymentMethod = "CARD"
	PaymentMethodTransfer PaymentMethod = "TRANSFER"
)

var ErrInvalidPaymentMethod = payrollerr.New(payrollerr.ErrInvalidInput, "invalid_payment_method")

// ParsePaymentMethod normalises user input into a PaymentMethod.
func ParsePaymentMethod(raw string) (PaymentMethod, error) {
	switch PaymentMethod(strings.ToUpper(strings.TrimSpace(raw))) {
	case PaymentMethodNone:
		return PaymentMethodNone, nil
	case PaymentMethodCash:
		return PaymentMethodCash, nil
	case PaymentMethodCard:
		return PaymentMethodCard, nil
	case PaymentMethodTransfer:
		return PaymentMethodTransfer, nil
	default:
		return "", ErrInvalidPaymentMethod
	}
}

// Withholds reports whether VAT is deducted before the share is taken.
func (m PaymentMethod) Withholds() bool {
	return m == PaymentMethodCard || m == PaymentMethodTransfer
}

// Policy holds the two rates of the commission formula.
type Policy struct {
	VATRate         decimal.Decimal
	TechnicianShare decimal.Decimal
}

// DefaultPolicy withholds 19% VAT on card/transfer and pays the technician 40%.
var DefaultPolicy = Policy{
	VATRate:         decimal.RequireFromString("0.19"),
	TechnicianShare: decimal.RequireFromString("0.40"),
}

// NewPolicy builds a policy from float rates as they come out of configuration.
func NewPolicy(vatRate, share float64) Policy {
	return Policy{
		VATRate:         decimal.NewFromFloat(vatRate),
		TechnicianShare: decimal.NewFromFloat(share),
	}
}

// Compute returns the commission in minor currency units.
//
// replacementCost is already part of totalPrice and is not subtracted again.
// Negative inputs are a caller bug; they yield 0.
func (p Policy) Compute(method PaymentMethod, replacementCost, totalPrice int64) int64 {
	if method == PaymentMethodNone || replacementCost < 0 || totalPrice <= 0 {
		return 0
	}

	base := decimal.NewFromInt(totalPrice)
	if method.Withholds() {
		base = base.Mul(decimal.NewFromInt(1).Sub(p.VATRate))
	}

	// decimal.Round rounds half away from zero.
	share := base.Mul(p.TechnicianShare).Round(0)
	if share.IsNegative() {
		return 0
	}
	return share.IntPart()
}

// Compute applies DefaultPolicy.
func Compute(method PaymentMethod, replacementCost, totalPrice int64) int64 {
	return DefaultPolicy.Compute(method, replacementCost, totalPrice)
}

// PolicySource yields the policy in force at the moment of the call.
type PolicySource interface {
	Policy() Policy
}

// StaticPolicy is a PolicySource that never changes.
type StaticPolicy Policy

func (p StaticPolicy) Policy() Policy { return Policy(p) }
