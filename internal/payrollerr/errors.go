// Package payrollerr defines the error kinds shared by the payroll contexts.
// Domain packages declare their own sentinels on top of these kinds so callers
// can branch with errors.Is on either the specific or the general error.
package payrollerr

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrInvalidInput       = errors.New("invalid_input")
	ErrInvalidState       = errors.New("invalid_state")
	ErrInvalidAmount      = errors.New("invalid_amount")
	ErrConflict           = errors.New("conflict")
	ErrNotFound           = errors.New("not_found")
	ErrPersistenceFailure = errors.New("persistence_failure")
	ErrForbidden          = errors.New("forbidden")
)

var kinds = []error{
	ErrInvalidInput,
	ErrInvalidState,
	ErrInvalidAmount,
	ErrConflict,
	ErrNotFound,
	ErrPersistenceFailure,
	ErrForbidden,
}

// New returns a sentinel of the given kind with a stable code.
func New(kind error, code string) error {
	return &codedError{kind: kind, code: code}
}

type codedError struct {
	kind error
	code string
}

func (e *codedError) Error() string { return e.code }

func (e *codedError) Unwrap() error { return e.kind }

// Kind returns the kind sentinel wrapped by err, or nil.
func Kind(err error) error {
	for _, kind := range kinds {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// Code returns the most specific snake_case code carried by err.
func Code(err error) string {
	var coded *codedError
	if errors.As(err, &coded) {
		return coded.code
	}
	if kind := Kind(err); kind != nil {
		return kind.Error()
	}
	return "internal_error"
}

// Persistence wraps a store error so it is reported as a persistence failure.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	if Kind(err) != nil {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, ErrPersistenceFailure, err)
}

// SettlementStep names the stage of a settlement run that failed.
type SettlementStep string

const (
	StepLoadState          SettlementStep = "load_state"
	StepValidate           SettlementStep = "validate"
	StepAllocate           SettlementStep = "allocate"
	StepInsertSettlement   SettlementStep = "insert_settlement"
	StepRecordApplications SettlementStep = "record_applications"
	StepDeferRemainders    SettlementStep = "defer_remainders"
	StepConfirm            SettlementStep = "confirm"
)

// SettlementError carries enough context to render a failure without exposing
// internal identifiers beyond the technician.
type SettlementError struct {
	Step         SettlementStep
	TechnicianID snowflake.ID
	WeekStart    time.Time
	Amount       int64
	Retryable    bool
	Err          error
}

func (e *SettlementError) Error() string {
	var b strings.Builder
	b.WriteString("settlement ")
	b.WriteString(string(e.Step))
	fmt.Fprintf(&b, " failed for technician %s week %s amount %d",
		e.TechnicianID.String(), e.WeekStart.Format("2006-01-02"), e.Amount)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *SettlementError) Unwrap() error { return e.Err }
