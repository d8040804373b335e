package errors

import (
	"errors"
	"fmt"
)

// Domain errors
var (
	ErrGroupNotFound        = errors.New("rotation group not found")
	ErrGroupFull            = errors.New("rotation group is full")
	ErrAlreadyMember        = errors.New("user is already a member of this group")
	ErrGroupNotActive       = errors.New("rotation group is not active")
	ErrAmountMismatch       = errors.New("contribution amount must match the group contribution amount exactly")
	ErrAlreadyPaidThisRound = errors.New("member has already contributed this round")
	ErrNotAMember           = errors.New("user is not a member of this group")
	ErrCancelNotAllowed     = errors.New("group cannot be cancelled in its current status")

	ErrPlanNotFound       = errors.New("installment plan not found")
	ErrPlanNotActive      = errors.New("installment plan is not active")
	ErrPaymentAlreadyPaid = errors.New("installment payment is already paid")
	ErrOutOfOrderPayment  = errors.New("installment payments must be applied in sequence")

	ErrNonPositivePrice      = errors.New("item price must be positive")
	ErrInvalidUpfrontPercent = errors.New("upfront percent is outside the allowed range")
	ErrUnsupportedTerm       = errors.New("term is not in the markup table")
	ErrInvalidFrequency      = errors.New("unrecognized contribution frequency")

	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrLedgerUnavailable = errors.New("ledger service unavailable")
)

// Kind classifies a business error for transport mapping and retry policy.
type Kind int

const (
	// KindValidation rejects bad input synchronously; never retried.
	KindValidation Kind = iota
	// KindNotFound means the referenced entity does not exist.
	KindNotFound
	// KindConflict is a state conflict the caller must resolve by choosing a
	// different action; never silently coerced.
	KindConflict
	// KindDownstream is a dependency failure, retryable under an idempotency
	// key.
	KindDownstream
	// KindInternal is an unexpected failure.
	KindInternal
)

// BusinessError carries a stable code and classification alongside the
// wrapped cause.
type BusinessError struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *BusinessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *BusinessError) Unwrap() error {
	return e.Err
}

func New(kind Kind, code, message string, err error) *BusinessError {
	return &BusinessError{Kind: kind, Code: code, Message: message, Err: err}
}

// KindOf extracts the classification from err, defaulting to KindInternal.
func KindOf(err error) Kind {
	var be *BusinessError
	if errors.As(err, &be) {
		return be.Kind
	}
	return KindInternal
}

// CodeOf extracts the stable code from err, empty if none.
func CodeOf(err error) string {
	var be *BusinessError
	if errors.As(err, &be) {
		return be.Code
	}
	return ""
}

// Error codes
const (
	CodeGroupNotFound        = "GROUP_NOT_FOUND"
	CodeGroupFull            = "GROUP_FULL"
	CodeAlreadyMember        = "ALREADY_MEMBER"
	CodeGroupNotActive       = "GROUP_NOT_ACTIVE"
	CodeAmountMismatch       = "AMOUNT_MISMATCH"
	CodeAlreadyPaidThisRound = "ALREADY_PAID_THIS_ROUND"
	CodeNotAMember           = "NOT_A_MEMBER"
	CodeCancelNotAllowed     = "CANCEL_NOT_ALLOWED"
	CodePlanNotFound         = "PLAN_NOT_FOUND"
	CodePlanNotActive        = "PLAN_NOT_ACTIVE"
	CodePaymentAlreadyPaid   = "PAYMENT_ALREADY_PAID"
	CodeOutOfOrderPayment    = "OUT_OF_ORDER_PAYMENT"
	CodeNonPositivePrice     = "NON_POSITIVE_PRICE"
	CodeInvalidUpfrontPct    = "INVALID_UPFRONT_PERCENT"
	CodeUnsupportedTerm      = "UNSUPPORTED_TERM"
	CodeInvalidFrequency     = "INVALID_FREQUENCY"
	CodeInsufficientFunds    = "INSUFFICIENT_FUNDS"
	CodeLedgerUnavailable    = "LEDGER_UNAVAILABLE"
	CodeInvalidRequest       = "INVALID_REQUEST"
	CodeDatabaseError        = "DATABASE_ERROR"
)

// Wrap common errors with business context

func WrapGroupNotFound(groupID string) *BusinessError {
	return New(KindNotFound, CodeGroupNotFound,
		fmt.Sprintf("rotation group %s not found", groupID), ErrGroupNotFound)
}

func WrapGroupFull(groupID string, totalSlots int) *BusinessError {
	return New(KindConflict, CodeGroupFull,
		fmt.Sprintf("rotation group %s has all %d slots filled", groupID, totalSlots), ErrGroupFull)
}

func WrapAlreadyMember(groupID, userID string) *BusinessError {
	return New(KindConflict, CodeAlreadyMember,
		fmt.Sprintf("user %s already holds a slot in group %s", userID, groupID), ErrAlreadyMember)
}

func WrapGroupNotActive(groupID, status string) *BusinessError {
	return New(KindConflict, CodeGroupNotActive,
		fmt.Sprintf("rotation group %s is %s, not active", groupID, status), ErrGroupNotActive)
}

func WrapAmountMismatch(expected, actual string) *BusinessError {
	return New(KindValidation, CodeAmountMismatch,
		fmt.Sprintf("contribution %s does not match required amount %s", actual, expected), ErrAmountMismatch)
}

func WrapAlreadyPaidThisRound(userID string, round int) *BusinessError {
	return New(KindConflict, CodeAlreadyPaidThisRound,
		fmt.Sprintf("user %s already contributed for round %d", userID, round), ErrAlreadyPaidThisRound)
}

func WrapNotAMember(groupID, userID string) *BusinessError {
	return New(KindNotFound, CodeNotAMember,
		fmt.Sprintf("user %s holds no slot in group %s", userID, groupID), ErrNotAMember)
}

func WrapCancelNotAllowed(groupID, status string) *BusinessError {
	return New(KindConflict, CodeCancelNotAllowed,
		fmt.Sprintf("rotation group %s is %s and cannot be cancelled", groupID, status), ErrCancelNotAllowed)
}

func WrapPlanNotFound(planID string) *BusinessError {
	return New(KindNotFound, CodePlanNotFound,
		fmt.Sprintf("installment plan %s not found", planID), ErrPlanNotFound)
}

func WrapPlanNotActive(planID, status string) *BusinessError {
	return New(KindConflict, CodePlanNotActive,
		fmt.Sprintf("installment plan %s is %s and does not accept payments", planID, status), ErrPlanNotActive)
}

func WrapPaymentAlreadyPaid(planID string, paymentNumber int) *BusinessError {
	return New(KindConflict, CodePaymentAlreadyPaid,
		fmt.Sprintf("payment %d on plan %s is already paid", paymentNumber, planID), ErrPaymentAlreadyPaid)
}

func WrapOutOfOrderPayment(expected, got int) *BusinessError {
	return New(KindConflict, CodeOutOfOrderPayment,
		fmt.Sprintf("expected payment %d next, got %d", expected, got), ErrOutOfOrderPayment)
}

func WrapNonPositivePrice(price string) *BusinessError {
	return New(KindValidation, CodeNonPositivePrice,
		fmt.Sprintf("item price %s must be positive", price), ErrNonPositivePrice)
}

func WrapInvalidUpfrontPercent(percent, min int) *BusinessError {
	return New(KindValidation, CodeInvalidUpfrontPct,
		fmt.Sprintf("upfront percent %d must be between %d and 100", percent, min), ErrInvalidUpfrontPercent)
}

func WrapUnsupportedTerm(termMonths int) *BusinessError {
	return New(KindValidation, CodeUnsupportedTerm,
		fmt.Sprintf("no markup rate configured for a %d month term", termMonths), ErrUnsupportedTerm)
}

func WrapInvalidFrequency(value string) *BusinessError {
	return New(KindValidation, CodeInvalidFrequency,
		fmt.Sprintf("frequency %q is not one of daily, weekly, biweekly, monthly", value), ErrInvalidFrequency)
}

func WrapLedgerUnavailable(err error) *BusinessError {
	return New(KindDownstream, CodeLedgerUnavailable, "ledger posting failed", err)
}

func WrapDatabaseError(err error) *BusinessError {
	return New(KindInternal, CodeDatabaseError, "database operation failed", err)
}
