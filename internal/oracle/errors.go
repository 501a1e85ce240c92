package oracle

import (
	"errors"
	"fmt"
)

// Category normalizes oracle failures.
type Category string

const (
	CategoryTimeout          Category = "timeout"
	CategoryBadData          Category = "bad_data"
	CategoryAuthentication   Category = "authentication"
	CategoryOutage           Category = "outage"
	CategoryContractMismatch Category = "contract_mismatch"
	CategoryRateLimited      Category = "rate_limited"
)

// Error wraps an oracle failure with its category.
type Error struct {
	Category   Category
	Oracle     string
	Message    string
	Underlying error
}

func (e *Error) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("oracle %s [%s]: %s: %v", e.Oracle, e.Category, e.Message, e.Underlying)
	}
	return fmt.Sprintf("oracle %s [%s]: %s", e.Oracle, e.Category, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Underlying
}

// Retryable is true for transient categories. The engine stops retrying a
// call as soon as it sees a permanent one.
func (e *Error) Retryable() bool {
	switch e.Category {
	case CategoryTimeout, CategoryOutage, CategoryRateLimited:
		return true
	default:
		return false
	}
}

func newError(category Category, oracle, message string, underlying error) *Error {
	return &Error{Category: category, Oracle: oracle, Message: message, Underlying: underlying}
}

// CategoryOf returns the category of err, or "" for foreign errors.
func CategoryOf(err error) Category {
	var oe *Error
	if errors.As(err, &oe) {
		return oe.Category
	}
	return ""
}
