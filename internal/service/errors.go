package service

import (
	"errors"
	"fmt"
)

// The workflow's error taxonomy. Validation and balance errors are raised
// before any side effect and are safe to retry as-is.
var (
	ErrZoneUnavailable     = errors.New("zone unavailable")
	ErrInsufficientBalance = errors.New("insufficient points balance")
	ErrInvalidRecord       = errors.New("invalid record")
	ErrDuplicateClaim      = errors.New("subdomain already claimed by this user")
	ErrNameTaken           = errors.New("subdomain already taken")
	ErrNotFound            = errors.New("not found")
)

// ProviderError carries the provider's raw error text verbatim for operator
// diagnosis.
type ProviderError struct {
	Op  string
	Msg string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("dns provider %s: %s", e.Op, e.Msg)
}
