package ledger

import "errors"

var (
	// ErrUnknownMember indicates a referenced member id has no ledger record.
	ErrUnknownMember = errors.New("ledger: unknown member")
	// ErrMemberExists indicates an attempt to register an id twice.
	ErrMemberExists = errors.New("ledger: member already exists")
	// ErrUnknownPool indicates a pool name that was never registered.
	ErrUnknownPool = errors.New("ledger: unknown pool")
	// ErrInsufficientBalance indicates a debit larger than the withdrawable
	// balance.
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
)
