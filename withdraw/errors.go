package withdraw

import "errors"

var (
	// ErrInsufficientBalance indicates a request above the withdrawable
	// balance.
	ErrInsufficientBalance = errors.New("withdraw: insufficient balance")
	// ErrWithdrawalBlocked indicates the member is paused or blacklisted.
	ErrWithdrawalBlocked = errors.New("withdraw: withdrawal blocked")
	// ErrInvalidAmount indicates a non-positive requested amount.
	ErrInvalidAmount = errors.New("withdraw: invalid amount")
)
