package commission

import "errors"

var (
	// ErrInvalidTier indicates a tier ordinal outside the configured catalog.
	ErrInvalidTier = errors.New("commission: invalid tier")
	// ErrTierRegression indicates an upgrade to a lower tier; package tiers
	// are monotonically non-decreasing over a member's life.
	ErrTierRegression = errors.New("commission: tier cannot decrease")
)
