package pools

import "errors"

var (
	// ErrDistributionNotDue indicates a distribution before the pool's next
	// scheduled time. Callers should retry after the schedule elapses.
	ErrDistributionNotDue = errors.New("pools: distribution not due")
	// ErrNotAuthorized indicates a manual distribution trigger from an actor
	// without the required capability.
	ErrNotAuthorized = errors.New("pools: actor not authorized")
)
