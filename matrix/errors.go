package matrix

import "errors"

var (
	// ErrUnknownSponsor indicates the sponsor is missing or blacklisted.
	ErrUnknownSponsor = errors.New("matrix: unknown sponsor")
	// ErrAlreadyPlaced indicates the member already holds a matrix position.
	ErrAlreadyPlaced = errors.New("matrix: member already placed")
)
