package commission

import (
	"fmt"
	"math/big"
)

// BpsDenominator is the fixed denominator for all percentage math. Every
// rate in the engine is expressed in basis points of it.
const BpsDenominator = 10_000

// MaxUplineLevels bounds the sponsor-chain walk.
const MaxUplineLevels = 30

// Rates is the bonus-rate table attached to a package tier. All values are
// basis points applied to the distributable amount (gross minus admin fee).
type Rates struct {
	AdminFeeBps        uint32
	DirectBps          uint32
	Level1Bps          uint32
	Level2to3Bps       uint32
	UplineAggregateBps uint32
	BinaryBps          uint32
	LeaderPoolBps      uint32
	HelpPoolBps        uint32
	ClubPoolBps        uint32
}

// Tier is a static package catalog entry. Immutable once configured; catalog
// updates never apply retroactively to existing investments.
type Tier struct {
	Ordinal       uint8
	Price         *big.Int
	CapMultiplier uint32
	Rates         Rates
}

// Catalog maps tier ordinals to their configuration.
type Catalog map[uint8]Tier

// Lookup resolves the tier or reports ErrInvalidTier.
func (c Catalog) Lookup(ordinal uint8) (Tier, error) {
	tier, ok := c[ordinal]
	if !ok {
		return Tier{}, fmt.Errorf("%w: tier %d", ErrInvalidTier, ordinal)
	}
	return tier, nil
}

// ConvertUnits converts a unit-denominated contribution into minor currency
// units at the supplied oracle price (minor units per whole unit). The engine
// never fetches prices itself; the caller passes the quote through.
func ConvertUnits(units, pricePerUnit *big.Int) *big.Int {
	if units == nil || pricePerUnit == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Mul(units, pricePerUnit)
}

// share computes floor(amount × rate / BpsDenominator). Floor-only rounding
// keeps the sum of all shares at or below the distributable amount.
func share(amount *big.Int, rateBps uint32) *big.Int {
	if amount == nil || amount.Sign() <= 0 || rateBps == 0 {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(amount, new(big.Int).SetUint64(uint64(rateBps)))
	return out.Quo(out, big.NewInt(BpsDenominator))
}

// uplineShare computes the per-level amount for levels 4..30: the aggregate
// rate divided across the full 30-level span. Levels beyond the actual chain
// are simply never paid; their share is retained as breakage.
func uplineShare(amount *big.Int, aggregateBps uint32) *big.Int {
	if amount == nil || amount.Sign() <= 0 || aggregateBps == 0 {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(amount, new(big.Int).SetUint64(uint64(aggregateBps)))
	return out.Quo(out, big.NewInt(BpsDenominator*MaxUplineLevels))
}
