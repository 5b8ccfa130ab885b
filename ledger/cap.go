package ledger

import (
	"math/big"

	"orphi/core/types"
)

// creditUnderCap applies the earnings-cap clamp to a proposed credit and
// mutates the member in place. The returned amount is what was actually
// credited, which may be less than proposed, including zero.
//
// cap      = capMultiplier × totalInvested
// headroom = max(0, cap − lifetimeEarned)
// credited = min(proposed, headroom)
func creditUnderCap(member *types.Member, proposed *big.Int) *big.Int {
	if member == nil || proposed == nil || proposed.Sign() <= 0 {
		return big.NewInt(0)
	}
	headroom := member.Headroom()
	credited := new(big.Int).Set(proposed)
	if credited.Cmp(headroom) > 0 {
		credited.Set(headroom)
	}
	if credited.Sign() <= 0 {
		return big.NewInt(0)
	}
	member.LifetimeEarned = new(big.Int).Add(member.LifetimeEarned, credited)
	member.Withdrawable = new(big.Int).Add(member.Withdrawable, credited)
	return credited
}
