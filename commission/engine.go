package commission

import (
	"math/big"
	"strconv"

	"orphi/core/types"
	"orphi/pools"
)

const (
	eventApplied = "commission.applied"
)

// State describes the ledger functionality the calculator needs. Credits are
// gated by the earnings cap inside the state implementation; a capped
// beneficiary simply receives a partial or zero credit.
type State interface {
	Member(id string) (*types.Member, error)
	Put(m *types.Member)
	CreditUnderCap(id string, amount *big.Int) (*big.Int, error)
	Accrue(pool string, amount *big.Int) error
	RecordContribution(gross *big.Int)
	AppendEvent(evt *types.Event)
}

// CreditKind labels a receipt line.
type CreditKind string

const (
	CreditDirect CreditKind = "direct"
	CreditLevel  CreditKind = "level"
	CreditBinary CreditKind = "binary"
)

// CreditLine records one beneficiary credit, before and after cap gating.
type CreditLine struct {
	Beneficiary string
	Kind        CreditKind
	Level       int
	Proposed    *big.Int
	Credited    *big.Int
}

// Receipt is the audit record for a single contribution distribution.
type Receipt struct {
	Member        string
	Tier          uint8
	Gross         *big.Int
	AdminFee      *big.Int
	Distributable *big.Int
	Lines         []CreditLine
	PoolAccruals  map[string]*big.Int
	TotalCredited *big.Int
	Breakage      *big.Int
}

// Engine computes and credits all bonus channels for qualifying monetary
// events (registrations and package upgrades).
type Engine struct {
	catalog Catalog
}

// NewEngine constructs a calculator over the supplied tier catalog.
func NewEngine(catalog Catalog) *Engine {
	return &Engine{catalog: catalog}
}

// Catalog exposes the configured tier table (read-only copy).
func (e *Engine) Catalog() Catalog {
	out := make(Catalog, len(e.catalog))
	for k, v := range e.catalog {
		out[k] = v
	}
	return out
}

// ApplyContribution distributes a contribution of gross minor units made by
// memberID at the given package tier. Steps run in fixed order: admin fee,
// direct bonus, 30-level upline walk, binary bonus, pool accruals. All math
// rounds down, so the sum of every share never exceeds the distributable
// amount; the de minimis remainder stays with the admin side as designed
// breakage. A capped or blacklisted beneficiary receives zero for their step
// without aborting the rest of the distribution.
func (e *Engine) ApplyContribution(st State, memberID string, tierOrdinal uint8, gross *big.Int) (*Receipt, error) {
	member, err := st.Member(memberID)
	if err != nil {
		return nil, err
	}
	tier, err := e.catalog.Lookup(tierOrdinal)
	if err != nil {
		return nil, err
	}
	if tierOrdinal < member.Tier {
		return nil, ErrTierRegression
	}
	if gross == nil || gross.Sign() <= 0 {
		gross = big.NewInt(0)
	}

	// Book the investment first so the contributor's own cap headroom grows
	// with this contribution.
	member.Tier = tierOrdinal
	member.CapMultiplier = tier.CapMultiplier
	member.TotalInvested = new(big.Int).Add(member.TotalInvested, gross)
	st.Put(member)

	rates := tier.Rates
	adminFee := share(gross, rates.AdminFeeBps)
	distributable := new(big.Int).Sub(gross, adminFee)

	receipt := &Receipt{
		Member:        memberID,
		Tier:          tierOrdinal,
		Gross:         new(big.Int).Set(gross),
		AdminFee:      adminFee,
		Distributable: new(big.Int).Set(distributable),
		PoolAccruals:  make(map[string]*big.Int),
		TotalCredited: big.NewInt(0),
		Breakage:      big.NewInt(0),
	}

	if member.Sponsor != "" {
		if err := e.credit(st, receipt, member.Sponsor, CreditDirect, 0, share(distributable, rates.DirectBps)); err != nil {
			return nil, err
		}
	}

	if err := e.walkUpline(st, receipt, member.Sponsor, distributable, rates); err != nil {
		return nil, err
	}

	if err := e.applyBinary(st, receipt, member, distributable, rates); err != nil {
		return nil, err
	}

	for _, accrual := range []struct {
		name string
		bps  uint32
	}{
		{pools.Leader, rates.LeaderPoolBps},
		{pools.Help, rates.HelpPoolBps},
		{pools.Club, rates.ClubPoolBps},
	} {
		amount := share(distributable, accrual.bps)
		if amount.Sign() == 0 {
			continue
		}
		if err := st.Accrue(accrual.name, amount); err != nil {
			return nil, err
		}
		receipt.PoolAccruals[accrual.name] = amount
	}

	st.RecordContribution(gross)
	receipt.Breakage = breakage(receipt)
	st.AppendEvent(&types.Event{Type: eventApplied, Attributes: map[string]string{
		"member":        memberID,
		"tier":          strconv.Itoa(int(tierOrdinal)),
		"gross":         gross.String(),
		"adminFee":      adminFee.String(),
		"distributable": distributable.String(),
		"credited":      receipt.TotalCredited.String(),
		"breakage":      receipt.Breakage.String(),
	}})
	return receipt, nil
}

// walkUpline pays the per-level upline bonuses along the sponsor-referral
// chain. Level 1 is the direct sponsor; levels beyond the actual chain length
// are not paid and their share is not redistributed.
func (e *Engine) walkUpline(st State, receipt *Receipt, sponsor string, distributable *big.Int, rates Rates) error {
	current := sponsor
	for level := 1; level <= MaxUplineLevels && current != ""; level++ {
		var proposed *big.Int
		switch {
		case level == 1:
			proposed = share(distributable, rates.Level1Bps)
		case level <= 3:
			proposed = share(distributable, rates.Level2to3Bps)
		default:
			proposed = uplineShare(distributable, rates.UplineAggregateBps)
		}
		if err := e.credit(st, receipt, current, CreditLevel, level, proposed); err != nil {
			return err
		}
		ancestor, err := st.Member(current)
		if err != nil {
			return err
		}
		current = ancestor.Sponsor
	}
	return nil
}

// applyBinary credits the contribution volume to the matrix parent's leg and
// pays the binary bonus on newly matched volume. The matched amount is
// flushed from both legs.
func (e *Engine) applyBinary(st State, receipt *Receipt, member *types.Member, distributable *big.Int, rates Rates) error {
	if member.MatrixParent == "" || member.MatrixLeg == types.LegNone {
		return nil
	}
	parent, err := st.Member(member.MatrixParent)
	if err != nil {
		return err
	}
	switch member.MatrixLeg {
	case types.LegLeft:
		parent.LeftVolume = new(big.Int).Add(parent.LeftVolume, distributable)
	case types.LegRight:
		parent.RightVolume = new(big.Int).Add(parent.RightVolume, distributable)
	}
	matched := new(big.Int).Set(parent.LeftVolume)
	if parent.RightVolume.Cmp(matched) < 0 {
		matched.Set(parent.RightVolume)
	}
	if matched.Sign() > 0 {
		parent.LeftVolume = new(big.Int).Sub(parent.LeftVolume, matched)
		parent.RightVolume = new(big.Int).Sub(parent.RightVolume, matched)
	}
	st.Put(parent)
	if matched.Sign() > 0 {
		return e.credit(st, receipt, parent.Address, CreditBinary, 0, share(matched, rates.BinaryBps))
	}
	return nil
}

// credit runs one cap-gated credit and records the receipt line. Blacklisted
// beneficiaries receive zero; the shortfall is breakage, never redistributed.
func (e *Engine) credit(st State, receipt *Receipt, beneficiary string, kind CreditKind, level int, proposed *big.Int) error {
	line := CreditLine{
		Beneficiary: beneficiary,
		Kind:        kind,
		Level:       level,
		Proposed:    proposed,
		Credited:    big.NewInt(0),
	}
	if proposed.Sign() > 0 {
		target, err := st.Member(beneficiary)
		if err != nil {
			return err
		}
		if !target.Blacklisted {
			credited, err := st.CreditUnderCap(beneficiary, proposed)
			if err != nil {
				return err
			}
			line.Credited = credited
			receipt.TotalCredited = new(big.Int).Add(receipt.TotalCredited, credited)
		}
	}
	receipt.Lines = append(receipt.Lines, line)
	return nil
}

func breakage(receipt *Receipt) *big.Int {
	rest := new(big.Int).Set(receipt.Distributable)
	rest.Sub(rest, receipt.TotalCredited)
	for _, amount := range receipt.PoolAccruals {
		rest.Sub(rest, amount)
	}
	if rest.Sign() < 0 {
		rest.SetInt64(0)
	}
	return rest
}
