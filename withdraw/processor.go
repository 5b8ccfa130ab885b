package withdraw

import (
	"math/big"
	"sort"
	"strconv"
	"time"

	"orphi/core/types"
)

const (
	eventWithdrawn = "withdraw.processed"

	bpsDenominator = 10_000
)

// State describes the ledger functionality the processor needs.
type State interface {
	Member(id string) (*types.Member, error)
	Debit(id string, amount *big.Int) error
	CreditBalance(id string, amount *big.Int) error
	CreditUnderCap(id string, amount *big.Int) (*big.Int, error)
	AppendEvent(evt *types.Event)
}

// PayoutSink receives the Payable effect for external execution. The engine
// never moves value off-ledger itself; the custody layer behind this
// interface does.
type PayoutSink interface {
	Payable(memberID string, amount *big.Int) error
}

// TierRule maps a minimum direct-referral count to the payable share of the
// net withdrawal, in basis points.
type TierRule struct {
	MinDirects uint32
	PayableBps uint32
}

// Config holds the withdrawal policy. Tier thresholds are configuration, not
// hard business invariants.
type Config struct {
	AdminFeeBps      uint32
	CompoundBonusBps uint32
	Tiers            []TierRule
}

// Receipt is the immutable record of one processed withdrawal.
type Receipt struct {
	Member      string
	Requested   *big.Int
	AdminFee    *big.Int
	Net         *big.Int
	PayableBps  uint32
	DirectCount uint32
	Payable     *big.Int
	Reinvest    *big.Int
	Bonus       *big.Int
	At          time.Time
}

// Processor applies the progressive withdrawal policy.
type Processor struct {
	cfg  Config
	sink PayoutSink
}

// NewProcessor constructs a processor. The sink may be nil in tests; the
// Payable effect is then dropped.
func NewProcessor(cfg Config, sink PayoutSink) *Processor {
	cfg.Tiers = append([]TierRule(nil), cfg.Tiers...)
	sort.Slice(cfg.Tiers, func(i, j int) bool { return cfg.Tiers[i].MinDirects > cfg.Tiers[j].MinDirects })
	return &Processor{cfg: cfg, sink: sink}
}

// PayableBpsFor resolves the payable share for a direct-referral count.
func (p *Processor) PayableBpsFor(directs uint32) uint32 {
	for _, tier := range p.cfg.Tiers {
		if directs >= tier.MinDirects {
			return tier.PayableBps
		}
	}
	return 0
}

// Withdraw processes a withdrawal request. The requested amount is debited up
// front; the mandatory reinvestment share (plus the auto-compound bonus when
// opted in) is credited back, and the payable share is emitted to the payout
// sink. payable + reinvest + admin fee always equals the requested amount
// exactly; only the compound bonus is cap-gated.
func (p *Processor) Withdraw(st State, memberID string, requested *big.Int, at time.Time) (*Receipt, error) {
	if requested == nil || requested.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	member, err := st.Member(memberID)
	if err != nil {
		return nil, err
	}
	if member.Blacklisted || member.Paused {
		return nil, ErrWithdrawalBlocked
	}
	if member.Withdrawable.Cmp(requested) < 0 {
		return nil, ErrInsufficientBalance
	}

	fee := floorShare(requested, p.cfg.AdminFeeBps)
	net := new(big.Int).Sub(requested, fee)
	payableBps := p.PayableBpsFor(member.DirectCount)
	payable := floorShare(net, payableBps)
	reinvest := new(big.Int).Sub(net, payable)

	if err := st.Debit(memberID, requested); err != nil {
		return nil, err
	}
	if err := st.CreditBalance(memberID, reinvest); err != nil {
		return nil, err
	}

	bonus := big.NewInt(0)
	if member.AutoCompound && p.cfg.CompoundBonusBps > 0 {
		proposed := floorShare(reinvest, p.cfg.CompoundBonusBps)
		bonus, err = st.CreditUnderCap(memberID, proposed)
		if err != nil {
			return nil, err
		}
	}

	if p.sink != nil && payable.Sign() > 0 {
		if err := p.sink.Payable(memberID, payable); err != nil {
			return nil, err
		}
	}

	receipt := &Receipt{
		Member:      memberID,
		Requested:   new(big.Int).Set(requested),
		AdminFee:    fee,
		Net:         net,
		PayableBps:  payableBps,
		DirectCount: member.DirectCount,
		Payable:     payable,
		Reinvest:    reinvest,
		Bonus:       bonus,
		At:          at,
	}
	st.AppendEvent(&types.Event{Type: eventWithdrawn, Attributes: map[string]string{
		"member":    memberID,
		"requested": requested.String(),
		"adminFee":  fee.String(),
		"payable":   payable.String(),
		"reinvest":  reinvest.String(),
		"bonus":     bonus.String(),
		"tierBps":   strconv.FormatUint(uint64(payableBps), 10),
	}})
	return receipt, nil
}

func floorShare(amount *big.Int, rateBps uint32) *big.Int {
	if amount == nil || amount.Sign() <= 0 || rateBps == 0 {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(amount, new(big.Int).SetUint64(uint64(rateBps)))
	return out.Quo(out, big.NewInt(bpsDenominator))
}
