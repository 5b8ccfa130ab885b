package core

import (
	"log/slog"
	"math/big"
	"time"

	"github.com/jonboulle/clockwork"

	"orphi/commission"
	"orphi/config"
	"orphi/core/types"
	"orphi/ledger"
	"orphi/matrix"
	"orphi/observability/metrics"
	"orphi/pools"
	"orphi/withdraw"
)

// AuditRecorder persists immutable withdrawal records.
type AuditRecorder interface {
	Record(receipt *withdraw.Receipt) error
}

// RegistrationResult bundles the outcome of a registration event.
type RegistrationResult struct {
	Position matrix.Position
	Receipt  *commission.Receipt
}

// Node ties the ledger and the engines together and runs every public
// contract operation as one atomic ledger transaction.
type Node struct {
	ledger      *ledger.Ledger
	engine      *commission.Engine
	distributor *pools.Distributor
	processor   *withdraw.Processor
	audit       AuditRecorder
	clock       clockwork.Clock
	log         *slog.Logger
	metrics     *metrics.EngineMetrics
	ranks       pools.RankThresholds
}

// NewNode wires the engines over the supplied ledger using the configured
// compensation plan. sink and audit may be nil (payouts dropped, audit rows
// skipped); authorize gates manual club-pool distributions.
func NewNode(led *ledger.Ledger, cfg config.Engine, sink withdraw.PayoutSink, audit AuditRecorder, authorize pools.Authorizer, clock clockwork.Clock, log *slog.Logger) (*Node, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if log == nil {
		log = slog.Default()
	}
	for _, name := range pools.Names {
		if err := led.EnsurePool(name); err != nil {
			return nil, err
		}
	}
	ranks := pools.RankThresholds{
		ShiningStarTeam:    cfg.Ranks.ShiningStarTeam,
		ShiningStarDirects: cfg.Ranks.ShiningStarDirects,
		SilverStarTeam:     cfg.Ranks.SilverStarTeam,
	}
	return &Node{
		ledger: led,
		engine: commission.NewEngine(catalogFromConfig(cfg)),
		distributor: pools.NewDistributor(pools.Config{
			LeaderInterval: cfg.Pools.LeaderInterval(),
			HelpInterval:   cfg.Pools.HelpInterval(),
			ClubMinTier:    cfg.Pools.ClubMinTier,
			Ranks:          ranks,
		}, clock, authorize),
		processor: withdraw.NewProcessor(withdraw.Config{
			AdminFeeBps:      cfg.Withdrawal.AdminFeeBps,
			CompoundBonusBps: cfg.Withdrawal.CompoundBonusBps,
			Tiers:            withdrawTiers(cfg.Withdrawal.Tiers),
		}, sink),
		audit:   audit,
		clock:   clock,
		log:     log,
		metrics: metrics.Engine(),
		ranks:   ranks,
	}, nil
}

func catalogFromConfig(cfg config.Engine) commission.Catalog {
	rates := commission.Rates{
		AdminFeeBps:        cfg.Rates.AdminFeeBps,
		DirectBps:          cfg.Rates.DirectBps,
		Level1Bps:          cfg.Rates.Level1Bps,
		Level2to3Bps:       cfg.Rates.Level2to3Bps,
		UplineAggregateBps: cfg.Rates.UplineAggregateBps,
		BinaryBps:          cfg.Rates.BinaryBps,
		LeaderPoolBps:      cfg.Rates.LeaderPoolBps,
		HelpPoolBps:        cfg.Rates.HelpPoolBps,
		ClubPoolBps:        cfg.Rates.ClubPoolBps,
	}
	catalog := make(commission.Catalog, len(cfg.Packages))
	for _, pkg := range cfg.Packages {
		catalog[pkg.Tier] = commission.Tier{
			Ordinal:       pkg.Tier,
			Price:         big.NewInt(pkg.PriceMinor),
			CapMultiplier: pkg.CapMultiplier,
			Rates:         rates,
		}
	}
	return catalog
}

func withdrawTiers(tiers []config.WithdrawalTier) []withdraw.TierRule {
	out := make([]withdraw.TierRule, 0, len(tiers))
	for _, tier := range tiers {
		out = append(out, withdraw.TierRule{MinDirects: tier.MinDirects, PayableBps: tier.PayableBps})
	}
	return out
}

// Bootstrap seeds the root member, who has no sponsor and sits at the top of
// both graphs. The root's contribution accrues to the pools but pays no
// upline.
func (n *Node) Bootstrap(rootID string, tier uint8) (*commission.Receipt, error) {
	price, err := n.tierPrice(tier)
	if err != nil {
		return nil, err
	}
	var receipt *commission.Receipt
	events, err := n.ledger.Update(func(tx *ledger.Tx) error {
		if err := tx.Create(types.NewMember(rootID, "", n.clock.Now().Unix())); err != nil {
			return err
		}
		receipt, err = n.engine.ApplyContribution(tx, rootID, tier, price)
		return err
	})
	if err != nil {
		return nil, err
	}
	n.emit(events)
	n.afterContribution(receipt)
	return receipt, nil
}

// Register creates a member under sponsorID, places them in the matrix and
// distributes the contribution. A nil gross defaults to the tier price.
func (n *Node) Register(sponsorID, memberID string, tier uint8, gross *big.Int) (*RegistrationResult, error) {
	if gross == nil {
		price, err := n.tierPrice(tier)
		if err != nil {
			return nil, err
		}
		gross = price
	}
	result := &RegistrationResult{}
	events, err := n.ledger.Update(func(tx *ledger.Tx) error {
		if err := tx.Create(types.NewMember(memberID, sponsorID, n.clock.Now().Unix())); err != nil {
			return err
		}
		pos, err := matrix.Place(tx, sponsorID, memberID)
		if err != nil {
			return err
		}
		result.Position = pos
		receipt, err := n.engine.ApplyContribution(tx, memberID, tier, gross)
		if err != nil {
			return err
		}
		result.Receipt = receipt
		return nil
	})
	if err != nil {
		return nil, err
	}
	n.emit(events)
	n.afterContribution(result.Receipt)
	if counters, err := n.ledger.Counters(); err == nil {
		n.metrics.SetMembers(counters.Members)
	}
	return result, nil
}

// Upgrade applies a package upgrade contribution for an existing member.
func (n *Node) Upgrade(memberID string, tier uint8, gross *big.Int) (*commission.Receipt, error) {
	if gross == nil {
		price, err := n.tierPrice(tier)
		if err != nil {
			return nil, err
		}
		gross = price
	}
	var receipt *commission.Receipt
	events, err := n.ledger.Update(func(tx *ledger.Tx) error {
		var err error
		receipt, err = n.engine.ApplyContribution(tx, memberID, tier, gross)
		return err
	})
	if err != nil {
		return nil, err
	}
	n.emit(events)
	n.afterContribution(receipt)
	return receipt, nil
}

// Withdraw processes a withdrawal request and records the audit row.
func (n *Node) Withdraw(memberID string, amount *big.Int) (*withdraw.Receipt, error) {
	var receipt *withdraw.Receipt
	events, err := n.ledger.Update(func(tx *ledger.Tx) error {
		var err error
		receipt, err = n.processor.Withdraw(tx, memberID, amount, n.clock.Now())
		return err
	})
	if err != nil {
		return nil, err
	}
	n.emit(events)
	n.metrics.ObserveWithdrawal(receipt.Payable)
	if n.audit != nil {
		if err := n.audit.Record(receipt); err != nil {
			n.log.Error("audit record failed", "member", memberID, "error", err)
		}
	}
	return receipt, nil
}

// Distribute runs one pool distribution cycle. A zero time means now.
func (n *Node) Distribute(pool string, at time.Time, actor string) (*pools.Report, error) {
	var report *pools.Report
	events, err := n.ledger.Update(func(tx *ledger.Tx) error {
		var err error
		report, err = n.distributor.Distribute(tx, pool, at, actor)
		return err
	})
	if err != nil {
		return nil, err
	}
	n.emit(events)
	if report.TotalPaid.Sign() > 0 {
		n.metrics.ObserveDistribution(pool)
	}
	n.metrics.SetPoolBalance(pool, report.Remainder)
	return report, nil
}

// Accrue adds an external amount to a pool (administrative top-up path).
func (n *Node) Accrue(pool string, amount *big.Int) error {
	return n.ledger.Accrue(pool, amount)
}

// GetMember returns a copy of the member record.
func (n *Node) GetMember(id string) (*types.Member, error) {
	return n.ledger.GetMember(id)
}

// MatrixChildren returns the left and right matrix child ids of a member.
func (n *Node) MatrixChildren(id string) (left, right string, err error) {
	member, err := n.ledger.GetMember(id)
	if err != nil {
		return "", "", err
	}
	return member.MatrixLeft, member.MatrixRight, nil
}

// Upline returns the sponsor-referral ancestors, nearest first, capped at the
// commission walk depth.
func (n *Node) Upline(id string) ([]*types.Member, error) {
	return n.ledger.UplineChain(id, commission.MaxUplineLevels)
}

// PoolBalances returns the current balance of every pool.
func (n *Node) PoolBalances() (map[string]*big.Int, error) {
	out := make(map[string]*big.Int, len(pools.Names))
	for _, name := range pools.Names {
		pool, err := n.ledger.GetPool(name)
		if err != nil {
			return nil, err
		}
		out[name] = pool.Balance
		n.metrics.SetPoolBalance(name, pool.Balance)
	}
	return out, nil
}

// Readiness reports whether a pool is due for distribution and when the next
// cycle opens. Club pools are manual and never report ready.
func (n *Node) Readiness(pool string) (bool, time.Time, error) {
	record, err := n.ledger.GetPool(pool)
	if err != nil {
		return false, time.Time{}, err
	}
	due, next := n.distributor.Ready(record, time.Time{})
	return due, next, nil
}

// RankOf returns the member's leader rank.
func (n *Node) RankOf(id string) (pools.Rank, error) {
	member, err := n.ledger.GetMember(id)
	if err != nil {
		return pools.RankNone, err
	}
	return n.ranks.RankOf(member), nil
}

// Ledger exposes the underlying store for read paths.
func (n *Node) Ledger() *ledger.Ledger {
	return n.ledger
}

// Catalog exposes the configured tier table.
func (n *Node) Catalog() commission.Catalog {
	return n.engine.Catalog()
}

func (n *Node) tierPrice(tier uint8) (*big.Int, error) {
	entry, err := n.engine.Catalog().Lookup(tier)
	if err != nil {
		return nil, err
	}
	return entry.Price, nil
}

func (n *Node) afterContribution(receipt *commission.Receipt) {
	if receipt == nil {
		return
	}
	byKind := make(map[string]*big.Int)
	for _, line := range receipt.Lines {
		kind := string(line.Kind)
		if _, ok := byKind[kind]; !ok {
			byKind[kind] = big.NewInt(0)
		}
		byKind[kind] = new(big.Int).Add(byKind[kind], line.Credited)
	}
	n.metrics.ObserveContribution(byKind, receipt.Breakage)
	for name := range receipt.PoolAccruals {
		if pool, err := n.ledger.GetPool(name); err == nil {
			n.metrics.SetPoolBalance(name, pool.Balance)
		}
	}
}

func (n *Node) emit(events []types.Event) {
	for _, evt := range events {
		args := make([]any, 0, len(evt.Attributes)*2)
		for k, v := range evt.Attributes {
			args = append(args, k, v)
		}
		n.log.Info(evt.Type, args...)
	}
}
