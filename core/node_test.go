package core

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"orphi/commission"
	"orphi/config"
	"orphi/core/types"
	"orphi/ledger"
	"orphi/matrix"
	"orphi/pools"
	"orphi/storage"
	"orphi/withdraw"
)

type recordingSink struct {
	payouts map[string]*big.Int
}

func (s *recordingSink) Payable(memberID string, amount *big.Int) error {
	if s.payouts == nil {
		s.payouts = make(map[string]*big.Int)
	}
	s.payouts[memberID] = new(big.Int).Set(amount)
	return nil
}

type recordingAudit struct {
	receipts []*withdraw.Receipt
}

func (a *recordingAudit) Record(receipt *withdraw.Receipt) error {
	a.receipts = append(a.receipts, receipt)
	return nil
}

func newTestNode(t *testing.T) (*Node, *recordingSink, *recordingAudit, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	sink := &recordingSink{}
	auditRec := &recordingAudit{}
	led := ledger.NewLedger(storage.NewMemDB())
	authorize := func(actor string) bool { return actor == "admin" }
	node, err := NewNode(led, config.Default().Engine, sink, auditRec, authorize, clock, nil)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	return node, sink, auditRec, clock
}

func TestBootstrapAndRegisterFlow(t *testing.T) {
	node, _, _, _ := newTestNode(t)

	receipt, err := node.Bootstrap("root", 4)
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if receipt.Gross.Cmp(big.NewInt(20000)) != 0 {
		t.Fatalf("root gross = %s, want tier-4 price 20000", receipt.Gross)
	}

	result, err := node.Register("root", "alice", 1, nil)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if result.Position.Parent != "root" || result.Position.Leg != types.LegLeft {
		t.Fatalf("alice landed at %+v, want root/left", result.Position)
	}
	// Tier-1 price 3000: fee 150, distributable 2850, direct 10% to root.
	if result.Receipt.AdminFee.Cmp(big.NewInt(150)) != 0 {
		t.Fatalf("fee = %s, want 150", result.Receipt.AdminFee)
	}

	root, err := node.GetMember("root")
	if err != nil {
		t.Fatalf("get root: %v", err)
	}
	if root.DirectCount != 1 || root.TeamSize != 1 {
		t.Fatalf("root directs/team = %d/%d, want 1/1", root.DirectCount, root.TeamSize)
	}
	// direct 285 + level-1 85 of 2850.
	if root.Withdrawable.Cmp(big.NewInt(285+85)) != 0 {
		t.Fatalf("root withdrawable = %s, want 370", root.Withdrawable)
	}

	if _, err := node.Register("root", "alice", 1, nil); !errors.Is(err, ledger.ErrMemberExists) {
		t.Fatalf("duplicate register error = %v, want ErrMemberExists", err)
	}
	if _, err := node.Register("ghost", "bob", 1, nil); !errors.Is(err, matrix.ErrUnknownSponsor) {
		t.Fatalf("unknown sponsor error = %v, want ErrUnknownSponsor", err)
	}
}

func TestRegisterIsAtomic(t *testing.T) {
	node, _, _, _ := newTestNode(t)
	if _, err := node.Bootstrap("root", 4); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	// An invalid tier fails after the member create inside the same
	// transaction; nothing may survive.
	if _, err := node.Register("root", "alice", 99, big.NewInt(1000)); !errors.Is(err, commission.ErrInvalidTier) {
		t.Fatalf("register error = %v, want ErrInvalidTier", err)
	}
	if _, err := node.GetMember("alice"); !errors.Is(err, ledger.ErrUnknownMember) {
		t.Fatal("failed registration left a member behind")
	}
	root, _ := node.GetMember("root")
	if root.DirectCount != 0 {
		t.Fatalf("failed registration bumped root directs to %d", root.DirectCount)
	}
}

func TestUpgradeGrowsCapHeadroom(t *testing.T) {
	node, _, _, _ := newTestNode(t)
	if _, err := node.Bootstrap("root", 4); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if _, err := node.Register("root", "alice", 1, nil); err != nil {
		t.Fatalf("register: %v", err)
	}

	before, _ := node.GetMember("alice")
	receipt, err := node.Upgrade("alice", 3, nil)
	if err != nil {
		t.Fatalf("upgrade: %v", err)
	}
	if receipt.Gross.Cmp(big.NewInt(10000)) != 0 {
		t.Fatalf("upgrade gross = %s, want 10000", receipt.Gross)
	}

	after, _ := node.GetMember("alice")
	if after.Tier != 3 {
		t.Fatalf("tier = %d, want 3", after.Tier)
	}
	wantInvested := new(big.Int).Add(before.TotalInvested, big.NewInt(10000))
	if after.TotalInvested.Cmp(wantInvested) != 0 {
		t.Fatalf("invested = %s, want %s", after.TotalInvested, wantInvested)
	}
	if after.Cap().Cmp(before.Cap()) <= 0 {
		t.Fatal("upgrade did not grow the earnings cap")
	}

	if _, err := node.Upgrade("alice", 1, nil); !errors.Is(err, commission.ErrTierRegression) {
		t.Fatalf("downgrade error = %v, want ErrTierRegression", err)
	}
}

func TestWithdrawFlowRecordsAuditAndSink(t *testing.T) {
	node, sink, auditRec, _ := newTestNode(t)
	if _, err := node.Bootstrap("root", 4); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if _, err := node.Register("root", "alice", 3, nil); err != nil {
		t.Fatalf("register: %v", err)
	}

	root, _ := node.GetMember("root")
	requested := new(big.Int).Set(root.Withdrawable)
	receipt, err := node.Withdraw("root", requested)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}

	sum := new(big.Int).Add(receipt.AdminFee, receipt.Payable)
	sum.Add(sum, receipt.Reinvest)
	if sum.Cmp(requested) != 0 {
		t.Fatalf("split sums to %s, want %s", sum, requested)
	}
	if got := sink.payouts["root"]; got == nil || got.Cmp(receipt.Payable) != 0 {
		t.Fatalf("sink got %v, want %s", got, receipt.Payable)
	}
	if len(auditRec.receipts) != 1 || auditRec.receipts[0].Member != "root" {
		t.Fatalf("audit rows = %+v", auditRec.receipts)
	}

	if _, err := node.Withdraw("root", big.NewInt(1_000_000_000)); !errors.Is(err, withdraw.ErrInsufficientBalance) {
		t.Fatalf("overdraft error = %v, want ErrInsufficientBalance", err)
	}
}

func TestHelpPoolDistribution(t *testing.T) {
	node, _, _, clock := newTestNode(t)
	if _, err := node.Bootstrap("root", 4); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	for _, id := range []string{"a", "b"} {
		if _, err := node.Register("root", id, 3, nil); err != nil {
			t.Fatalf("register %s: %v", id, err)
		}
	}

	balances, err := node.PoolBalances()
	if err != nil {
		t.Fatalf("balances: %v", err)
	}
	if balances[pools.Help].Sign() == 0 {
		t.Fatal("help pool did not accrue from contributions")
	}

	report, err := node.Distribute(pools.Help, clock.Now(), "")
	if err != nil {
		t.Fatalf("distribute: %v", err)
	}
	if report.Eligible != 3 {
		t.Fatalf("eligible = %d, want 3", report.Eligible)
	}
	if report.TotalPaid.Sign() == 0 {
		t.Fatal("distribution paid nothing")
	}

	after, err := node.PoolBalances()
	if err != nil {
		t.Fatalf("balances: %v", err)
	}
	if after[pools.Help].Cmp(report.Remainder) != 0 {
		t.Fatalf("pool balance = %s, remainder = %s", after[pools.Help], report.Remainder)
	}

	// A second run inside the same cycle with a meaningful balance is
	// rejected; the carried remainder below the floor is a silent no-op.
	if err := node.Accrue(pools.Help, big.NewInt(30000)); err != nil {
		t.Fatalf("accrue: %v", err)
	}
	if _, err := node.Distribute(pools.Help, clock.Now().Add(time.Hour), ""); !errors.Is(err, pools.ErrDistributionNotDue) {
		t.Fatalf("early rerun error = %v, want ErrDistributionNotDue", err)
	}
	if _, err := node.Distribute(pools.Help, clock.Now().Add(7*24*time.Hour), ""); err != nil {
		t.Fatalf("next cycle: %v", err)
	}
}

func TestClubDistributionRequiresAdmin(t *testing.T) {
	node, _, _, clock := newTestNode(t)
	if _, err := node.Bootstrap("root", 4); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if _, err := node.Register("root", "alice", 3, nil); err != nil {
		t.Fatalf("register: %v", err)
	}

	if _, err := node.Distribute(pools.Club, clock.Now(), "mallory"); !errors.Is(err, pools.ErrNotAuthorized) {
		t.Fatalf("unauthorized error = %v, want ErrNotAuthorized", err)
	}
	report, err := node.Distribute(pools.Club, clock.Now(), "admin")
	if err != nil {
		t.Fatalf("authorized distribute: %v", err)
	}
	// Only tier >= 3 members qualify; root is tier 4 and alice tier 3.
	if report.Eligible != 2 {
		t.Fatalf("eligible = %d, want 2", report.Eligible)
	}
}

func TestReadinessAndRank(t *testing.T) {
	node, _, _, _ := newTestNode(t)
	if _, err := node.Bootstrap("root", 4); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if _, err := node.Register("root", "alice", 1, nil); err != nil {
		t.Fatalf("register: %v", err)
	}

	// Fresh pools have a zero last-distribution stamp and are due.
	due, _, err := node.Readiness(pools.Leader)
	if err != nil {
		t.Fatalf("readiness: %v", err)
	}
	if !due {
		t.Fatal("fresh leader pool not due")
	}

	rank, err := node.RankOf("root")
	if err != nil {
		t.Fatalf("rank: %v", err)
	}
	if rank != pools.RankNone {
		t.Fatalf("rank = %s, want none for a team of 1", rank)
	}

	left, right, err := node.MatrixChildren("root")
	if err != nil {
		t.Fatalf("children: %v", err)
	}
	if left != "alice" || right != "" {
		t.Fatalf("children = %q/%q, want alice/empty", left, right)
	}

	chain, err := node.Upline("alice")
	if err != nil {
		t.Fatalf("upline: %v", err)
	}
	if len(chain) != 1 || chain[0].Address != "root" {
		t.Fatalf("upline = %+v", chain)
	}
}
