package ledger

import (
	"errors"
	"math/big"
	"testing"

	"orphi/core/types"
	"orphi/storage"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	return NewLedger(storage.NewMemDB())
}

func mustUpdate(t *testing.T, l *Ledger, fn func(tx *Tx) error) []types.Event {
	t.Helper()
	events, err := l.Update(fn)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	return events
}

func seedMember(t *testing.T, l *Ledger, id, sponsor string, invested int64, capMult uint32) {
	t.Helper()
	mustUpdate(t, l, func(tx *Tx) error {
		m := types.NewMember(id, sponsor, 1)
		m.TotalInvested = big.NewInt(invested)
		m.CapMultiplier = capMult
		return tx.Create(m)
	})
}

func TestCreateAndGetMember(t *testing.T) {
	l := newTestLedger(t)
	seedMember(t, l, "alice", "root", 3000, 4)

	got, err := l.GetMember("alice")
	if err != nil {
		t.Fatalf("get member: %v", err)
	}
	if got.Sponsor != "root" {
		t.Fatalf("sponsor = %q, want root", got.Sponsor)
	}
	if got.TotalInvested.Cmp(big.NewInt(3000)) != 0 {
		t.Fatalf("invested = %s, want 3000", got.TotalInvested)
	}

	if _, err := l.GetMember("nobody"); !errors.Is(err, ErrUnknownMember) {
		t.Fatalf("unknown member error = %v, want ErrUnknownMember", err)
	}
}

func TestCreateDuplicateFails(t *testing.T) {
	l := newTestLedger(t)
	seedMember(t, l, "alice", "", 0, 1)

	_, err := l.Update(func(tx *Tx) error {
		return tx.Create(types.NewMember("alice", "", 2))
	})
	if !errors.Is(err, ErrMemberExists) {
		t.Fatalf("duplicate create error = %v, want ErrMemberExists", err)
	}
}

func TestUpdateRollsBackOnError(t *testing.T) {
	l := newTestLedger(t)
	boom := errors.New("boom")

	_, err := l.Update(func(tx *Tx) error {
		if err := tx.Create(types.NewMember("alice", "", 1)); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("update error = %v, want boom", err)
	}

	if _, err := l.GetMember("alice"); !errors.Is(err, ErrUnknownMember) {
		t.Fatal("rolled-back create reached the store")
	}
	counters, err := l.Counters()
	if err != nil {
		t.Fatalf("counters: %v", err)
	}
	if counters.Members != 0 {
		t.Fatalf("members counter = %d after rollback, want 0", counters.Members)
	}
}

func TestCreditUnderCapClampsToHeadroom(t *testing.T) {
	l := newTestLedger(t)
	seedMember(t, l, "alice", "", 3000, 4) // cap 12000

	mustUpdate(t, l, func(tx *Tx) error {
		m, err := tx.Member("alice")
		if err != nil {
			return err
		}
		m.LifetimeEarned = big.NewInt(11950)
		tx.Put(m)
		return nil
	})

	mustUpdate(t, l, func(tx *Tx) error {
		credited, err := tx.CreditUnderCap("alice", big.NewInt(950))
		if err != nil {
			return err
		}
		if credited.Cmp(big.NewInt(50)) != 0 {
			t.Fatalf("credited = %s, want 50", credited)
		}
		return nil
	})

	got, err := l.GetMember("alice")
	if err != nil {
		t.Fatalf("get member: %v", err)
	}
	if got.LifetimeEarned.Cmp(big.NewInt(12000)) != 0 {
		t.Fatalf("lifetime earned = %s, want 12000", got.LifetimeEarned)
	}
	if got.Withdrawable.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("withdrawable = %s, want 50", got.Withdrawable)
	}
	if !got.Capped() {
		t.Fatal("member should be capped after clamp")
	}

	// Further credits are zero, not errors.
	mustUpdate(t, l, func(tx *Tx) error {
		credited, err := tx.CreditUnderCap("alice", big.NewInt(100))
		if err != nil {
			return err
		}
		if credited.Sign() != 0 {
			t.Fatalf("capped credit = %s, want 0", credited)
		}
		return nil
	})
}

func TestDebitInsufficientBalance(t *testing.T) {
	l := newTestLedger(t)
	seedMember(t, l, "alice", "", 3000, 4)

	mustUpdate(t, l, func(tx *Tx) error {
		if _, err := tx.CreditUnderCap("alice", big.NewInt(100)); err != nil {
			return err
		}
		return nil
	})

	_, err := l.Update(func(tx *Tx) error {
		return tx.Debit("alice", big.NewInt(101))
	})
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("debit error = %v, want ErrInsufficientBalance", err)
	}

	mustUpdate(t, l, func(tx *Tx) error {
		return tx.Debit("alice", big.NewInt(100))
	})
	got, _ := l.GetMember("alice")
	if got.Withdrawable.Sign() != 0 {
		t.Fatalf("withdrawable = %s after full debit, want 0", got.Withdrawable)
	}
}

func TestPoolAccrual(t *testing.T) {
	l := newTestLedger(t)
	if err := l.EnsurePool("help"); err != nil {
		t.Fatalf("ensure pool: %v", err)
	}

	if err := l.Accrue("help", big.NewInt(250)); err != nil {
		t.Fatalf("accrue: %v", err)
	}
	if err := l.Accrue("help", big.NewInt(750)); err != nil {
		t.Fatalf("accrue: %v", err)
	}

	pool, err := l.GetPool("help")
	if err != nil {
		t.Fatalf("get pool: %v", err)
	}
	if pool.Balance.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("pool balance = %s, want 1000", pool.Balance)
	}

	if err := l.Accrue("missing", big.NewInt(1)); !errors.Is(err, ErrUnknownPool) {
		t.Fatalf("accrue unknown pool error = %v, want ErrUnknownPool", err)
	}
}

func TestMembersRegistrationOrder(t *testing.T) {
	l := newTestLedger(t)
	for _, id := range []string{"carol", "alice", "bob"} {
		seedMember(t, l, id, "", 0, 1)
	}

	members, err := l.Members()
	if err != nil {
		t.Fatalf("members: %v", err)
	}
	got := make([]string, 0, len(members))
	for _, m := range members {
		got = append(got, m.Address)
	}
	want := []string{"carol", "alice", "bob"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("member order = %v, want %v", got, want)
		}
	}
}

func TestUplineChain(t *testing.T) {
	l := newTestLedger(t)
	seedMember(t, l, "root", "", 0, 1)
	seedMember(t, l, "a", "root", 0, 1)
	seedMember(t, l, "b", "a", 0, 1)
	seedMember(t, l, "c", "b", 0, 1)

	chain, err := l.UplineChain("c", 2)
	if err != nil {
		t.Fatalf("upline: %v", err)
	}
	if len(chain) != 2 || chain[0].Address != "b" || chain[1].Address != "a" {
		t.Fatalf("upline chain wrong: %#v", chain)
	}

	chain, err = l.UplineChain("c", 30)
	if err != nil {
		t.Fatalf("upline: %v", err)
	}
	if len(chain) != 3 || chain[2].Address != "root" {
		t.Fatalf("full chain wrong length %d", len(chain))
	}
}

func TestCountersTrackContributions(t *testing.T) {
	l := newTestLedger(t)
	seedMember(t, l, "alice", "", 0, 1)
	mustUpdate(t, l, func(tx *Tx) error {
		tx.RecordContribution(big.NewInt(3000))
		return nil
	})
	mustUpdate(t, l, func(tx *Tx) error {
		tx.RecordContribution(big.NewInt(5000))
		return nil
	})

	counters, err := l.Counters()
	if err != nil {
		t.Fatalf("counters: %v", err)
	}
	if counters.Members != 1 {
		t.Fatalf("members = %d, want 1", counters.Members)
	}
	if counters.TotalContributed.Cmp(big.NewInt(8000)) != 0 {
		t.Fatalf("total contributed = %s, want 8000", counters.TotalContributed)
	}
}

func TestEventsReturnedOnCommit(t *testing.T) {
	l := newTestLedger(t)
	events := mustUpdate(t, l, func(tx *Tx) error {
		tx.AppendEvent(&types.Event{Type: "test.event", Attributes: map[string]string{"k": "v"}})
		return nil
	})
	if len(events) != 1 || events[0].Type != "test.event" {
		t.Fatalf("events = %#v", events)
	}
}
