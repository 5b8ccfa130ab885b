package pools

import (
	"math/big"
	"sort"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"

	"orphi/core/types"
	"orphi/ledger"
)

// Pool names. Leader and Help run on fixed schedules; Club is triggered
// manually by an authorized actor.
const (
	Leader = "leader"
	Help   = "help"
	Club   = "club"
)

// Names lists every pool in a fixed order.
var Names = []string{Leader, Help, Club}

const (
	eventDistributed = "pool.distributed"
)

// State describes the ledger functionality the distributor needs. The whole
// distribution runs inside one ledger transaction so eligibility, division
// and credits observe a single consistent snapshot.
type State interface {
	Members() ([]*types.Member, error)
	Pool(name string) (*ledger.Pool, error)
	SetPool(p *ledger.Pool)
	CreditUnderCap(id string, amount *big.Int) (*big.Int, error)
	AppendEvent(evt *types.Event)
}

// Authorizer reports whether an actor may trigger manual distributions.
type Authorizer func(actor string) bool

// Config holds the distribution schedule and eligibility thresholds.
type Config struct {
	LeaderInterval time.Duration
	HelpInterval   time.Duration
	ClubMinTier    uint8
	Ranks          RankThresholds
}

// Payout is one recipient line of a distribution report.
type Payout struct {
	Member   string
	Credited *big.Int
}

// Report summarises a pool distribution cycle.
type Report struct {
	Pool      string
	At        time.Time
	Eligible  int
	PerShare  *big.Int
	TotalPaid *big.Int
	Breakage  *big.Int
	Remainder *big.Int
	Payouts   []Payout
}

// Distributor divides accrued pool balances across eligible members.
type Distributor struct {
	cfg       Config
	clock     clockwork.Clock
	authorize Authorizer
}

// NewDistributor constructs a distributor. A nil clock defaults to the real
// one; a nil authorizer rejects every manual trigger.
func NewDistributor(cfg Config, clock clockwork.Clock, authorize Authorizer) *Distributor {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if authorize == nil {
		authorize = func(string) bool { return false }
	}
	return &Distributor{cfg: cfg, clock: clock, authorize: authorize}
}

// Interval returns the distribution interval for scheduled pools and false
// for manually triggered ones.
func (d *Distributor) Interval(name string) (time.Duration, bool) {
	switch name {
	case Leader:
		return d.cfg.LeaderInterval, true
	case Help:
		return d.cfg.HelpInterval, true
	default:
		return 0, false
	}
}

// Ready reports whether the pool is due for distribution at the given time
// (zero time means now) and when the next cycle opens. Club pools have no
// schedule and report not-ready with a zero next time.
func (d *Distributor) Ready(pool *ledger.Pool, at time.Time) (bool, time.Time) {
	if at.IsZero() {
		at = d.clock.Now()
	}
	interval, scheduled := d.Interval(pool.Name)
	if !scheduled {
		return false, time.Time{}
	}
	next := time.Unix(pool.LastDistribution, 0).Add(interval)
	return !at.Before(next), next
}

// Distribute divides the pool balance evenly across the currently eligible
// member set. Integer floor division; the remainder stays in the pool for the
// next cycle. Each payout is cap-gated individually and a capped shortfall is
// not redistributed within the cycle. An empty eligible set, an empty pool,
// or a balance below the per-recipient floor is a no-op rather than an error,
// which also makes replays of a completed cycle harmless.
func (d *Distributor) Distribute(st State, name string, at time.Time, actor string) (*Report, error) {
	if at.IsZero() {
		at = d.clock.Now()
	}
	if name == Club && !d.authorize(actor) {
		return nil, ErrNotAuthorized
	}
	pool, err := st.Pool(name)
	if err != nil {
		return nil, err
	}

	report := &Report{
		Pool:      name,
		At:        at,
		PerShare:  big.NewInt(0),
		TotalPaid: big.NewInt(0),
		Breakage:  big.NewInt(0),
		Remainder: new(big.Int).Set(pool.Balance),
	}

	members, err := st.Members()
	if err != nil {
		return nil, err
	}
	eligible := d.eligible(name, members)
	report.Eligible = len(eligible)
	if len(eligible) == 0 || pool.Balance.Sign() == 0 {
		return report, nil
	}

	count := big.NewInt(int64(len(eligible)))
	perShare := new(big.Int).Quo(pool.Balance, count)
	if perShare.Sign() == 0 {
		return report, nil
	}

	if name != Club {
		if due, _ := d.Ready(pool, at); !due {
			return nil, ErrDistributionNotDue
		}
	}

	sort.Slice(eligible, func(i, j int) bool { return eligible[i].Address < eligible[j].Address })

	report.PerShare = perShare
	allocated := new(big.Int).Mul(perShare, count)
	for _, member := range eligible {
		credited, err := st.CreditUnderCap(member.Address, perShare)
		if err != nil {
			return nil, err
		}
		report.TotalPaid = new(big.Int).Add(report.TotalPaid, credited)
		report.Payouts = append(report.Payouts, Payout{Member: member.Address, Credited: credited})
	}
	report.Breakage = new(big.Int).Sub(allocated, report.TotalPaid)

	pool.Balance = new(big.Int).Sub(pool.Balance, allocated)
	pool.LastDistribution = at.Unix()
	st.SetPool(pool)
	report.Remainder = new(big.Int).Set(pool.Balance)

	st.AppendEvent(&types.Event{Type: eventDistributed, Attributes: map[string]string{
		"pool":      name,
		"eligible":  strconv.Itoa(len(eligible)),
		"perShare":  perShare.String(),
		"totalPaid": report.TotalPaid.String(),
		"breakage":  report.Breakage.String(),
		"remainder": report.Remainder.String(),
	}})
	return report, nil
}

// eligible applies the pool's predicate to the member snapshot. Blacklisted
// members never qualify.
func (d *Distributor) eligible(name string, members []*types.Member) []*types.Member {
	out := make([]*types.Member, 0, len(members))
	for _, m := range members {
		if m.Blacklisted {
			continue
		}
		switch name {
		case Leader:
			if d.cfg.Ranks.RankOf(m) != RankNone {
				out = append(out, m)
			}
		case Help:
			if !m.Capped() {
				out = append(out, m)
			}
		case Club:
			if m.Tier >= d.cfg.ClubMinTier && d.cfg.ClubMinTier > 0 {
				out = append(out, m)
			}
		}
	}
	return out
}
