package types

import "math/big"

// Leg identifies the side of a matrix parent a member hangs under.
type Leg uint8

const (
	LegNone Leg = iota
	LegLeft
	LegRight
)

// String returns the lowercase label used in events and API responses.
func (l Leg) String() string {
	switch l {
	case LegLeft:
		return "left"
	case LegRight:
		return "right"
	default:
		return "none"
	}
}

// Member is the ledger record for a single participant. The address is
// immutable once the record is created, as is the sponsor reference. Monetary
// fields are integer minor units.
type Member struct {
	Address        string
	Sponsor        string
	Tier           uint8
	CapMultiplier  uint32
	TotalInvested  *big.Int
	LifetimeEarned *big.Int
	Withdrawable   *big.Int

	// Matrix tree pointers. The matrix graph is distinct from the sponsor
	// graph: MatrixParent is where breadth-first placement landed the member,
	// which may differ from Sponsor after spillover.
	MatrixParent string
	MatrixLeft   string
	MatrixRight  string
	MatrixLeg    Leg

	// Running binary leg volumes for the member acting as a matrix parent.
	LeftVolume  *big.Int
	RightVolume *big.Int

	DirectCount  uint32
	TeamSize     uint64
	RegisteredAt int64

	Blacklisted  bool
	Paused       bool
	AutoCompound bool
}

// NewMember returns a zeroed member record with all monetary fields
// initialised so callers never observe nil big.Ints.
func NewMember(address, sponsor string, registeredAt int64) *Member {
	return &Member{
		Address:        address,
		Sponsor:        sponsor,
		TotalInvested:  big.NewInt(0),
		LifetimeEarned: big.NewInt(0),
		Withdrawable:   big.NewInt(0),
		LeftVolume:     big.NewInt(0),
		RightVolume:    big.NewInt(0),
		RegisteredAt:   registeredAt,
	}
}

// Clone produces a deep copy so callers cannot mutate ledger-held state.
func (m *Member) Clone() *Member {
	if m == nil {
		return nil
	}
	clone := *m
	clone.TotalInvested = copyBigInt(m.TotalInvested)
	clone.LifetimeEarned = copyBigInt(m.LifetimeEarned)
	clone.Withdrawable = copyBigInt(m.Withdrawable)
	clone.LeftVolume = copyBigInt(m.LeftVolume)
	clone.RightVolume = copyBigInt(m.RightVolume)
	return &clone
}

// Cap returns the lifetime earnings ceiling for the member.
func (m *Member) Cap() *big.Int {
	if m == nil || m.TotalInvested == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Mul(m.TotalInvested, new(big.Int).SetUint64(uint64(m.CapMultiplier)))
}

// Headroom returns how much more the member may be credited before hitting
// the cap. Never negative.
func (m *Member) Headroom() *big.Int {
	headroom := new(big.Int).Sub(m.Cap(), m.earned())
	if headroom.Sign() < 0 {
		headroom.SetInt64(0)
	}
	return headroom
}

// Capped reports whether the member has exhausted their earnings cap.
func (m *Member) Capped() bool {
	return m.Headroom().Sign() == 0
}

func (m *Member) earned() *big.Int {
	if m == nil || m.LifetimeEarned == nil {
		return big.NewInt(0)
	}
	return m.LifetimeEarned
}

func copyBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
