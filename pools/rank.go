package pools

import "orphi/core/types"

// Rank is a leader qualification derived from team size and direct-referral
// counts.
type Rank uint8

const (
	RankNone Rank = iota
	RankShiningStar
	RankSilverStar
)

// String returns the label used in API responses.
func (r Rank) String() string {
	switch r {
	case RankShiningStar:
		return "shining-star"
	case RankSilverStar:
		return "silver-star"
	default:
		return "none"
	}
}

// RankThresholds configures the leader rank predicates.
type RankThresholds struct {
	ShiningStarTeam    uint64
	ShiningStarDirects uint32
	SilverStarTeam     uint64
}

// RankOf classifies a member. Silver Star outranks Shining Star and requires
// team size alone; Shining Star requires both team size and direct referrals.
func (t RankThresholds) RankOf(m *types.Member) Rank {
	if m == nil {
		return RankNone
	}
	if t.SilverStarTeam > 0 && m.TeamSize >= t.SilverStarTeam {
		return RankSilverStar
	}
	if t.ShiningStarTeam > 0 && m.TeamSize >= t.ShiningStarTeam && m.DirectCount >= t.ShiningStarDirects {
		return RankShiningStar
	}
	return RankNone
}
