package ledger

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"

	"orphi/core/types"
)

const (
	memberKeyFormat = "ledger/members/%s"
	memberIndexKey  = "ledger/members/index"
	poolKeyFormat   = "ledger/pools/%s"
	countersKey     = "ledger/counters"
)

type storedMember struct {
	Address        string
	Sponsor        string
	Tier           uint8
	CapMultiplier  uint32
	TotalInvested  *big.Int
	LifetimeEarned *big.Int
	Withdrawable   *big.Int
	MatrixParent   string
	MatrixLeft     string
	MatrixRight    string
	MatrixLeg      uint8
	LeftVolume     *big.Int
	RightVolume    *big.Int
	DirectCount    uint32
	TeamSize       uint64
	RegisteredAt   uint64
	Blacklisted    bool
	Paused         bool
	AutoCompound   bool
}

type storedPool struct {
	Name             string
	Balance          *big.Int
	LastDistribution uint64
}

type storedCounters struct {
	Members          uint64
	TotalContributed *big.Int
}

func memberKey(id string) []byte {
	return []byte(fmt.Sprintf(memberKeyFormat, id))
}

func poolKey(name string) []byte {
	return []byte(fmt.Sprintf(poolKeyFormat, name))
}

func encodeMember(m *types.Member) ([]byte, error) {
	stored := &storedMember{
		Address:        m.Address,
		Sponsor:        m.Sponsor,
		Tier:           m.Tier,
		CapMultiplier:  m.CapMultiplier,
		TotalInvested:  nonNil(m.TotalInvested),
		LifetimeEarned: nonNil(m.LifetimeEarned),
		Withdrawable:   nonNil(m.Withdrawable),
		MatrixParent:   m.MatrixParent,
		MatrixLeft:     m.MatrixLeft,
		MatrixRight:    m.MatrixRight,
		MatrixLeg:      uint8(m.MatrixLeg),
		LeftVolume:     nonNil(m.LeftVolume),
		RightVolume:    nonNil(m.RightVolume),
		DirectCount:    m.DirectCount,
		TeamSize:       m.TeamSize,
		RegisteredAt:   uint64(m.RegisteredAt),
		Blacklisted:    m.Blacklisted,
		Paused:         m.Paused,
		AutoCompound:   m.AutoCompound,
	}
	return rlp.EncodeToBytes(stored)
}

func decodeMember(raw []byte) (*types.Member, error) {
	stored := new(storedMember)
	if err := rlp.DecodeBytes(raw, stored); err != nil {
		return nil, fmt.Errorf("ledger: decode member: %w", err)
	}
	return &types.Member{
		Address:        stored.Address,
		Sponsor:        stored.Sponsor,
		Tier:           stored.Tier,
		CapMultiplier:  stored.CapMultiplier,
		TotalInvested:  nonNil(stored.TotalInvested),
		LifetimeEarned: nonNil(stored.LifetimeEarned),
		Withdrawable:   nonNil(stored.Withdrawable),
		MatrixParent:   stored.MatrixParent,
		MatrixLeft:     stored.MatrixLeft,
		MatrixRight:    stored.MatrixRight,
		MatrixLeg:      types.Leg(stored.MatrixLeg),
		LeftVolume:     nonNil(stored.LeftVolume),
		RightVolume:    nonNil(stored.RightVolume),
		DirectCount:    stored.DirectCount,
		TeamSize:       stored.TeamSize,
		RegisteredAt:   int64(stored.RegisteredAt),
		Blacklisted:    stored.Blacklisted,
		Paused:         stored.Paused,
		AutoCompound:   stored.AutoCompound,
	}, nil
}

func encodePool(p *Pool) ([]byte, error) {
	stored := &storedPool{
		Name:             p.Name,
		Balance:          nonNil(p.Balance),
		LastDistribution: uint64(p.LastDistribution),
	}
	return rlp.EncodeToBytes(stored)
}

func decodePool(raw []byte) (*Pool, error) {
	stored := new(storedPool)
	if err := rlp.DecodeBytes(raw, stored); err != nil {
		return nil, fmt.Errorf("ledger: decode pool: %w", err)
	}
	return &Pool{
		Name:             stored.Name,
		Balance:          nonNil(stored.Balance),
		LastDistribution: int64(stored.LastDistribution),
	}, nil
}

func encodeCounters(c *storedCounters) ([]byte, error) {
	stored := &storedCounters{
		Members:          c.Members,
		TotalContributed: nonNil(c.TotalContributed),
	}
	return rlp.EncodeToBytes(stored)
}

func decodeCounters(raw []byte, into *storedCounters) error {
	if err := rlp.DecodeBytes(raw, into); err != nil {
		return fmt.Errorf("ledger: decode counters: %w", err)
	}
	return nil
}

func encodeIndex(ids []string) ([]byte, error) {
	return rlp.EncodeToBytes(ids)
}

func decodeIndex(raw []byte) ([]string, error) {
	var ids []string
	if err := rlp.DecodeBytes(raw, &ids); err != nil {
		return nil, fmt.Errorf("ledger: decode index: %w", err)
	}
	return ids, nil
}

func nonNil(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
