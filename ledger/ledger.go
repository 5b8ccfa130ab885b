package ledger

import (
	"math/big"
	"sort"
	"sync"

	"orphi/core/types"
	"orphi/storage"
)

// Pool is the ledger record for a shared reward pool.
type Pool struct {
	Name             string
	Balance          *big.Int
	LastDistribution int64
}

// Clone returns a deep copy of the pool record.
func (p *Pool) Clone() *Pool {
	if p == nil {
		return nil
	}
	clone := *p
	clone.Balance = nonNil(p.Balance)
	return &clone
}

// Counters aggregates the global ledger counters.
type Counters struct {
	Members          uint64
	TotalContributed *big.Int
}

// Ledger is the durable store for member records, pool balances and global
// counters. Every public engine operation runs as a single transaction under
// the ledger's exclusive lock: either all of its mutations commit or none do.
type Ledger struct {
	db storage.Database
	mu sync.RWMutex
}

// NewLedger wraps the supplied key-value store.
func NewLedger(db storage.Database) *Ledger {
	return &Ledger{db: db}
}

// EnsurePool creates the pool record if it does not exist yet.
func (l *Ledger) EnsurePool(name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := poolKey(name)
	ok, err := l.db.Has(key)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	raw, err := encodePool(&Pool{Name: name, Balance: big.NewInt(0)})
	if err != nil {
		return err
	}
	return l.db.Put(key, raw)
}

// Update runs fn inside a staged transaction under the exclusive lock. The
// staged writes reach the backing store only when fn returns nil; any error
// rolls the whole operation back. The events appended during the transaction
// are returned to the caller for logging and webhooks.
func (l *Ledger) Update(fn func(tx *Tx) error) ([]types.Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	tx := newTx(l)
	if err := fn(tx); err != nil {
		return nil, err
	}
	if err := tx.commit(); err != nil {
		return nil, err
	}
	return tx.events, nil
}

// View runs fn against a read-only transaction. Staged writes are discarded.
func (l *Ledger) View(fn func(tx *Tx) error) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return fn(newTx(l))
}

// Accrue adds amount to the named pool. It is a monotonic counter update and
// always succeeds for a known pool.
func (l *Ledger) Accrue(name string, amount *big.Int) error {
	_, err := l.Update(func(tx *Tx) error {
		return tx.Accrue(name, amount)
	})
	return err
}

// GetMember returns a copy of the member record.
func (l *Ledger) GetMember(id string) (*types.Member, error) {
	var member *types.Member
	err := l.View(func(tx *Tx) error {
		m, err := tx.Member(id)
		if err != nil {
			return err
		}
		member = m
		return nil
	})
	return member, err
}

// GetPool returns a copy of the pool record.
func (l *Ledger) GetPool(name string) (*Pool, error) {
	var pool *Pool
	err := l.View(func(tx *Tx) error {
		p, err := tx.Pool(name)
		if err != nil {
			return err
		}
		pool = p
		return nil
	})
	return pool, err
}

// Members returns copies of every member record in registration order.
func (l *Ledger) Members() ([]*types.Member, error) {
	var members []*types.Member
	err := l.View(func(tx *Tx) error {
		ms, err := tx.Members()
		if err != nil {
			return err
		}
		members = ms
		return nil
	})
	return members, err
}

// UplineChain returns the sponsor-referral ancestors of id, nearest first,
// up to maxLevels entries.
func (l *Ledger) UplineChain(id string, maxLevels int) ([]*types.Member, error) {
	var chain []*types.Member
	err := l.View(func(tx *Tx) error {
		member, err := tx.Member(id)
		if err != nil {
			return err
		}
		current := member.Sponsor
		for current != "" && len(chain) < maxLevels {
			ancestor, err := tx.Member(current)
			if err != nil {
				return err
			}
			chain = append(chain, ancestor)
			current = ancestor.Sponsor
		}
		return nil
	})
	return chain, err
}

// Counters returns the global ledger counters.
func (l *Ledger) Counters() (Counters, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.loadCounters()
}

func (l *Ledger) loadCounters() (Counters, error) {
	raw, err := l.db.Get([]byte(countersKey))
	if err != nil {
		if storage.IsNotFound(err) {
			return Counters{TotalContributed: big.NewInt(0)}, nil
		}
		return Counters{}, err
	}
	stored := new(storedCounters)
	if err := decodeCounters(raw, stored); err != nil {
		return Counters{}, err
	}
	return Counters{Members: stored.Members, TotalContributed: nonNil(stored.TotalContributed)}, nil
}

// Tx stages ledger mutations for a single engine operation.
type Tx struct {
	l           *Ledger
	members     map[string]*types.Member
	dirty       map[string]struct{}
	created     []string
	pools       map[string]*Pool
	poolsDirty  map[string]struct{}
	contributed *big.Int
	events      []types.Event
}

func newTx(l *Ledger) *Tx {
	return &Tx{
		l:           l,
		members:     make(map[string]*types.Member),
		dirty:       make(map[string]struct{}),
		pools:       make(map[string]*Pool),
		poolsDirty:  make(map[string]struct{}),
		contributed: big.NewInt(0),
	}
}

// Member returns a copy of the member record, preferring staged writes.
func (tx *Tx) Member(id string) (*types.Member, error) {
	if m, ok := tx.members[id]; ok {
		return m.Clone(), nil
	}
	raw, err := tx.l.db.Get(memberKey(id))
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, ErrUnknownMember
		}
		return nil, err
	}
	member, err := decodeMember(raw)
	if err != nil {
		return nil, err
	}
	tx.members[id] = member
	return member.Clone(), nil
}

// Has reports whether a member record exists.
func (tx *Tx) Has(id string) (bool, error) {
	if _, ok := tx.members[id]; ok {
		return true, nil
	}
	return tx.l.db.Has(memberKey(id))
}

// Put stages the member record for commit.
func (tx *Tx) Put(m *types.Member) {
	tx.members[m.Address] = m.Clone()
	tx.dirty[m.Address] = struct{}{}
}

// Create stages a brand-new member record. Fails with ErrMemberExists when
// the address was seen before; member records are never recreated.
func (tx *Tx) Create(m *types.Member) error {
	exists, err := tx.Has(m.Address)
	if err != nil {
		return err
	}
	if exists {
		return ErrMemberExists
	}
	tx.members[m.Address] = m.Clone()
	tx.dirty[m.Address] = struct{}{}
	tx.created = append(tx.created, m.Address)
	return nil
}

// CreditUnderCap credits min(amount, headroom) to both lifetime earnings and
// the withdrawable balance and returns the actually credited amount. A capped
// member receives zero; that is not an error.
func (tx *Tx) CreditUnderCap(id string, amount *big.Int) (*big.Int, error) {
	member, err := tx.Member(id)
	if err != nil {
		return nil, err
	}
	credited := creditUnderCap(member, amount)
	if credited.Sign() > 0 {
		tx.Put(member)
	}
	return credited, nil
}

// CreditBalance adds amount to the withdrawable balance without touching
// lifetime earnings. Used for reinvestment returns of the member's own funds.
func (tx *Tx) CreditBalance(id string, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return nil
	}
	member, err := tx.Member(id)
	if err != nil {
		return err
	}
	member.Withdrawable = new(big.Int).Add(member.Withdrawable, amount)
	tx.Put(member)
	return nil
}

// Debit removes amount from the withdrawable balance.
func (tx *Tx) Debit(id string, amount *big.Int) error {
	member, err := tx.Member(id)
	if err != nil {
		return err
	}
	if member.Withdrawable.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	member.Withdrawable = new(big.Int).Sub(member.Withdrawable, amount)
	tx.Put(member)
	return nil
}

// Members returns every member record in registration order, including ones
// created earlier in this transaction.
func (tx *Tx) Members() ([]*types.Member, error) {
	ids, err := tx.index()
	if err != nil {
		return nil, err
	}
	ids = append(ids, tx.created...)
	members := make([]*types.Member, 0, len(ids))
	for _, id := range ids {
		member, err := tx.Member(id)
		if err != nil {
			return nil, err
		}
		members = append(members, member)
	}
	return members, nil
}

// Pool returns a copy of the pool record, preferring staged writes.
func (tx *Tx) Pool(name string) (*Pool, error) {
	if p, ok := tx.pools[name]; ok {
		return p.Clone(), nil
	}
	raw, err := tx.l.db.Get(poolKey(name))
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, ErrUnknownPool
		}
		return nil, err
	}
	pool, err := decodePool(raw)
	if err != nil {
		return nil, err
	}
	tx.pools[name] = pool
	return pool.Clone(), nil
}

// SetPool stages the pool record for commit.
func (tx *Tx) SetPool(p *Pool) {
	tx.pools[p.Name] = p.Clone()
	tx.poolsDirty[p.Name] = struct{}{}
}

// Accrue adds amount to the named pool balance.
func (tx *Tx) Accrue(name string, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return nil
	}
	pool, err := tx.Pool(name)
	if err != nil {
		return err
	}
	pool.Balance = new(big.Int).Add(pool.Balance, amount)
	tx.SetPool(pool)
	return nil
}

// RecordContribution bumps the global contribution counter.
func (tx *Tx) RecordContribution(gross *big.Int) {
	if gross != nil && gross.Sign() > 0 {
		tx.contributed = new(big.Int).Add(tx.contributed, gross)
	}
}

// AppendEvent collects an event for emission after commit.
func (tx *Tx) AppendEvent(evt *types.Event) {
	if evt == nil {
		return
	}
	tx.events = append(tx.events, *evt)
}

func (tx *Tx) index() ([]string, error) {
	raw, err := tx.l.db.Get([]byte(memberIndexKey))
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return decodeIndex(raw)
}

func (tx *Tx) commit() error {
	ids := make([]string, 0, len(tx.dirty))
	for id := range tx.dirty {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		raw, err := encodeMember(tx.members[id])
		if err != nil {
			return err
		}
		if err := tx.l.db.Put(memberKey(id), raw); err != nil {
			return err
		}
	}
	names := make([]string, 0, len(tx.poolsDirty))
	for name := range tx.poolsDirty {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		raw, err := encodePool(tx.pools[name])
		if err != nil {
			return err
		}
		if err := tx.l.db.Put(poolKey(name), raw); err != nil {
			return err
		}
	}
	if len(tx.created) > 0 {
		index, err := tx.index()
		if err != nil {
			return err
		}
		index = append(index, tx.created...)
		raw, err := encodeIndex(index)
		if err != nil {
			return err
		}
		if err := tx.l.db.Put([]byte(memberIndexKey), raw); err != nil {
			return err
		}
	}
	if len(tx.created) > 0 || tx.contributed.Sign() > 0 {
		counters, err := tx.l.loadCounters()
		if err != nil {
			return err
		}
		counters.Members += uint64(len(tx.created))
		counters.TotalContributed = new(big.Int).Add(counters.TotalContributed, tx.contributed)
		raw, err := encodeCounters(&storedCounters{
			Members:          counters.Members,
			TotalContributed: counters.TotalContributed,
		})
		if err != nil {
			return err
		}
		if err := tx.l.db.Put([]byte(countersKey), raw); err != nil {
			return err
		}
	}
	return nil
}
