package audit

import (
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"orphi/withdraw"
)

// WithdrawalRecord is the append-only audit row for a processed withdrawal.
// Monetary fields are decimal strings of minor units so arbitrary precision
// survives the round trip.
type WithdrawalRecord struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	MemberID    string    `gorm:"index;size:128"`
	Requested   string    `gorm:"size:64"`
	AdminFee    string    `gorm:"size:64"`
	Payable     string    `gorm:"size:64"`
	Reinvest    string    `gorm:"size:64"`
	Bonus       string    `gorm:"size:64"`
	PayableBps  uint32
	DirectCount uint32
	CreatedAt   time.Time `gorm:"index"`
}

// Store persists withdrawal records. It intentionally exposes no update or
// delete surface; finalized records are immutable.
type Store struct {
	db *gorm.DB
}

// Open opens (or creates) the audit database at path and migrates the schema.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&WithdrawalRecord{}); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Record appends the receipt as an immutable audit row. Implements
// withdraw recording for the processor's callers.
func (s *Store) Record(receipt *withdraw.Receipt) error {
	row := &WithdrawalRecord{
		ID:          uuid.New(),
		MemberID:    receipt.Member,
		Requested:   receipt.Requested.String(),
		AdminFee:    receipt.AdminFee.String(),
		Payable:     receipt.Payable.String(),
		Reinvest:    receipt.Reinvest.String(),
		Bonus:       receipt.Bonus.String(),
		PayableBps:  receipt.PayableBps,
		DirectCount: receipt.DirectCount,
		CreatedAt:   receipt.At,
	}
	return s.db.Create(row).Error
}

// ListByMember returns the member's withdrawal history, newest first.
func (s *Store) ListByMember(memberID string, limit int) ([]WithdrawalRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []WithdrawalRecord
	err := s.db.Where("member_id = ?", memberID).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// Count returns the total number of recorded withdrawals.
func (s *Store) Count() (int64, error) {
	var n int64
	err := s.db.Model(&WithdrawalRecord{}).Count(&n).Error
	return n, err
}
