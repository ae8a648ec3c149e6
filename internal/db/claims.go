package db

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/wormhole-demo/verifier/internal/replay"
)

// Claim records one consumed (chain, emitter, sequence) key. The primary key
// is the hashed storage form; the tuple columns exist for auditability.
type Claim struct {
	Key       string `gorm:"primaryKey;size:64"`
	Chain     uint16 `gorm:"index"`
	Emitter   string `gorm:"size:64;index"`
	Sequence  uint64
	CreatedAt time.Time
}

// ClaimLedger is a replay.Ledger backed by Postgres. The compare-and-set is
// a primary-key insert with do-nothing on conflict: exactly one writer
// inserts the row, everyone else sees zero rows affected.
type ClaimLedger struct {
	db *gorm.DB
}

func NewClaimLedger(db *gorm.DB) *ClaimLedger {
	return &ClaimLedger{db: db}
}

var _ replay.Ledger = (*ClaimLedger)(nil)

func (l *ClaimLedger) CheckAndMark(ctx context.Context, key replay.Key) error {
	claim := Claim{
		Key:      hex.EncodeToString(key.Storage().Bytes()),
		Chain:    key.Chain,
		Emitter:  key.Emitter.String(),
		Sequence: key.Sequence,
	}
	res := l.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&claim)
	if res.Error != nil {
		return fmt.Errorf("insert replay claim: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return replay.ErrAlreadyProcessed
	}
	return nil
}

func (l *ClaimLedger) Contains(ctx context.Context, key replay.Key) (bool, error) {
	var count int64
	err := l.db.WithContext(ctx).
		Model(&Claim{}).
		Where("key = ?", hex.EncodeToString(key.Storage().Bytes())).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("lookup replay claim: %w", err)
	}
	return count > 0, nil
}
