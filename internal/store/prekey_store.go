package store

import (
	"context"
	"time"

	"secumsg/internal/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// maxConsumeAttempts bounds how often ConsumeNext retries after losing a race
// for a candidate key to a concurrent consumer.
const maxConsumeAttempts = 8

type OneTimePreKeyStore struct{ db *gorm.DB }

func (s *Store) OneTimePreKeys() *OneTimePreKeyStore { return &OneTimePreKeyStore{db: s.DB} }

// AddBatch inserts keys, skipping key ids the user already published. It
// returns the number of rows actually inserted.
func (o *OneTimePreKeyStore) AddBatch(ctx context.Context, keys []domain.OneTimePreKey) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	res := o.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&keys)
	return res.RowsAffected, translate(res.Error)
}

func (o *OneTimePreKeyStore) DeleteAll(ctx context.Context, userID string) (int64, error) {
	res := o.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&domain.OneTimePreKey{})
	return res.RowsAffected, translate(res.Error)
}

// ConsumeNext flips the first unused key of userID to used and returns it.
// The flip is a conditional update so two callers can never claim the same
// key; it returns (nil, nil) when the pool has no unused key left.
func (o *OneTimePreKeyStore) ConsumeNext(ctx context.Context, userID string, at time.Time) (*domain.OneTimePreKey, error) {
	for attempt := 0; attempt < maxConsumeAttempts; attempt++ {
		var key domain.OneTimePreKey
		err := o.db.WithContext(ctx).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("user_id = ? AND used = ?", userID, false).
			Order("created_at ASC, key_id ASC").
			First(&key).Error
		if err != nil {
			err = translate(err)
			if err == ErrRecordNotFound {
				return nil, nil
			}
			return nil, err
		}

		res := o.db.WithContext(ctx).
			Model(&domain.OneTimePreKey{}).
			Where("id = ? AND used = ?", key.ID, false).
			Updates(map[string]any{"used": true, "used_at": at})
		if res.Error != nil {
			return nil, translate(res.Error)
		}
		if res.RowsAffected == 1 {
			key.Used = true
			key.UsedAt = &at
			return &key, nil
		}
	}
	return nil, domain.ErrAlreadyUsed
}

func (o *OneTimePreKeyStore) Counts(ctx context.Context, userID string) (available, total int64, err error) {
	db := o.db.WithContext(ctx).Model(&domain.OneTimePreKey{})
	if err := db.Where("user_id = ?", userID).Count(&total).Error; err != nil {
		return 0, 0, translate(err)
	}
	if err := o.db.WithContext(ctx).Model(&domain.OneTimePreKey{}).
		Where("user_id = ? AND used = ?", userID, false).
		Count(&available).Error; err != nil {
		return 0, 0, translate(err)
	}
	return available, total, nil
}

// DeleteUsedBefore removes used keys consumed before cutoff. An empty userID
// applies the cleanup to every user.
func (o *OneTimePreKeyStore) DeleteUsedBefore(ctx context.Context, userID string, cutoff time.Time) (int64, error) {
	tx := o.db.WithContext(ctx).Where("used = ? AND used_at < ?", true, cutoff)
	if userID != "" {
		tx = tx.Where("user_id = ?", userID)
	}
	res := tx.Delete(&domain.OneTimePreKey{})
	return res.RowsAffected, translate(res.Error)
}
