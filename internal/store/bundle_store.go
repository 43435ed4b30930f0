package store

import (
	"context"
	"time"

	"secumsg/internal/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type BundleStore struct{ db *gorm.DB }

func (s *Store) Bundles() *BundleStore { return &BundleStore{db: s.DB} }

func (b *BundleStore) Get(ctx context.Context, userID string) (*domain.KeyBundle, error) {
	var bundle domain.KeyBundle
	if err := b.db.WithContext(ctx).First(&bundle, "user_id = ?", userID).Error; err != nil {
		return nil, translate(err)
	}
	return &bundle, nil
}

// GetForUpdate loads the bundle and locks its row until the surrounding
// transaction ends.
func (b *BundleStore) GetForUpdate(ctx context.Context, userID string) (*domain.KeyBundle, error) {
	var bundle domain.KeyBundle
	err := b.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&bundle, "user_id = ?", userID).Error
	if err != nil {
		return nil, translate(err)
	}
	return &bundle, nil
}

func (b *BundleStore) Create(ctx context.Context, bundle *domain.KeyBundle) error {
	return translate(b.db.WithContext(ctx).Create(bundle).Error)
}

// Replace overwrites every key field of an existing bundle.
func (b *BundleStore) Replace(ctx context.Context, bundle *domain.KeyBundle) error {
	res := b.db.WithContext(ctx).
		Model(&domain.KeyBundle{}).
		Where("user_id = ?", bundle.UserID).
		Updates(map[string]any{
			"registration_id":          bundle.RegistrationID,
			"identity_key":             bundle.IdentityKey,
			"signed_pre_key_id":        bundle.SignedPreKeyID,
			"signed_pre_key_public":    bundle.SignedPreKeyPublic,
			"signed_pre_key_signature": bundle.SignedPreKeySignature,
			"signed_pre_key_timestamp": bundle.SignedPreKeyTimestamp,
			"version":                  bundle.Version,
			"last_rotated_at":          bundle.LastRotatedAt,
		})
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (b *BundleStore) UpdateSignedPreKey(ctx context.Context, userID string, keyID uint32, publicKey, signature string, ts, rotatedAt time.Time) error {
	res := b.db.WithContext(ctx).
		Model(&domain.KeyBundle{}).
		Where("user_id = ?", userID).
		Updates(map[string]any{
			"signed_pre_key_id":        keyID,
			"signed_pre_key_public":    publicKey,
			"signed_pre_key_signature": signature,
			"signed_pre_key_timestamp": ts,
			"last_rotated_at":          rotatedAt,
		})
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// Touch records a pool top-up. Neither the version nor the rotation time
// changes.
func (b *BundleStore) Touch(ctx context.Context, userID string, at time.Time) error {
	return translate(b.db.WithContext(ctx).
		Model(&domain.KeyBundle{}).
		Where("user_id = ?", userID).
		Update("updated_at", at).Error)
}

func (b *BundleStore) Delete(ctx context.Context, userID string) (int64, error) {
	res := b.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&domain.KeyBundle{})
	return res.RowsAffected, translate(res.Error)
}
