package keys

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"secumsg/internal/domain"
	"secumsg/internal/dto"
	"secumsg/internal/store"

	"github.com/google/uuid"
)

const (
	DefaultRefillThreshold = 20
	DefaultRetention       = 30 * 24 * time.Hour
)

type Options struct {
	RefillThreshold  int
	Retention        time.Duration
	StrictValidation bool
	StoreTimeout     time.Duration
}

type Service struct {
	store *store.Store
	opts  Options
	now   func() time.Time
}

func New(st *store.Store, opts Options) *Service {
	if opts.RefillThreshold <= 0 {
		opts.RefillThreshold = DefaultRefillThreshold
	}
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	return &Service{store: st, opts: opts, now: time.Now}
}

// SetClock overrides the time source.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opts.StoreTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.opts.StoreTimeout)
}

// Upload creates the bundle for userID, fully replaces it, or tops up its
// one-time prekey pool, depending on which fields the request carries.
func (s *Service) Upload(ctx context.Context, userID string, req dto.UploadBundleRequest) (dto.UploadBundleResponse, error) {
	if userID == "" {
		return dto.UploadBundleResponse{}, fmt.Errorf("%w: missing user", domain.ErrInvalidRequest)
	}
	if req.UserID != "" && req.UserID != userID {
		return dto.UploadBundleResponse{}, fmt.Errorf("%w: bundle belongs to another user", domain.ErrForbidden)
	}

	full, err := s.classify(req)
	if err != nil {
		return dto.UploadBundleResponse{}, err
	}
	now := s.now().UTC()
	otks, err := s.buildPreKeys(userID, req.OneTimePreKeys, now)
	if err != nil {
		return dto.UploadBundleResponse{}, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	resp := dto.UploadBundleResponse{UserID: userID}
	err = s.store.WithTx(ctx, func(tx *store.Store) error {
		existing, err := tx.Bundles().GetForUpdate(ctx, userID)
		if err != nil && !errors.Is(err, store.ErrRecordNotFound) {
			return err
		}

		switch {
		case existing == nil:
			if !full {
				return fmt.Errorf("%w: first upload requires registrationId, identityKey and signedPreKey", domain.ErrInvalidRequest)
			}
			bundle := newBundle(userID, req, now)
			bundle.Version = now.UnixMilli()
			if err := tx.Bundles().Create(ctx, &bundle); err != nil {
				return err
			}
			resp.Kind = dto.UploadCreated
			resp.Version = bundle.Version

		case full:
			bundle := newBundle(userID, req, now)
			bundle.Version = nextVersion(existing.Version, now)
			if existing.RegistrationID != bundle.RegistrationID {
				slog.Warn("registration id changed, replacing whole bundle",
					"user_id", userID, "old_registration_id", existing.RegistrationID, "new_registration_id", bundle.RegistrationID)
			}
			if err := tx.Bundles().Replace(ctx, &bundle); err != nil {
				return err
			}
			if _, err := tx.OneTimePreKeys().DeleteAll(ctx, userID); err != nil {
				return err
			}
			resp.Kind = dto.UploadReplaced
			resp.Version = bundle.Version

		default:
			if err := tx.Bundles().Touch(ctx, userID, now); err != nil {
				return err
			}
			resp.Kind = dto.UploadToppedUp
			resp.Version = existing.Version
		}

		added, err := tx.OneTimePreKeys().AddBatch(ctx, otks)
		if err != nil {
			return err
		}
		resp.AddedKeys = added
		resp.AvailableKeys, resp.TotalKeys, err = tx.OneTimePreKeys().Counts(ctx, userID)
		return err
	})
	if err != nil {
		return dto.UploadBundleResponse{}, err
	}

	slog.Info("prekey bundle uploaded",
		"user_id", userID, "kind", resp.Kind, "version", resp.Version, "added", resp.AddedKeys, "available", resp.AvailableKeys)
	return resp, nil
}

func (s *Service) classify(req dto.UploadBundleRequest) (bool, error) {
	present := 0
	if req.RegistrationID != nil {
		present++
	}
	if req.IdentityKey != "" {
		present++
	}
	if req.SignedPreKey != nil {
		present++
	}
	switch present {
	case 0:
		return false, nil
	case 3:
		if err := s.checkPublicKey("identityKey", req.IdentityKey); err != nil {
			return false, err
		}
		if err := s.checkSignedPreKey(*req.SignedPreKey); err != nil {
			return false, err
		}
		return true, nil
	default:
		return false, fmt.Errorf("%w: registrationId, identityKey and signedPreKey must be supplied together", domain.ErrInvalidRequest)
	}
}

func (s *Service) checkSignedPreKey(k dto.SignedPreKey) error {
	if err := s.checkPublicKey("signedPreKey.publicKey", k.PublicKey); err != nil {
		return err
	}
	return s.checkSignature(k.Signature)
}

func (s *Service) buildPreKeys(userID string, in []dto.OneTimePreKey, now time.Time) ([]domain.OneTimePreKey, error) {
	if len(in) == 0 {
		return nil, fmt.Errorf("%w: at least one one-time prekey is required", domain.ErrInvalidRequest)
	}
	seen := make(map[uint32]struct{}, len(in))
	out := make([]domain.OneTimePreKey, 0, len(in))
	for _, k := range in {
		if _, dup := seen[k.KeyID]; dup {
			return nil, fmt.Errorf("%w: duplicate one-time prekey id %d", domain.ErrInvalidRequest, k.KeyID)
		}
		seen[k.KeyID] = struct{}{}
		if err := s.checkPublicKey("oneTimePreKeys.publicKey", k.PublicKey); err != nil {
			return nil, err
		}
		out = append(out, domain.OneTimePreKey{
			ID:        uuid.New(),
			UserID:    userID,
			KeyID:     k.KeyID,
			PublicKey: k.PublicKey,
			CreatedAt: now,
		})
	}
	return out, nil
}

func newBundle(userID string, req dto.UploadBundleRequest, now time.Time) domain.KeyBundle {
	ts := req.SignedPreKey.Timestamp
	if ts.IsZero() {
		ts = now
	}
	return domain.KeyBundle{
		UserID:                userID,
		RegistrationID:        *req.RegistrationID,
		IdentityKey:           req.IdentityKey,
		SignedPreKeyID:        req.SignedPreKey.KeyID,
		SignedPreKeyPublic:    req.SignedPreKey.PublicKey,
		SignedPreKeySignature: req.SignedPreKey.Signature,
		SignedPreKeyTimestamp: ts.UTC(),
		LastRotatedAt:         now,
	}
}

// nextVersion derives a version from the clock that is strictly greater than
// the previous one.
func nextVersion(prev int64, now time.Time) int64 {
	v := now.UnixMilli()
	if v <= prev {
		v = prev + 1
	}
	return v
}

// ConsumeOne hands out one unused one-time prekey of targetUserID together
// with the identity key, signed prekey and version. Each key is issued once.
func (s *Service) ConsumeOne(ctx context.Context, targetUserID string) (dto.PreKeyBundleResponse, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var (
		bundle *domain.KeyBundle
		otk    *domain.OneTimePreKey
	)
	now := s.now().UTC()
	err := s.store.WithTx(ctx, func(tx *store.Store) error {
		var err error
		bundle, err = tx.Bundles().Get(ctx, targetUserID)
		if err != nil {
			return err
		}
		otk, err = tx.OneTimePreKeys().ConsumeNext(ctx, targetUserID, now)
		if err != nil {
			return err
		}
		if otk == nil {
			return domain.ErrExhausted
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return dto.PreKeyBundleResponse{}, fmt.Errorf("%w: no bundle for user", domain.ErrNotFound)
		}
		return dto.PreKeyBundleResponse{}, err
	}

	return dto.PreKeyBundleResponse{
		UserID:         bundle.UserID,
		RegistrationID: bundle.RegistrationID,
		IdentityKey:    bundle.IdentityKey,
		SignedPreKey:   signedPreKeyDTO(bundle),
		OneTimePreKey:  dto.OneTimePreKey{KeyID: otk.KeyID, PublicKey: otk.PublicKey},
		Version:        bundle.Version,
	}, nil
}

// RotateSignedPreKey swaps the signed prekey; the version is left alone.
func (s *Service) RotateSignedPreKey(ctx context.Context, userID string, req dto.RotateSignedPreKeyRequest) (dto.RotateSignedPreKeyResponse, error) {
	if err := s.checkSignedPreKey(req.SignedPreKey); err != nil {
		return dto.RotateSignedPreKeyResponse{}, err
	}
	now := s.now().UTC()
	ts := req.SignedPreKey.Timestamp
	if ts.IsZero() {
		ts = now
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var bundle *domain.KeyBundle
	err := s.store.WithTx(ctx, func(tx *store.Store) error {
		if err := tx.Bundles().UpdateSignedPreKey(ctx, userID, req.SignedPreKey.KeyID, req.SignedPreKey.PublicKey, req.SignedPreKey.Signature, ts.UTC(), now); err != nil {
			return err
		}
		var err error
		bundle, err = tx.Bundles().Get(ctx, userID)
		return err
	})
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return dto.RotateSignedPreKeyResponse{}, fmt.Errorf("%w: no bundle for user", domain.ErrNotFound)
		}
		return dto.RotateSignedPreKeyResponse{}, err
	}
	return dto.RotateSignedPreKeyResponse{
		UserID:       userID,
		SignedPreKey: signedPreKeyDTO(bundle),
		Version:      bundle.Version,
	}, nil
}

func (s *Service) Version(ctx context.Context, userID string) (dto.BundleVersionResponse, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	bundle, err := s.store.Bundles().Get(ctx, userID)
	if errors.Is(err, store.ErrRecordNotFound) {
		return dto.BundleVersionResponse{Exists: false}, nil
	}
	if err != nil {
		return dto.BundleVersionResponse{}, err
	}
	updated := bundle.UpdatedAt
	return dto.BundleVersionResponse{Exists: true, Version: &bundle.Version, LastUpdate: &updated}, nil
}

// Remaining reports the pool size of userID. A missing bundle counts as an
// empty pool that needs a refresh.
func (s *Service) Remaining(ctx context.Context, userID string) (dto.RemainingResponse, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	bundle, err := s.store.Bundles().Get(ctx, userID)
	if errors.Is(err, store.ErrRecordNotFound) {
		return dto.RemainingResponse{NeedsRefresh: true}, nil
	}
	if err != nil {
		return dto.RemainingResponse{}, err
	}
	available, total, err := s.store.OneTimePreKeys().Counts(ctx, userID)
	if err != nil {
		return dto.RemainingResponse{}, err
	}
	return dto.RemainingResponse{
		Available:    available,
		Total:        total,
		Version:      &bundle.Version,
		NeedsRefresh: available < int64(s.opts.RefillThreshold),
	}, nil
}

// CleanupUsed removes used one-time prekeys of userID consumed before olderThan.
func (s *Service) CleanupUsed(ctx context.Context, userID string, olderThan time.Time) (dto.CleanupResponse, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var resp dto.CleanupResponse
	err := s.store.WithTx(ctx, func(tx *store.Store) error {
		if _, err := tx.Bundles().Get(ctx, userID); err != nil {
			return err
		}
		deleted, err := tx.OneTimePreKeys().DeleteUsedBefore(ctx, userID, olderThan)
		if err != nil {
			return err
		}
		_, total, err := tx.OneTimePreKeys().Counts(ctx, userID)
		if err != nil {
			return err
		}
		resp = dto.CleanupResponse{DeletedCount: deleted, RemainingCount: total}
		return nil
	})
	if errors.Is(err, store.ErrRecordNotFound) {
		return dto.CleanupResponse{}, fmt.Errorf("%w: no bundle for user", domain.ErrNotFound)
	}
	return resp, err
}

// CleanupRetention applies CleanupUsed with the configured retention window.
func (s *Service) CleanupRetention(ctx context.Context, userID string) (dto.CleanupResponse, error) {
	return s.CleanupUsed(ctx, userID, s.now().UTC().Add(-s.opts.Retention))
}

// CollectGarbage removes used one-time prekeys past the retention window for
// every user.
func (s *Service) CollectGarbage(ctx context.Context) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	cutoff := s.now().UTC().Add(-s.opts.Retention)
	n, err := s.store.OneTimePreKeys().DeleteUsedBefore(ctx, "", cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		slog.Info("used one-time prekeys collected", "deleted", n, "cutoff", cutoff)
	}
	return n, nil
}

// DeleteBundle removes the bundle and its whole prekey pool and returns what
// was deleted.
func (s *Service) DeleteBundle(ctx context.Context, userID string) (dto.DeleteBundleResponse, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	deleted := map[string]int64{}
	err := s.store.WithTx(ctx, func(tx *store.Store) error {
		n, err := tx.Bundles().Delete(ctx, userID)
		if err != nil {
			return err
		}
		if n == 0 {
			return store.ErrRecordNotFound
		}
		deleted["bundles"] = n
		deleted["oneTimePreKeys"], err = tx.OneTimePreKeys().DeleteAll(ctx, userID)
		return err
	})
	if errors.Is(err, store.ErrRecordNotFound) {
		return dto.DeleteBundleResponse{}, fmt.Errorf("%w: no bundle for user", domain.ErrNotFound)
	}
	if err != nil {
		return dto.DeleteBundleResponse{}, err
	}
	return dto.DeleteBundleResponse{Deleted: deleted}, nil
}

func signedPreKeyDTO(b *domain.KeyBundle) dto.SignedPreKey {
	return dto.SignedPreKey{
		KeyID:     b.SignedPreKeyID,
		PublicKey: b.SignedPreKeyPublic,
		Signature: b.SignedPreKeySignature,
		Timestamp: b.SignedPreKeyTimestamp,
	}
}
