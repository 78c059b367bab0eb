package registry

import (
	"context"

	"vface/internal/vault"
	domainerrors "vface/pkg/domain-errors"
)

// KeyRotator introduces new encryption key generations. Implemented by the
// keystore.
type KeyRotator interface {
	RotateEncryptionKey() (int, error)
	ExtendKeyring(kr *vault.Keyring) error
}

// RotationReport summarizes a completed key rotation.
type RotationReport struct {
	NewKeyVersion int   `json:"newKeyVersion"`
	Rotated       int   `json:"rotated"`
	Skipped       int   `json:"skipped"`
	OldVersions   []int `json:"oldVersions"`
}

// RotateKeys introduces the next encryption key version and re-encrypts every
// stored vector under it, recomputing commitments over the new payloads. The
// updates apply as one batch; a failure part-way leaves every row readable
// under its old key.
func (s *Service) RotateKeys(ctx context.Context) (*RotationReport, error) {
	if s.rotator == nil {
		return nil, domainerrors.New(domainerrors.CodeInternal, "key rotation is not configured")
	}

	newVersion, err := s.rotator.RotateEncryptionKey()
	if err != nil {
		return nil, domainerrors.Wrap(domainerrors.CodeInternal, "rotate encryption key", err)
	}
	if err := s.rotator.ExtendKeyring(s.keyring); err != nil {
		return nil, domainerrors.Wrap(domainerrors.CodeInternal, "extend keyring", err)
	}

	records, err := s.store.ListWithVectors(ctx)
	if err != nil {
		return nil, domainerrors.Wrap(domainerrors.CodeUnavailable, "list vectors for rotation", err)
	}

	report := &RotationReport{NewKeyVersion: newVersion}
	seen := make(map[int]bool)
	updates := make([]EncryptionUpdate, 0, len(records))
	for _, record := range records {
		payload, oldVersion, _, err := s.keyring.ReEncrypt(record.EncryptedVector)
		if err != nil {
			return nil, domainerrors.Wrap(domainerrors.CodeInternal, "re-encrypt vector", err).
				WithMeta("fingerprint", record.Fingerprint)
		}
		if oldVersion == newVersion {
			report.Skipped++
			continue
		}
		if !seen[oldVersion] {
			seen[oldVersion] = true
			report.OldVersions = append(report.OldVersions, oldVersion)
		}
		updates = append(updates, EncryptionUpdate{
			Fingerprint:     record.Fingerprint,
			EncryptedVector: payload,
			Commitment:      Commitment(payload, record.CommitmentNonce),
			KeyVersion:      newVersion,
		})
	}

	if len(updates) > 0 {
		err = s.runTx(ctx, func(ctx context.Context) error {
			return s.store.ApplyEncryptionUpdates(ctx, updates)
		})
		if err != nil {
			return nil, domainerrors.Wrap(domainerrors.CodeUnavailable, "apply encryption updates", err)
		}
	}
	report.Rotated = len(updates)

	s.logger.InfoContext(ctx, "encryption keys rotated",
		"new_key_version", newVersion, "rotated", report.Rotated, "skipped", report.Skipped)
	return report, nil
}
