// Package keyops is the facade over the key lifecycle subsystem. It
// exposes the use-case operations (generate a key, encrypt variables,
// rotate with audit, inspect a key, audit the system, run the startup
// security check) as thin compositions over the lifecycle manager,
// rotation service, and metadata store. It holds no state or policy of
// its own.
package keyops

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/keyward/keyward/internal/crypto"
	"github.com/keyward/keyward/internal/envfile"
	"github.com/keyward/keyward/internal/lifecycle"
	"github.com/keyward/keyward/internal/logging"
	"github.com/keyward/keyward/internal/metadata"
	"github.com/keyward/keyward/internal/rotation"
)

// KeyInfo is the normalized result shape for single-key inspection.
type KeyInfo struct {
	KeyName        string
	CreatedAt      time.Time
	LastRotatedAt  *time.Time
	RotationCount  int
	Status         metadata.KeyStatus
	RotationConfig metadata.RotationConfig
	UsageTracking  metadata.UsageTracking
	// AuditTrail is populated only when requested with detail.
	AuditTrail *metadata.AuditTrail
}

// StartupReport is the outcome of the startup security check.
type StartupReport struct {
	Passed              bool
	SystemHealth        metadata.KeyStatus
	InterruptedRotation *rotation.Marker
	Audit               *lifecycle.SystemAudit
}

// Service composes the lifecycle manager, rotation service, and
// collaborators behind the use-case operations.
type Service struct {
	manager *lifecycle.Manager
	rotator *rotation.Service
	store   *metadata.Store
	cipher  *crypto.Cipher
	editor  *envfile.Editor
	logger  *logging.Logger
}

// New wires a facade from its collaborators.
func New(manager *lifecycle.Manager, rotator *rotation.Service, store *metadata.Store, cipher *crypto.Cipher, editor *envfile.Editor, logger *logging.Logger) *Service {
	return &Service{
		manager: manager,
		rotator: rotator,
		store:   store,
		cipher:  cipher,
		editor:  editor,
		logger:  logger,
	}
}

// GenerateKey creates fresh random key material for keyName and provisions
// it through the lifecycle manager. Provisioning an existing key is a
// no-op unless rotate is set; the no-op returns an empty value so callers
// never see material that was not stored. Returns the stored material so
// the caller can hand it to an operator exactly once.
func (s *Service) GenerateKey(keyName string, rotate bool, cfg metadata.RotationConfig) (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate key material: %w", err)
	}
	value := hex.EncodeToString(raw)

	stored, err := s.manager.StoreBaseEnvironmentKey(keyName, value, rotate, cfg)
	if err != nil {
		return "", err
	}
	if !stored {
		return "", nil
	}
	return value, nil
}

// EncryptVariables encrypts the named plaintext variables in an env file
// under keyName and records the usage. With no names given, every
// unencrypted variable in the file (except the key's own entry) is taken.
// Returns the number of variables encrypted.
func (s *Service) EncryptVariables(ctx context.Context, environmentFile, keyName string, names []string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	values, err := s.editor.ReadAll(environmentFile)
	if err != nil {
		return 0, err
	}

	if len(names) == 0 {
		for name, value := range values {
			if name == keyName || crypto.IsEncrypted(value) {
				continue
			}
			names = append(names, name)
		}
	}

	encrypted := make([]string, 0, len(names))
	for _, name := range names {
		value, ok := values[name]
		if !ok {
			s.logger.Warn("Variable '%s' not present in %s, skipping", name, environmentFile)
			continue
		}
		if crypto.IsEncrypted(value) {
			s.logger.Debug("Variable '%s' is already encrypted, skipping", name)
			continue
		}
		ciphertext, err := s.cipher.Encrypt(value, keyName)
		if err != nil {
			return len(encrypted), err
		}
		if err := s.editor.UpdateKeyValue(environmentFile, name, ciphertext); err != nil {
			return len(encrypted), err
		}
		encrypted = append(encrypted, name)
	}

	if len(encrypted) > 0 {
		if err := s.manager.RecordAuditEvent(keyName, metadata.AuditEvent{
			Timestamp: time.Now(),
			EventType: metadata.EventAccessed,
			Severity:  metadata.SeverityInfo,
			Source:    "encrypt_variables",
			Details:   fmt.Sprintf("encrypted %d variable(s) in %s", len(encrypted), environmentFile),
			Metadata: metadata.Attrs{
				"variables": metadata.List(encrypted...),
			},
		}); err != nil {
			s.logger.Warn("Failed to record encryption audit event: %v", err)
		}
		if err := s.manager.UpdateAuditTrail(keyName, metadata.RotationEvent{
			Timestamp:         time.Now(),
			Reason:            metadata.ReasonManual,
			AffectedFiles:     []string{environmentFile},
			AffectedVariables: encrypted,
			Success:           true,
		}, environmentFile); err != nil {
			s.logger.Warn("Failed to record encryption usage: %v", err)
		}
	}

	return len(encrypted), nil
}

// RotateKeyWithAudit delegates the full rotation transaction.
func (s *Service) RotateKeyWithAudit(ctx context.Context, keyName, newKeyValue, environmentFile string, reason metadata.RotationReason, opts rotation.Options) (*rotation.Result, error) {
	return s.rotator.RotateKeyWithAudit(ctx, keyName, newKeyValue, environmentFile, reason, opts)
}

// GetKeyInfo returns the normalized record for one key, with the full
// audit trail only when withAudit is set.
func (s *Service) GetKeyInfo(keyName string, withAudit bool) (*KeyInfo, error) {
	rec, err := s.manager.GetKeyMetadata(keyName)
	if err != nil {
		return nil, err
	}

	info := &KeyInfo{
		KeyName:        rec.KeyName,
		CreatedAt:      rec.CreatedAt,
		LastRotatedAt:  rec.LastRotatedAt,
		RotationCount:  rec.RotationCount,
		Status:         rec.StatusTracking.CurrentStatus,
		RotationConfig: rec.RotationConfig,
		UsageTracking:  rec.UsageTracking,
	}
	if withAudit {
		trail := rec.AuditTrail
		info.AuditTrail = &trail
	}
	return info, nil
}

// ListKeys returns every tracked key name, sorted.
func (s *Service) ListKeys() []string {
	return s.manager.ListKeyNames()
}

// CheckRotationStatus evaluates the rotation policy for one key.
func (s *Service) CheckRotationStatus(keyName string, source metadata.CheckSource) (*lifecycle.RotationStatus, error) {
	return s.manager.CheckKeyRotationStatus(keyName, source)
}

// SystemAudit runs the comprehensive audit across all tracked keys.
func (s *Service) SystemAudit() (*lifecycle.SystemAudit, error) {
	return s.manager.PerformComprehensiveAudit()
}

// StartupSecurityCheck runs the system audit and looks for an interrupted
// rotation marker. The check passes when system health is not critical and
// no rotation was left in flight.
func (s *Service) StartupSecurityCheck() (*StartupReport, error) {
	audit, err := s.manager.PerformComprehensiveAudit()
	if err != nil {
		return nil, err
	}

	marker, interrupted, err := rotation.ReadMarker(s.store.Path())
	if err != nil {
		s.logger.Warn("Could not inspect rotation marker: %v", err)
	}
	if interrupted {
		s.logger.Critical("Rotation of key '%s' (attempt %s) was interrupted at state '%s'; audit the key files before rotating again",
			marker.KeyName, marker.AttemptID, marker.State)
	}

	return &StartupReport{
		Passed:              audit.SystemHealth != metadata.StatusCritical && !interrupted,
		SystemHealth:        audit.SystemHealth,
		InterruptedRotation: marker,
		Audit:               audit,
	}, nil
}

// ClearRotationMarker acknowledges an interrupted rotation after a manual
// audit by removing the leftover marker.
func (s *Service) ClearRotationMarker() error {
	return rotation.ClearMarker(s.store.Path())
}
