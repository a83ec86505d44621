// Package rotation implements the key rotation transaction: validate
// preconditions, decrypt every dependent value under the old key, swap the
// key material, re-encrypt under the new key, update metadata, and record
// the audit trail. Each attempt walks an explicit state machine so an
// interrupted rotation can be detected and flagged on the next startup.
package rotation

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/keyward/keyward/internal/crypto"
	kwerrors "github.com/keyward/keyward/internal/errors"
	"github.com/keyward/keyward/internal/keysource"
	"github.com/keyward/keyward/internal/lifecycle"
	"github.com/keyward/keyward/internal/logging"
	"github.com/keyward/keyward/internal/metadata"
	"github.com/keyward/keyward/internal/secure"
)

// State is the current step of an in-flight rotation attempt.
type State string

const (
	StateIdle            State = "idle"
	StateValidating      State = "validating"
	StateDecrypting      State = "decrypting"
	StateKeyUpdated      State = "key_updated"
	StateReEncrypting    State = "re_encrypting"
	StateMetadataUpdated State = "metadata_updated"
	StateAuditRecorded   State = "audit_recorded"
	StateFailed          State = "failed"
)

// keySwapped reports whether the attempt progressed past the point where
// the old key material was overwritten. A failure after this point leaves
// the system possibly inconsistent.
func (s State) keySwapped() bool {
	switch s {
	case StateKeyUpdated, StateReEncrypting, StateMetadataUpdated, StateAuditRecorded:
		return true
	}
	return false
}

// EnvEditor is the environment file access the rotation transaction needs.
// *envfile.Editor satisfies it.
type EnvEditor interface {
	ReadAll(path string) (map[string]string, error)
	UpdateKeyValue(path, name, value string) error
}

// Options tune a rotation attempt.
type Options struct {
	// CustomMaxAge, when positive, overrides the key's maximum age for the
	// new cycle; the resulting policy is persisted with the rotation.
	// Invalid values are logged and ignored, never fatal.
	CustomMaxAge int
	// ForceAll decrypts every present value in the environment file, not
	// just values carrying the encrypted marker. Values that fail to
	// decrypt are still skipped individually.
	ForceAll bool
}

// Result is the outcome of a rotation attempt. When Success is true every
// variable counted in ReEncryptedCount was re-encrypted under the new key
// and verified readable. When Success is false and the key material had
// already been swapped, the system may be inconsistent and needs a manual
// audit.
type Result struct {
	Success          bool
	ReEncryptedCount int
	AffectedFiles    []string
	ErrorDetails     string
}

// attempt tracks one in-flight rotation.
type attempt struct {
	id        string
	keyName   string
	state     State
	startedAt time.Time
}

// Service orchestrates the rotation transaction. Construct with NewService;
// all collaborators are explicit.
type Service struct {
	manager *lifecycle.Manager
	store   *metadata.Store
	keys    keysource.Source
	cipher  *crypto.Cipher
	editor  EnvEditor
	metrics *Metrics
	logger  *logging.Logger
	clock   func() time.Time
}

// NewService creates a rotation service.
func NewService(manager *lifecycle.Manager, store *metadata.Store, keys keysource.Source, cipher *crypto.Cipher, editor EnvEditor, logger *logging.Logger) *Service {
	return &Service{
		manager: manager,
		store:   store,
		keys:    keys,
		cipher:  cipher,
		editor:  editor,
		metrics: NewMetrics(),
		logger:  logger,
		clock:   time.Now,
	}
}

// SetClock overrides the time source. Intended for tests.
func (s *Service) SetClock(clock func() time.Time) {
	s.clock = clock
}

// RotateKeyWithAudit runs the full rotation transaction for keyName:
// replace its material with newKeyValue and re-encrypt every dependent
// value in environmentFile. Any failure is recorded in the audit trail and
// returned as an error; a failed rotation is never reported as partial
// success. A failure after the key swap does NOT roll the key file back;
// the returned ConsistencyError documents the manual-audit requirement.
func (s *Service) RotateKeyWithAudit(ctx context.Context, keyName, newKeyValue, environmentFile string, reason metadata.RotationReason, opts Options) (result *Result, err error) {
	att := &attempt{
		id:        uuid.NewString(),
		keyName:   keyName,
		state:     StateIdle,
		startedAt: s.clock(),
	}
	vault := secure.NewVault()
	markerPath := MarkerPath(s.store.Path())

	s.metrics.RecordRotationStarted(keyName, string(reason))
	s.logger.Info("Starting rotation %s for key '%s' (reason: %s)", att.id, keyName, reason)

	defer func() {
		// Plaintext never outlives the attempt.
		vault.Destroy()

		if rmErr := removeMarker(markerPath); rmErr != nil {
			s.logger.Warn("Failed to remove rotation marker: %v", rmErr)
		}

		elapsed := s.clock().Sub(att.startedAt)
		outcome := "success"
		if err != nil {
			outcome = "failure"
		}
		s.metrics.RecordRotationCompleted(keyName, string(reason), outcome, elapsed.Seconds())
		s.logger.Info("Rotation %s for key '%s' finished in %s (%s)", att.id, keyName, elapsed.Round(time.Millisecond), outcome)

		// Expiry and compromise rotations trigger a full system audit as
		// a best-effort side effect.
		if reason == metadata.ReasonExpired || reason == metadata.ReasonCompromised {
			if _, auditErr := s.manager.PerformComprehensiveAudit(); auditErr != nil {
				s.logger.Warn("Post-rotation system audit failed: %v", auditErr)
			}
		}
	}()

	// Step 1: the key must already be tracked.
	att.state = StateValidating
	if ctxErr := ctx.Err(); ctxErr != nil {
		return s.fail(att, reason, environmentFile, nil, ctxErr)
	}
	rec, lookupErr := s.manager.GetKeyMetadata(keyName)
	if lookupErr != nil {
		return s.fail(att, reason, environmentFile, nil, lookupErr)
	}

	// Step 2: resolve the policy for the new cycle. An invalid override
	// falls back to the stored policy, an invalid stored policy to the
	// defaults; this path repairs, never rejects. The resolved config is
	// persisted with the metadata update in step 8.
	cfg := rec.RotationConfig
	if opts.CustomMaxAge > 0 {
		cfg.MaxAgeInDays = opts.CustomMaxAge
	}
	if vErr := s.manager.ValidateRotationConfig(cfg); vErr != nil {
		s.logger.Warn("Rotation config override for key '%s' is invalid, keeping the stored policy: %v", keyName, vErr)
		cfg = rec.RotationConfig
		if vErr := s.manager.ValidateRotationConfig(cfg); vErr != nil {
			s.logger.Warn("Stored rotation config for key '%s' is invalid, using defaults: %v", keyName, vErr)
			cfg = metadata.DefaultRotationConfig()
		}
	}

	// Step 3: announce the attempt in the audit trail and persist the
	// in-progress marker. Neither failure aborts the rotation.
	if aErr := s.manager.RecordAuditEvent(keyName, metadata.AuditEvent{
		Timestamp: s.clock(),
		EventType: metadata.EventRotated,
		Severity:  metadata.SeverityInfo,
		Source:    "rotation_service",
		Details:   fmt.Sprintf("rotation starting (attempt %s, reason %s)", att.id, reason),
		Metadata: metadata.Attrs{
			"attemptId": metadata.String(att.id),
			"reason":    metadata.String(string(reason)),
		},
	}); aErr != nil {
		s.logger.Warn("Failed to record rotation-start audit event: %v", aErr)
	}
	if mErr := writeMarker(markerPath, &Marker{
		AttemptID:       att.id,
		KeyName:         keyName,
		EnvironmentFile: environmentFile,
		State:           att.state,
		StartedAt:       att.startedAt,
	}); mErr != nil {
		s.logger.Warn("Failed to write rotation marker: %v", mErr)
	}

	// Step 4: the current key material must exist.
	oldValue, ok, getErr := s.keys.Get(keyName)
	if getErr != nil {
		return s.fail(att, reason, environmentFile, nil, getErr)
	}
	if !ok {
		return s.fail(att, reason, environmentFile, nil, kwerrors.NotFoundError{Kind: "key", Name: keyName, File: s.keys.Describe()})
	}

	// Step 5: decrypt dependent values under the old key. Individual
	// failures drop the variable from the batch instead of aborting.
	att.state = StateDecrypting
	values, readErr := s.editor.ReadAll(environmentFile)
	if readErr != nil {
		return s.fail(att, reason, environmentFile, nil, readErr)
	}
	for name, value := range values {
		if name == keyName {
			continue
		}
		if !crypto.IsEncrypted(value) && !opts.ForceAll {
			continue
		}
		plaintext, decErr := s.cipher.DecryptWithMaterial(value, oldValue)
		if decErr != nil {
			s.logger.Warn("Skipping variable '%s': %v", name, decErr)
			continue
		}
		vault.Put(name, plaintext)
	}

	// Step 6: swap the key material and verify the swap took.
	if ctxErr := ctx.Err(); ctxErr != nil {
		return s.fail(att, reason, environmentFile, nil, ctxErr)
	}
	if setErr := s.keys.Set(keyName, newKeyValue); setErr != nil {
		return s.fail(att, reason, environmentFile, nil, setErr)
	}
	stored, ok, verifyErr := s.keys.Get(keyName)
	if verifyErr != nil {
		return s.fail(att, reason, environmentFile, nil, verifyErr)
	}
	if !ok || stored != newKeyValue {
		return s.fail(att, reason, environmentFile, nil, fmt.Errorf("failed to update key - value unchanged"))
	}
	att.state = StateKeyUpdated

	// Step 7: re-encrypt under the new key. Failures here are fatal: the
	// key has already been swapped.
	att.state = StateReEncrypting
	names := vault.Names()
	sort.Strings(names)
	for _, name := range names {
		plaintext, held, openErr := vault.Get(name)
		if openErr != nil || !held {
			return s.fail(att, reason, environmentFile, names, fmt.Errorf("lost plaintext for variable '%s': %v", name, openErr))
		}
		ciphertext, encErr := s.cipher.EncryptWithMaterial(plaintext, newKeyValue)
		if encErr != nil {
			return s.fail(att, reason, environmentFile, names, encErr)
		}
		if updErr := s.editor.UpdateKeyValue(environmentFile, name, ciphertext); updErr != nil {
			return s.fail(att, reason, environmentFile, names, updErr)
		}
	}

	// Step 8: metadata reflects the completed rotation and the resolved
	// policy for the new cycle.
	if mdErr := s.manager.MarkKeyRotated(keyName, environmentFile, names, cfg); mdErr != nil {
		return s.fail(att, reason, environmentFile, names, mdErr)
	}
	att.state = StateMetadataUpdated

	// Step 9: post-rotation health check and the success trail.
	if _, hcErr := s.manager.AddHealthCheckEntry(keyName, metadata.SourceAPI, lifecycle.HealthCheckOptions{
		RotationTriggered: true,
	}); hcErr != nil {
		s.logger.Warn("Failed to record post-rotation health check: %v", hcErr)
	}
	elapsed := s.clock().Sub(att.startedAt)
	if trailErr := s.manager.UpdateAuditTrail(keyName, metadata.RotationEvent{
		Timestamp:         s.clock(),
		Reason:            reason,
		OldKeyHash:        s.manager.HashKey(oldValue),
		NewKeyHash:        s.manager.HashKey(newKeyValue),
		AffectedFiles:     []string{environmentFile},
		AffectedVariables: names,
		Success:           true,
		Forced:            opts.ForceAll,
	}, environmentFile); trailErr != nil {
		s.logger.Warn("Failed to record rotation history: %v", trailErr)
	}
	if aErr := s.manager.RecordAuditEvent(keyName, metadata.AuditEvent{
		Timestamp: s.clock(),
		EventType: metadata.EventRotated,
		Severity:  metadata.SeverityInfo,
		Source:    "rotation_service",
		Details:   fmt.Sprintf("rotation complete: %d variable(s) re-encrypted in %s", len(names), elapsed.Round(time.Millisecond)),
		Metadata: metadata.Attrs{
			"attemptId":          metadata.String(att.id),
			"reason":             metadata.String(string(reason)),
			"reEncryptedCount":   metadata.Int(int64(len(names))),
			"durationMs":         metadata.Int(elapsed.Milliseconds()),
			"processedVariables": metadata.List(names...),
		},
	}); aErr != nil {
		s.logger.Warn("Failed to record rotation-success audit event: %v", aErr)
	}
	att.state = StateAuditRecorded

	s.metrics.RecordReEncrypted(keyName, len(names))
	s.metrics.RecordHealth(keyName, true)
	att.state = StateIdle

	return &Result{
		Success:          true,
		ReEncryptedCount: len(names),
		AffectedFiles:    []string{environmentFile},
	}, nil
}

// fail records the failure in the audit trail and rotation history, then
// hands the error back to the caller. Recording is best effort: its own
// failures are only logged. A failure after the key swap is wrapped as a
// ConsistencyError.
func (s *Service) fail(att *attempt, reason metadata.RotationReason, environmentFile string, affected []string, cause error) (*Result, error) {
	failedAt := att.state
	att.state = StateFailed
	s.logger.Error("Rotation %s for key '%s' failed at %s: %v", att.id, att.keyName, failedAt, cause)
	s.metrics.RecordHealth(att.keyName, false)

	// Best-effort bookkeeping against freshly reloaded metadata; the key
	// may not be tracked at all (step 1 failures).
	if _, hcErr := s.manager.AddHealthCheckEntry(att.keyName, metadata.SourceAPI, lifecycle.HealthCheckOptions{
		OperationFailed:   true,
		RotationTriggered: true,
	}); hcErr != nil {
		s.logger.Debug("Could not record failure health check: %v", hcErr)
	}
	if aErr := s.manager.RecordAuditEvent(att.keyName, metadata.AuditEvent{
		Timestamp: s.clock(),
		EventType: metadata.EventRotated,
		Severity:  metadata.SeverityCritical,
		Source:    "rotation_service",
		Details:   fmt.Sprintf("rotation failed at %s: %v", failedAt, cause),
		Metadata: metadata.Attrs{
			"attemptId": metadata.String(att.id),
			"failedAt":  metadata.String(string(failedAt)),
		},
	}); aErr != nil {
		s.logger.Debug("Could not record failure audit event: %v", aErr)
	}
	if trailErr := s.manager.UpdateAuditTrail(att.keyName, metadata.RotationEvent{
		Timestamp:         s.clock(),
		Reason:            reason,
		AffectedFiles:     []string{environmentFile},
		AffectedVariables: affected,
		Success:           false,
		Error:             cause.Error(),
	}, environmentFile); trailErr != nil {
		s.logger.Debug("Could not record failure rotation history: %v", trailErr)
	}

	err := cause
	if failedAt.keySwapped() {
		s.logger.Critical("Key '%s' material was already replaced; the environment file may hold values encrypted under both keys", att.keyName)
		err = kwerrors.ConsistencyError{KeyName: att.keyName, Step: string(failedAt), Err: cause}
	}

	return &Result{
		Success:       false,
		AffectedFiles: []string{environmentFile},
		ErrorDetails:  cause.Error(),
	}, err
}
