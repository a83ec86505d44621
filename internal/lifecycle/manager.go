// Package lifecycle implements the key lifecycle manager: the single
// source of truth for rotation policy evaluation and audit bookkeeping.
// The manager computes key age and health, enforces rotation policy,
// records audit, rotation, and health-check events, and produces
// system-wide audit summaries. It never touches ciphertext.
package lifecycle

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	kwerrors "github.com/keyward/keyward/internal/errors"
	"github.com/keyward/keyward/internal/keysource"
	"github.com/keyward/keyward/internal/logging"
	"github.com/keyward/keyward/internal/metadata"
)

// SystemKeyPrefix marks keys owned by the tool itself; they are excluded
// from system-wide age statistics.
const SystemKeyPrefix = "KEYWARD_"

// RotationStatus is the outcome of a single key's rotation policy check.
type RotationStatus struct {
	KeyName           string
	Known             bool
	NeedsRotation     bool
	NeedsWarning      bool
	AgeInDays         int
	DaysUntilRotation int
	Status            metadata.KeyStatus
}

// RotationPartition partitions tracked keys by policy outcome. A key
// appears in at most one list; rotation takes precedence over warning.
type RotationPartition struct {
	KeysNeedingRotation []string
	KeysNeedingWarning  []string
}

// SystemAudit aggregates rotation policy and age statistics across all
// tracked keys.
type SystemAudit struct {
	Timestamp           time.Time
	TotalKeys           int
	KeysNeedingRotation []string
	KeysNeedingWarning  []string
	AverageAgeDays      float64
	OldestAgeDays       int
	NewestAgeDays       int
	SystemHealth        metadata.KeyStatus
	Recommendations     []string
}

// HealthCheckOptions qualify a health-check entry.
type HealthCheckOptions struct {
	// OperationFailed marks the check as recording a failed operation;
	// the derived status is critical regardless of age.
	OperationFailed bool
	// ExpiryCheck enables the expired classification when age has reached
	// the configured maximum.
	ExpiryCheck bool
	// RotationTriggered applies the tighter history cap for checks
	// recorded as a side effect of a rotation attempt.
	RotationTriggered bool
	Recommendations   []string
}

// Manager is the key lifecycle manager. Construct with NewManager; all
// dependencies are explicit.
type Manager struct {
	store  *metadata.Store
	keys   keysource.Source
	logger *logging.Logger
	clock  func() time.Time
}

// NewManager creates a lifecycle manager over the given metadata store and
// key source.
func NewManager(store *metadata.Store, keys keysource.Source, logger *logging.Logger) *Manager {
	return &Manager{
		store:  store,
		keys:   keys,
		logger: logger,
		clock:  time.Now,
	}
}

// SetClock overrides the time source. Intended for tests.
func (m *Manager) SetClock(clock func() time.Time) {
	m.clock = clock
}

// ValidateRotationConfig checks the rotation policy invariant. Used
// authoritatively on write paths; read paths repair with defaults instead.
func (m *Manager) ValidateRotationConfig(cfg metadata.RotationConfig) error {
	if cfg.MaxAgeInDays <= 0 {
		return kwerrors.ValidationError{
			Field:   "maxAgeInDays",
			Value:   cfg.MaxAgeInDays,
			Message: "must be a positive number of days",
		}
	}
	if cfg.WarningThresholdInDays < 0 {
		return kwerrors.ValidationError{
			Field:   "warningThresholdInDays",
			Value:   cfg.WarningThresholdInDays,
			Message: "must not be negative",
		}
	}
	if cfg.WarningThresholdInDays >= cfg.MaxAgeInDays {
		return kwerrors.ValidationError{
			Field:   "warningThresholdInDays",
			Value:   cfg.WarningThresholdInDays,
			Message: fmt.Sprintf("must be less than maxAgeInDays (%d)", cfg.MaxAgeInDays),
		}
	}
	return nil
}

// effectiveConfig returns the record's rotation config, repaired to process
// defaults when invalid. Read-path behavior: repair and log, never fail.
func (m *Manager) effectiveConfig(rec *metadata.KeyMetadata) metadata.RotationConfig {
	if err := m.ValidateRotationConfig(rec.RotationConfig); err != nil {
		m.logger.Warn("Key '%s' has an invalid rotation config, using defaults: %v", rec.KeyName, err)
		return metadata.DefaultRotationConfig()
	}
	return rec.RotationConfig
}

// HashKey returns the non-cryptographic content fingerprint of key
// material, used only to tell in audit logs whether rotated material
// actually changed.
func (m *Manager) HashKey(value string) metadata.AuditFingerprint {
	return metadata.Fingerprint(value)
}

// ageInDays computes a key's age as whole days, rounded up, from the
// reference date (last rotation if any, otherwise creation).
func (m *Manager) ageInDays(rec *metadata.KeyMetadata) int {
	elapsed := m.clock().Sub(rec.ReferenceDate())
	if elapsed <= 0 {
		return 0
	}
	return int(math.Ceil(elapsed.Hours() / 24))
}

// CheckKeyRotationStatus evaluates the rotation policy for one key. An
// unknown key yields a neutral status (no rotation needed, full default
// max age remaining) and no error. As a side effect a health-check entry
// is recorded, plus an expired or warning audit event when the policy
// demands attention; recording failures are logged, never escalated.
func (m *Manager) CheckKeyRotationStatus(keyName string, source metadata.CheckSource) (*RotationStatus, error) {
	records := m.store.ReadAll()
	rec, ok := records[keyName]
	if !ok {
		m.logger.Debug("No metadata for key '%s', reporting neutral rotation status", keyName)
		return &RotationStatus{
			KeyName:           keyName,
			Known:             false,
			DaysUntilRotation: metadata.DefaultMaxAgeInDays,
			Status:            metadata.StatusHealthy,
		}, nil
	}

	cfg := m.effectiveConfig(rec)
	age := m.ageInDays(rec)
	daysUntil := cfg.MaxAgeInDays - age
	if daysUntil < 0 {
		daysUntil = 0
	}
	needsRotation := age >= cfg.MaxAgeInDays
	needsWarning := !needsRotation && daysUntil <= cfg.WarningThresholdInDays

	status := &RotationStatus{
		KeyName:           keyName,
		Known:             true,
		NeedsRotation:     needsRotation,
		NeedsWarning:      needsWarning,
		AgeInDays:         age,
		DaysUntilRotation: daysUntil,
	}

	now := m.clock()
	health := m.deriveHealthStatus(rec, cfg, age, HealthCheckOptions{ExpiryCheck: true})
	status.Status = health

	rec.AppendHealthCheck(metadata.HealthCheckEvent{
		Timestamp:       now,
		AgeInDays:       age,
		DaysUntilExpiry: daysUntil,
		Status:          health,
		CheckSource:     source,
	}, false)
	rec.SetStatus(health, now)

	switch {
	case needsRotation:
		rec.AppendAuditEvent(metadata.AuditEvent{
			Timestamp: now,
			EventType: metadata.EventExpired,
			Severity:  metadata.SeverityCritical,
			Source:    string(source),
			Details:   fmt.Sprintf("key age %d day(s) has reached the %d day maximum", age, cfg.MaxAgeInDays),
			Metadata: metadata.Attrs{
				"ageInDays":    metadata.Int(int64(age)),
				"maxAgeInDays": metadata.Int(int64(cfg.MaxAgeInDays)),
			},
		})
	case needsWarning:
		rec.AppendAuditEvent(metadata.AuditEvent{
			Timestamp: now,
			EventType: metadata.EventWarningIssued,
			Severity:  metadata.SeverityWarning,
			Source:    string(source),
			Details:   fmt.Sprintf("key expires in %d day(s)", daysUntil),
			Metadata: metadata.Attrs{
				"daysUntilRotation": metadata.Int(int64(daysUntil)),
			},
		})
	}

	if err := m.store.UpdateKey(keyName, rec); err != nil {
		// Audit bookkeeping is best effort on the read path.
		m.logger.Warn("Failed to persist health check for key '%s': %v", keyName, err)
	}

	return status, nil
}

// CheckAllKeysForRotation evaluates the rotation policy for every tracked
// key and partitions the results. Rotation takes precedence over warning.
func (m *Manager) CheckAllKeysForRotation() (*RotationPartition, error) {
	records := m.store.ReadAll()
	names := make([]string, 0, len(records))
	for name := range records {
		names = append(names, name)
	}
	sort.Strings(names)

	partition := &RotationPartition{
		KeysNeedingRotation: []string{},
		KeysNeedingWarning:  []string{},
	}
	for _, name := range names {
		status, err := m.CheckKeyRotationStatus(name, metadata.SourceScheduled)
		if err != nil {
			return nil, err
		}
		switch {
		case status.NeedsRotation:
			m.logger.Critical("Key '%s' is %d day(s) old and requires immediate rotation", name, status.AgeInDays)
			partition.KeysNeedingRotation = append(partition.KeysNeedingRotation, name)
		case status.NeedsWarning:
			m.logger.Warn("Key '%s' expires in %d day(s)", name, status.DaysUntilRotation)
			partition.KeysNeedingWarning = append(partition.KeysNeedingWarning, name)
		}
	}
	return partition, nil
}

// StoreBaseEnvironmentKey provisions key material idempotently. An already
// stored key without the rotate flag is a logged no-op, reported by the
// stored return. Otherwise the value is written to the key source
// (appending a new line or overwriting the existing one) and metadata is
// updated: a brand-new key gets a fresh record with rotation count zero
// and a created event; a key that is already tracked keeps its record,
// whether this is an in-place rotate or the material is being restored
// after the key source lost it. The rotation count and audit trail of a
// tracked key are never reset here.
func (m *Manager) StoreBaseEnvironmentKey(keyName, keyValue string, rotate bool, cfg metadata.RotationConfig) (stored bool, err error) {
	if err := m.ValidateRotationConfig(cfg); err != nil {
		return false, err
	}

	existing, exists, err := m.keys.Get(keyName)
	if err != nil {
		return false, fmt.Errorf("failed to read key source: %w", err)
	}
	if exists && !rotate {
		m.logger.Info("Key '%s' already present in %s, leaving it untouched", keyName, m.keys.Describe())
		return false, nil
	}

	if err := m.keys.Set(keyName, keyValue); err != nil {
		return false, fmt.Errorf("failed to store key '%s': %w", keyName, err)
	}

	now := m.clock()
	records := m.store.ReadAll()
	rec, known := records[keyName]

	if known {
		rec.RotationCount++
		rotatedAt := now
		rec.LastRotatedAt = &rotatedAt
		rec.RotationConfig = cfg
		rec.SetStatus(metadata.StatusHealthy, now)

		event := metadata.RotationEvent{
			Timestamp:  now,
			Reason:     metadata.ReasonManual,
			NewKeyHash: metadata.Fingerprint(keyValue),
			Success:    true,
		}
		severity := metadata.SeverityWarning
		details := fmt.Sprintf("key material restored after loss from %s, rotation count now %d", m.keys.Describe(), rec.RotationCount)
		if exists {
			// In-place rotate; the old material's fingerprint is known.
			event.OldKeyHash = metadata.Fingerprint(existing)
			severity = metadata.SeverityInfo
			details = fmt.Sprintf("key material replaced in place, rotation count now %d", rec.RotationCount)
		}
		rec.AppendRotationEvent(event)
		rec.AppendAuditEvent(metadata.AuditEvent{
			Timestamp: now,
			EventType: metadata.EventRotated,
			Severity:  severity,
			Source:    "store_base_key",
			Details:   details,
		})
	} else {
		rec = metadata.NewKeyMetadata(keyName, cfg, now)
		// Bootstrap rotation entry with empty affected lists; back-filled
		// once the first real rotation completes.
		rec.AppendRotationEvent(metadata.RotationEvent{
			Timestamp:  now,
			Reason:     metadata.ReasonManual,
			NewKeyHash: metadata.Fingerprint(keyValue),
			Success:    true,
		})
		rec.AppendAuditEvent(metadata.AuditEvent{
			Timestamp: now,
			EventType: metadata.EventCreated,
			Severity:  metadata.SeverityInfo,
			Source:    "store_base_key",
			Details:   fmt.Sprintf("key stored in %s", m.keys.Describe()),
		})
	}

	return true, m.store.UpdateKey(keyName, rec)
}

// RecordAuditEvent appends an audit event to a key's trail and persists it.
func (m *Manager) RecordAuditEvent(keyName string, event metadata.AuditEvent) error {
	records := m.store.ReadAll()
	rec, ok := records[keyName]
	if !ok {
		return kwerrors.NotFoundError{Kind: "metadata", Name: keyName}
	}
	rec.AppendAuditEvent(event)
	return m.store.UpdateKey(keyName, rec)
}

// UpdateAuditTrail appends a rotation event. On success it also back-fills
// the bootstrap rotation entry with the actual affected files and variables
// and merges usage tracking; usage entries are added, never removed.
func (m *Manager) UpdateAuditTrail(keyName string, event metadata.RotationEvent, environmentFile string) error {
	records := m.store.ReadAll()
	rec, ok := records[keyName]
	if !ok {
		return kwerrors.NotFoundError{Kind: "metadata", Name: keyName}
	}

	rec.AppendRotationEvent(event)
	if event.Success {
		if rec.BackfillBootstrapEntry(event.AffectedFiles, event.AffectedVariables) {
			m.logger.Debug("Back-filled bootstrap rotation entry for key '%s'", keyName)
		}
		rec.MergeUsage(environmentFile, event.AffectedVariables, m.clock())
	}

	return m.store.UpdateKey(keyName, rec)
}

// AddHealthCheckEntry records a health check for a key, deriving its status
// from the options and the key's age, and updates the key's status
// tracking. Returns the derived status.
func (m *Manager) AddHealthCheckEntry(keyName string, source metadata.CheckSource, opts HealthCheckOptions) (metadata.KeyStatus, error) {
	records := m.store.ReadAll()
	rec, ok := records[keyName]
	if !ok {
		return "", kwerrors.NotFoundError{Kind: "metadata", Name: keyName}
	}

	cfg := m.effectiveConfig(rec)
	age := m.ageInDays(rec)
	status := m.deriveHealthStatus(rec, cfg, age, opts)

	daysUntil := cfg.MaxAgeInDays - age
	if daysUntil < 0 {
		daysUntil = 0
	}

	now := m.clock()
	rec.AppendHealthCheck(metadata.HealthCheckEvent{
		Timestamp:       now,
		AgeInDays:       age,
		DaysUntilExpiry: daysUntil,
		Status:          status,
		CheckSource:     source,
		Recommendations: opts.Recommendations,
	}, opts.RotationTriggered)
	rec.SetStatus(status, now)

	if err := m.store.UpdateKey(keyName, rec); err != nil {
		return status, err
	}
	return status, nil
}

// deriveHealthStatus classifies a key's health. A failed operation is
// always critical. With expiry checking, age at or past the maximum is
// expired. Warning applies when age or days since the last rotation is
// within the warning threshold of the maximum; the two formulations are
// equivalent at the boundary (age == maxAge - warningThreshold).
func (m *Manager) deriveHealthStatus(rec *metadata.KeyMetadata, cfg metadata.RotationConfig, age int, opts HealthCheckOptions) metadata.KeyStatus {
	if opts.OperationFailed {
		return metadata.StatusCritical
	}
	if opts.ExpiryCheck && age >= cfg.MaxAgeInDays {
		return metadata.StatusExpired
	}

	warningFloor := cfg.MaxAgeInDays - cfg.WarningThresholdInDays
	if age >= warningFloor {
		return metadata.StatusWarning
	}
	if rec.LastRotatedAt != nil {
		sinceRotation := int(math.Ceil(m.clock().Sub(*rec.LastRotatedAt).Hours() / 24))
		if sinceRotation >= warningFloor {
			return metadata.StatusWarning
		}
	}
	return metadata.StatusHealthy
}

// PerformComprehensiveAudit evaluates rotation policy for every key and
// aggregates age statistics over non-system keys. System health is critical
// when any key needs rotation, warning when any key needs a warning, and
// healthy otherwise.
func (m *Manager) PerformComprehensiveAudit() (*SystemAudit, error) {
	partition, err := m.CheckAllKeysForRotation()
	if err != nil {
		return nil, err
	}

	records := m.store.ReadAll()
	audit := &SystemAudit{
		Timestamp:           m.clock(),
		TotalKeys:           len(records),
		KeysNeedingRotation: partition.KeysNeedingRotation,
		KeysNeedingWarning:  partition.KeysNeedingWarning,
		SystemHealth:        metadata.StatusHealthy,
		Recommendations:     []string{},
	}

	var ages []int
	var maxAges []int
	for name, rec := range records {
		if strings.HasPrefix(name, SystemKeyPrefix) {
			continue
		}
		ages = append(ages, m.ageInDays(rec))
		maxAges = append(maxAges, m.effectiveConfig(rec).MaxAgeInDays)
	}

	if len(ages) > 0 {
		sum := 0
		oldest := ages[0]
		newest := ages[0]
		for _, age := range ages {
			sum += age
			if age > oldest {
				oldest = age
			}
			if age < newest {
				newest = age
			}
		}
		audit.AverageAgeDays = float64(sum) / float64(len(ages))
		audit.OldestAgeDays = oldest
		audit.NewestAgeDays = newest

		maxSum := 0
		for _, maxAge := range maxAges {
			maxSum += maxAge
		}
		avgMax := float64(maxSum) / float64(len(maxAges))
		if audit.AverageAgeDays > 0.8*avgMax {
			audit.Recommendations = append(audit.Recommendations,
				"Average key age exceeds 80% of the rotation interval; consider reducing the rotation interval")
		}
	}

	switch {
	case len(partition.KeysNeedingRotation) > 0:
		audit.SystemHealth = metadata.StatusCritical
		audit.Recommendations = append(audit.Recommendations,
			fmt.Sprintf("%d key(s) require immediate rotation", len(partition.KeysNeedingRotation)))
	case len(partition.KeysNeedingWarning) > 0:
		audit.SystemHealth = metadata.StatusWarning
		audit.Recommendations = append(audit.Recommendations,
			fmt.Sprintf("%d key(s) approach their rotation deadline", len(partition.KeysNeedingWarning)))
	}

	return audit, nil
}

// GetKeyMetadata returns a copy of the record for a key.
func (m *Manager) GetKeyMetadata(keyName string) (*metadata.KeyMetadata, error) {
	records := m.store.ReadAll()
	rec, ok := records[keyName]
	if !ok {
		return nil, kwerrors.NotFoundError{Kind: "metadata", Name: keyName}
	}
	return rec.Clone(), nil
}

// ListKeyNames returns every tracked key name, sorted.
func (m *Manager) ListKeyNames() []string {
	records := m.store.ReadAll()
	names := make([]string, 0, len(records))
	for name := range records {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MarkKeyRotated applies the metadata side of a successful rotation:
// increments the rotation count, sets the rotation timestamp, stores the
// policy for the new cycle, merges usage tracking, and resets status to
// healthy.
func (m *Manager) MarkKeyRotated(keyName, environmentFile string, variables []string, cfg metadata.RotationConfig) error {
	if err := m.ValidateRotationConfig(cfg); err != nil {
		return err
	}

	records := m.store.ReadAll()
	rec, ok := records[keyName]
	if !ok {
		return kwerrors.NotFoundError{Kind: "metadata", Name: keyName}
	}

	now := m.clock()
	rec.RotationCount++
	rotatedAt := now
	rec.LastRotatedAt = &rotatedAt
	rec.RotationConfig = cfg
	rec.MergeUsage(environmentFile, variables, now)
	rec.SetStatus(metadata.StatusHealthy, now)

	return m.store.UpdateKey(keyName, rec)
}

// RemoveKey deletes a key's metadata record. The key material itself is
// not touched.
func (m *Manager) RemoveKey(keyName string) error {
	return m.store.RemoveKey(keyName)
}
