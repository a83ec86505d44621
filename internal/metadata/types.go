// Package metadata defines the per-key lifecycle records and their
// durable JSON-file store.
//
// Each tracked key owns exactly one KeyMetadata record, keyed by key name.
// Records carry the rotation policy, a capacity-bounded audit trail, usage
// tracking, and status tracking. The store persists the whole record set as
// a single pretty-printed JSON file with best-effort timestamped backups.
package metadata

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// History capacity bounds. Oldest entries are trimmed first.
const (
	MaxAuditEvents                = 100
	MaxHealthChecks               = 50
	MaxRotationHealthChecks       = 25
	DefaultMaxAgeInDays           = 90
	DefaultWarningThresholdInDays = 7
)

// EventType categorizes audit events in a key's trail.
type EventType string

const (
	EventCreated       EventType = "created"
	EventRotated       EventType = "rotated"
	EventAccessed      EventType = "accessed"
	EventWarningIssued EventType = "warning_issued"
	EventExpired       EventType = "expired"
	EventHealthCheck   EventType = "health_check"
)

// Severity grades an audit event.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// RotationReason records why a rotation was performed.
type RotationReason string

const (
	ReasonScheduled      RotationReason = "scheduled"
	ReasonManual         RotationReason = "manual"
	ReasonExpired        RotationReason = "expired"
	ReasonSecurityBreach RotationReason = "security_breach"
	ReasonCompromised    RotationReason = "compromised"
)

// KeyStatus is the health classification of a single key.
type KeyStatus string

const (
	StatusHealthy  KeyStatus = "healthy"
	StatusWarning  KeyStatus = "warning"
	StatusCritical KeyStatus = "critical"
	StatusExpired  KeyStatus = "expired"
)

// CheckSource identifies what triggered a health check.
type CheckSource string

const (
	SourceStartup   CheckSource = "startup"
	SourceScheduled CheckSource = "scheduled"
	SourceManual    CheckSource = "manual"
	SourceAPI       CheckSource = "api"
)

// AuditFingerprint is a fast, non-cryptographic content fingerprint used to
// tell whether rotated key material actually changed. It is NOT a security
// control and must never be treated as one.
type AuditFingerprint string

// Fingerprint computes the 32-bit rolling hash of a value, rendered as hex.
func Fingerprint(value string) AuditFingerprint {
	var h uint32
	for _, r := range value {
		h = h*31 + uint32(r)
	}
	return AuditFingerprint(fmt.Sprintf("%08x", h))
}

// RotationConfig is the rotation policy attached to a key.
// Invariant: 0 < WarningThresholdInDays < MaxAgeInDays.
type RotationConfig struct {
	MaxAgeInDays           int `json:"maxAgeInDays"`
	WarningThresholdInDays int `json:"warningThresholdInDays"`
}

// DefaultRotationConfig returns the process-default rotation policy,
// used to repair invalid configs encountered on read paths.
func DefaultRotationConfig() RotationConfig {
	return RotationConfig{
		MaxAgeInDays:           DefaultMaxAgeInDays,
		WarningThresholdInDays: DefaultWarningThresholdInDays,
	}
}

// Valid reports whether the config satisfies the policy invariant.
func (c RotationConfig) Valid() bool {
	return c.MaxAgeInDays > 0 && c.WarningThresholdInDays >= 0 && c.WarningThresholdInDays < c.MaxAgeInDays
}

// AuditEvent is a single entry in a key's audit event history.
type AuditEvent struct {
	Timestamp time.Time `json:"timestamp"`
	EventType EventType `json:"eventType"`
	Severity  Severity  `json:"severity"`
	Source    string    `json:"source"`
	Details   string    `json:"details"`
	Metadata  Attrs     `json:"metadata,omitempty"`
}

// RotationEvent is a single entry in a key's rotation history. Entries are
// immutable once written, except the bootstrap entry created at key-creation
// time with empty affected lists, which is back-filled once a real rotation
// completes.
type RotationEvent struct {
	Timestamp         time.Time        `json:"timestamp"`
	Reason            RotationReason   `json:"reason"`
	OldKeyHash        AuditFingerprint `json:"oldKeyHash,omitempty"`
	NewKeyHash        AuditFingerprint `json:"newKeyHash,omitempty"`
	AffectedFiles     []string         `json:"affectedFiles"`
	AffectedVariables []string         `json:"affectedVariables"`
	Success           bool             `json:"success"`
	Error             string           `json:"error,omitempty"`
	Forced            bool             `json:"forced,omitempty"`
}

// HealthCheckEvent is a point-in-time evaluation of a key's age and status.
type HealthCheckEvent struct {
	Timestamp       time.Time   `json:"timestamp"`
	AgeInDays       int         `json:"ageInDays"`
	DaysUntilExpiry int         `json:"daysUntilExpiry"`
	Status          KeyStatus   `json:"status"`
	CheckSource     CheckSource `json:"checkSource"`
	Recommendations []string    `json:"recommendations,omitempty"`
}

// AuditTrail groups the three bounded event histories of a key.
type AuditTrail struct {
	AuditEvents        []AuditEvent       `json:"auditEvents"`
	RotationHistory    []RotationEvent    `json:"rotationHistory"`
	HealthCheckHistory []HealthCheckEvent `json:"healthCheckHistory"`
}

// UsageTracking records where a key is used. The slices are kept as
// deduplicated, sorted sets.
type UsageTracking struct {
	EnvironmentsUsedIn []string  `json:"environmentsUsedIn"`
	DependentVariables []string  `json:"dependentVariables"`
	LastAccessedAt     time.Time `json:"lastAccessedAt"`
}

// StatusTracking records the current status of a key. LastStatusChange is
// only updated when the status actually changes.
type StatusTracking struct {
	CurrentStatus    KeyStatus `json:"currentStatus"`
	LastStatusChange time.Time `json:"lastStatusChange"`
}

// KeyMetadata is the durable lifecycle record for a single named key.
// KeyName and CreatedAt are immutable after creation; RotationCount never
// decreases.
type KeyMetadata struct {
	KeyName        string         `json:"keyName"`
	CreatedAt      time.Time      `json:"createdAt"`
	LastRotatedAt  *time.Time     `json:"lastRotatedAt,omitempty"`
	RotationCount  int            `json:"rotationCount"`
	RotationConfig RotationConfig `json:"rotationConfig"`
	AuditTrail     AuditTrail     `json:"auditTrail"`
	UsageTracking  UsageTracking  `json:"usageTracking"`
	StatusTracking StatusTracking `json:"statusTracking"`
}

// NewKeyMetadata creates a fresh record for a newly stored key.
func NewKeyMetadata(keyName string, cfg RotationConfig, now time.Time) *KeyMetadata {
	return &KeyMetadata{
		KeyName:        keyName,
		CreatedAt:      now,
		RotationCount:  0,
		RotationConfig: cfg,
		AuditTrail: AuditTrail{
			AuditEvents:        []AuditEvent{},
			RotationHistory:    []RotationEvent{},
			HealthCheckHistory: []HealthCheckEvent{},
		},
		UsageTracking: UsageTracking{
			EnvironmentsUsedIn: []string{},
			DependentVariables: []string{},
			LastAccessedAt:     now,
		},
		StatusTracking: StatusTracking{
			CurrentStatus:    StatusHealthy,
			LastStatusChange: now,
		},
	}
}

// ReferenceDate returns the date key age is computed from: the most recent
// rotation if one happened, otherwise creation.
func (m *KeyMetadata) ReferenceDate() time.Time {
	if m.LastRotatedAt != nil {
		return *m.LastRotatedAt
	}
	return m.CreatedAt
}

// AppendAuditEvent appends an event, trimming the oldest entries to keep
// the history within MaxAuditEvents.
func (m *KeyMetadata) AppendAuditEvent(event AuditEvent) {
	m.AuditTrail.AuditEvents = append(m.AuditTrail.AuditEvents, event)
	if n := len(m.AuditTrail.AuditEvents); n > MaxAuditEvents {
		m.AuditTrail.AuditEvents = m.AuditTrail.AuditEvents[n-MaxAuditEvents:]
	}
}

// AppendHealthCheck appends a health-check entry. Rotation-triggered checks
// carry a tighter cap than general checks.
func (m *KeyMetadata) AppendHealthCheck(event HealthCheckEvent, rotationTriggered bool) {
	limit := MaxHealthChecks
	if rotationTriggered {
		limit = MaxRotationHealthChecks
	}
	m.AuditTrail.HealthCheckHistory = append(m.AuditTrail.HealthCheckHistory, event)
	if n := len(m.AuditTrail.HealthCheckHistory); n > limit {
		m.AuditTrail.HealthCheckHistory = m.AuditTrail.HealthCheckHistory[n-limit:]
	}
}

// AppendRotationEvent appends an entry to the rotation history.
func (m *KeyMetadata) AppendRotationEvent(event RotationEvent) {
	if event.AffectedFiles == nil {
		event.AffectedFiles = []string{}
	}
	if event.AffectedVariables == nil {
		event.AffectedVariables = []string{}
	}
	m.AuditTrail.RotationHistory = append(m.AuditTrail.RotationHistory, event)
}

// BackfillBootstrapEntry fills the oldest rotation entry whose affected
// lists are both empty with the actual affected files and variables.
// Returns false if no such entry exists.
func (m *KeyMetadata) BackfillBootstrapEntry(files, variables []string) bool {
	for i := range m.AuditTrail.RotationHistory {
		entry := &m.AuditTrail.RotationHistory[i]
		if len(entry.AffectedFiles) == 0 && len(entry.AffectedVariables) == 0 {
			entry.AffectedFiles = append([]string{}, files...)
			entry.AffectedVariables = append([]string{}, variables...)
			return true
		}
	}
	return false
}

// SetStatus updates the current status, touching LastStatusChange only when
// the status actually changes.
func (m *KeyMetadata) SetStatus(status KeyStatus, now time.Time) {
	if m.StatusTracking.CurrentStatus == status {
		return
	}
	m.StatusTracking.CurrentStatus = status
	m.StatusTracking.LastStatusChange = now
}

// MergeUsage adds an environment file and variable names to the usage sets.
// Entries are added, never removed.
func (m *KeyMetadata) MergeUsage(environmentFile string, variables []string, now time.Time) {
	if environmentFile != "" {
		m.UsageTracking.EnvironmentsUsedIn = addToSet(m.UsageTracking.EnvironmentsUsedIn, environmentFile)
	}
	for _, v := range variables {
		m.UsageTracking.DependentVariables = addToSet(m.UsageTracking.DependentVariables, v)
	}
	m.UsageTracking.LastAccessedAt = now
}

func addToSet(set []string, value string) []string {
	for _, existing := range set {
		if existing == value {
			return set
		}
	}
	set = append(set, value)
	sort.Strings(set)
	return set
}

// Clone returns a deep copy of the record.
func (m *KeyMetadata) Clone() *KeyMetadata {
	data, err := json.Marshal(m)
	if err != nil {
		// Records contain only serializable fields; marshal cannot fail.
		panic(fmt.Sprintf("metadata: clone marshal: %v", err))
	}
	var out KeyMetadata
	if err := json.Unmarshal(data, &out); err != nil {
		panic(fmt.Sprintf("metadata: clone unmarshal: %v", err))
	}
	return &out
}
