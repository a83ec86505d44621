package metadata_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyward/keyward/internal/metadata"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// TestFingerprint validates the content fingerprint is stable and
// distinguishes values
func TestFingerprint(t *testing.T) {
	t.Parallel()

	a := metadata.Fingerprint("old-key-material")
	b := metadata.Fingerprint("new-key-material")

	assert.Len(t, string(a), 8)
	assert.Equal(t, a, metadata.Fingerprint("old-key-material"))
	assert.NotEqual(t, a, b)
	assert.Equal(t, metadata.AuditFingerprint("00000000"), metadata.Fingerprint(""))
}

// TestRotationConfigValid tests the policy invariant
func TestRotationConfigValid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  metadata.RotationConfig
		want bool
	}{
		{"defaults", metadata.DefaultRotationConfig(), true},
		{"tight_policy", metadata.RotationConfig{MaxAgeInDays: 2, WarningThresholdInDays: 1}, true},
		{"zero_warning", metadata.RotationConfig{MaxAgeInDays: 30, WarningThresholdInDays: 0}, true},
		{"zero_max_age", metadata.RotationConfig{MaxAgeInDays: 0, WarningThresholdInDays: 0}, false},
		{"negative_max_age", metadata.RotationConfig{MaxAgeInDays: -5, WarningThresholdInDays: 1}, false},
		{"negative_warning", metadata.RotationConfig{MaxAgeInDays: 30, WarningThresholdInDays: -1}, false},
		{"warning_equals_max", metadata.RotationConfig{MaxAgeInDays: 30, WarningThresholdInDays: 30}, false},
		{"warning_exceeds_max", metadata.RotationConfig{MaxAgeInDays: 7, WarningThresholdInDays: 14}, false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.cfg.Valid())
		})
	}
}

// TestReferenceDate validates age is anchored to the last rotation when
// one happened
func TestReferenceDate(t *testing.T) {
	t.Parallel()

	rec := metadata.NewKeyMetadata("APP_KEY", metadata.DefaultRotationConfig(), testNow)
	assert.Equal(t, testNow, rec.ReferenceDate())

	rotatedAt := testNow.Add(48 * time.Hour)
	rec.LastRotatedAt = &rotatedAt
	assert.Equal(t, rotatedAt, rec.ReferenceDate())
}

// TestAuditEventCap validates the oldest audit events are trimmed first
func TestAuditEventCap(t *testing.T) {
	t.Parallel()

	rec := metadata.NewKeyMetadata("APP_KEY", metadata.DefaultRotationConfig(), testNow)
	for i := 0; i < metadata.MaxAuditEvents+10; i++ {
		rec.AppendAuditEvent(metadata.AuditEvent{
			Timestamp: testNow.Add(time.Duration(i) * time.Minute),
			EventType: metadata.EventAccessed,
			Severity:  metadata.SeverityInfo,
		})
	}

	events := rec.AuditTrail.AuditEvents
	require.Len(t, events, metadata.MaxAuditEvents)
	// Entry 0..9 were trimmed; the first survivor is entry 10.
	assert.Equal(t, testNow.Add(10*time.Minute), events[0].Timestamp)
	assert.Equal(t, testNow.Add(109*time.Minute), events[len(events)-1].Timestamp)
}

// TestHealthCheckCaps validates the general and rotation-triggered caps
func TestHealthCheckCaps(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name              string
		rotationTriggered bool
		appends           int
		wantLen           int
	}{
		{"general_cap", false, metadata.MaxHealthChecks + 5, metadata.MaxHealthChecks},
		{"rotation_cap", true, metadata.MaxHealthChecks + 5, metadata.MaxRotationHealthChecks},
		{"under_cap", false, 3, 3},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rec := metadata.NewKeyMetadata("APP_KEY", metadata.DefaultRotationConfig(), testNow)
			for i := 0; i < tt.appends; i++ {
				rec.AppendHealthCheck(metadata.HealthCheckEvent{
					Timestamp: testNow.Add(time.Duration(i) * time.Minute),
					Status:    metadata.StatusHealthy,
				}, tt.rotationTriggered)
			}
			assert.Len(t, rec.AuditTrail.HealthCheckHistory, tt.wantLen)
		})
	}
}

// TestBackfillBootstrapEntry validates the creation-time rotation entry is
// filled by the first real rotation and only once
func TestBackfillBootstrapEntry(t *testing.T) {
	t.Parallel()

	rec := metadata.NewKeyMetadata("APP_KEY", metadata.DefaultRotationConfig(), testNow)
	rec.AppendRotationEvent(metadata.RotationEvent{
		Timestamp: testNow,
		Reason:    metadata.ReasonManual,
		Success:   true,
	})

	filled := rec.BackfillBootstrapEntry([]string{".env"}, []string{"DB_URL", "API_TOKEN"})
	require.True(t, filled)
	assert.Equal(t, []string{".env"}, rec.AuditTrail.RotationHistory[0].AffectedFiles)
	assert.Equal(t, []string{"DB_URL", "API_TOKEN"}, rec.AuditTrail.RotationHistory[0].AffectedVariables)

	// Already back-filled; nothing left to fill.
	assert.False(t, rec.BackfillBootstrapEntry([]string{".env.other"}, []string{"OTHER"}))
	assert.Equal(t, []string{".env"}, rec.AuditTrail.RotationHistory[0].AffectedFiles)
}

// TestSetStatus validates the change timestamp only moves on actual changes
func TestSetStatus(t *testing.T) {
	t.Parallel()

	rec := metadata.NewKeyMetadata("APP_KEY", metadata.DefaultRotationConfig(), testNow)
	require.Equal(t, metadata.StatusHealthy, rec.StatusTracking.CurrentStatus)

	later := testNow.Add(time.Hour)
	rec.SetStatus(metadata.StatusHealthy, later)
	assert.Equal(t, testNow, rec.StatusTracking.LastStatusChange)

	rec.SetStatus(metadata.StatusWarning, later)
	assert.Equal(t, metadata.StatusWarning, rec.StatusTracking.CurrentStatus)
	assert.Equal(t, later, rec.StatusTracking.LastStatusChange)
}

// TestMergeUsage validates usage sets are deduplicated and sorted
func TestMergeUsage(t *testing.T) {
	t.Parallel()

	rec := metadata.NewKeyMetadata("APP_KEY", metadata.DefaultRotationConfig(), testNow)

	later := testNow.Add(time.Hour)
	rec.MergeUsage(".env.production", []string{"ZED", "API_TOKEN"}, later)
	rec.MergeUsage(".env.production", []string{"API_TOKEN", "DB_URL"}, later.Add(time.Hour))

	assert.Equal(t, []string{".env.production"}, rec.UsageTracking.EnvironmentsUsedIn)
	assert.Equal(t, []string{"API_TOKEN", "DB_URL", "ZED"}, rec.UsageTracking.DependentVariables)
	assert.Equal(t, later.Add(time.Hour), rec.UsageTracking.LastAccessedAt)
}

// TestClone validates the copy is deep
func TestClone(t *testing.T) {
	t.Parallel()

	rec := metadata.NewKeyMetadata("APP_KEY", metadata.DefaultRotationConfig(), testNow)
	rec.MergeUsage(".env", []string{"DB_URL"}, testNow)

	clone := rec.Clone()
	clone.MergeUsage(".env.other", []string{"OTHER"}, testNow)
	clone.RotationCount = 9

	assert.Equal(t, 0, rec.RotationCount)
	assert.Equal(t, []string{".env"}, rec.UsageTracking.EnvironmentsUsedIn)
	assert.Equal(t, []string{"DB_URL"}, rec.UsageTracking.DependentVariables)
}
