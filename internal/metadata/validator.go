package metadata

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	kwerrors "github.com/keyward/keyward/internal/errors"
	"github.com/keyward/keyward/internal/logging"
)

// recordSchema is the structural contract for the persisted metadata file:
// a JSON object of key name -> KeyMetadata. Range invariants that the
// schema language cannot express (warning threshold < max age) are checked
// separately in checkInvariants.
const recordSchema = `{
  "type": "object",
  "additionalProperties": {
    "type": "object",
    "required": ["keyName", "createdAt", "rotationCount", "rotationConfig", "auditTrail", "usageTracking", "statusTracking"],
    "properties": {
      "keyName": {"type": "string", "minLength": 1},
      "createdAt": {"type": "string", "format": "date-time"},
      "lastRotatedAt": {"type": "string", "format": "date-time"},
      "rotationCount": {"type": "integer", "minimum": 0},
      "rotationConfig": {
        "type": "object",
        "required": ["maxAgeInDays", "warningThresholdInDays"],
        "properties": {
          "maxAgeInDays": {"type": "integer"},
          "warningThresholdInDays": {"type": "integer"}
        }
      },
      "auditTrail": {
        "type": "object",
        "required": ["auditEvents", "rotationHistory", "healthCheckHistory"],
        "properties": {
          "auditEvents": {
            "type": "array",
            "maxItems": 100,
            "items": {
              "type": "object",
              "required": ["timestamp", "eventType", "severity", "source"],
              "properties": {
                "timestamp": {"type": "string", "format": "date-time"},
                "eventType": {"enum": ["created", "rotated", "accessed", "warning_issued", "expired", "health_check"]},
                "severity": {"enum": ["info", "warning", "error", "critical"]},
                "source": {"type": "string"},
                "details": {"type": "string"}
              }
            }
          },
          "rotationHistory": {
            "type": "array",
            "items": {
              "type": "object",
              "required": ["timestamp", "reason", "affectedFiles", "affectedVariables", "success"],
              "properties": {
                "timestamp": {"type": "string", "format": "date-time"},
                "reason": {"enum": ["scheduled", "manual", "expired", "security_breach", "compromised"]},
                "affectedFiles": {"type": "array", "items": {"type": "string"}},
                "affectedVariables": {"type": "array", "items": {"type": "string"}},
                "success": {"type": "boolean"}
              }
            }
          },
          "healthCheckHistory": {
            "type": "array",
            "maxItems": 50,
            "items": {
              "type": "object",
              "required": ["timestamp", "ageInDays", "daysUntilExpiry", "status", "checkSource"],
              "properties": {
                "timestamp": {"type": "string", "format": "date-time"},
                "ageInDays": {"type": "integer"},
                "daysUntilExpiry": {"type": "integer"},
                "status": {"enum": ["healthy", "warning", "critical", "expired"]},
                "checkSource": {"enum": ["startup", "scheduled", "manual", "api"]}
              }
            }
          }
        }
      },
      "usageTracking": {
        "type": "object",
        "required": ["environmentsUsedIn", "dependentVariables", "lastAccessedAt"],
        "properties": {
          "environmentsUsedIn": {"type": "array", "items": {"type": "string"}},
          "dependentVariables": {"type": "array", "items": {"type": "string"}},
          "lastAccessedAt": {"type": "string", "format": "date-time"}
        }
      },
      "statusTracking": {
        "type": "object",
        "required": ["currentStatus", "lastStatusChange"],
        "properties": {
          "currentStatus": {"enum": ["healthy", "warning", "critical", "expired"]},
          "lastStatusChange": {"type": "string", "format": "date-time"}
        }
      }
    }
  }
}`

// Validator checks that a decoded metadata document is a well-formed map of
// key name to KeyMetadata. It is a pure predicate aside from diagnostic
// logging: one malformed key invalidates the whole record set.
type Validator struct {
	schema *gojsonschema.Schema
	logger *logging.Logger
}

// NewValidator compiles the record schema.
func NewValidator(logger *logging.Logger) (*Validator, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(recordSchema))
	if err != nil {
		return nil, fmt.Errorf("failed to compile metadata schema: %w", err)
	}
	return &Validator{schema: schema, logger: logger}, nil
}

// ValidateDocument checks a raw JSON document against the structural schema
// and the policy invariants. Returns nil only if every record is trustworthy.
func (v *Validator) ValidateDocument(data []byte) error {
	result, err := v.schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return kwerrors.ValidationError{Message: fmt.Sprintf("metadata document is not valid JSON: %v", err)}
	}
	if !result.Valid() {
		var problems []string
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}
		v.logger.Debug("Metadata schema validation failed: %s", strings.Join(problems, "; "))
		return kwerrors.ValidationError{
			Message:    fmt.Sprintf("metadata document failed schema validation: %s", strings.Join(problems, "; ")),
			Suggestion: "Restore the metadata file from the archive/ backups",
		}
	}

	var records map[string]*KeyMetadata
	if err := json.Unmarshal(data, &records); err != nil {
		return kwerrors.ValidationError{Message: fmt.Sprintf("metadata document failed to decode: %v", err)}
	}
	return v.ValidateRecords(records)
}

// ValidateRecords checks the policy invariants the schema cannot express.
func (v *Validator) ValidateRecords(records map[string]*KeyMetadata) error {
	for name, rec := range records {
		if rec == nil {
			return kwerrors.ValidationError{Field: name, Message: "record is null"}
		}
		if rec.KeyName != name {
			return kwerrors.ValidationError{
				Field:   name,
				Value:   rec.KeyName,
				Message: "record keyName does not match its map key",
			}
		}
		if rec.KeyName == "" {
			return kwerrors.ValidationError{Field: name, Message: "keyName is empty"}
		}
		if rec.CreatedAt.IsZero() {
			return kwerrors.ValidationError{Field: name + ".createdAt", Message: "createdAt is unset"}
		}
		if rec.RotationCount < 0 {
			return kwerrors.ValidationError{
				Field:   name + ".rotationCount",
				Value:   rec.RotationCount,
				Message: "rotationCount must not be negative",
			}
		}
		if !rec.RotationConfig.Valid() {
			return kwerrors.ValidationError{
				Field:   name + ".rotationConfig",
				Value:   fmt.Sprintf("maxAge=%d warn=%d", rec.RotationConfig.MaxAgeInDays, rec.RotationConfig.WarningThresholdInDays),
				Message: "requires maxAgeInDays > 0 and 0 <= warningThresholdInDays < maxAgeInDays",
			}
		}
		if n := len(rec.AuditTrail.AuditEvents); n > MaxAuditEvents {
			return kwerrors.ValidationError{
				Field:   name + ".auditTrail.auditEvents",
				Value:   n,
				Message: fmt.Sprintf("exceeds the %d entry cap", MaxAuditEvents),
			}
		}
		if n := len(rec.AuditTrail.HealthCheckHistory); n > MaxHealthChecks {
			return kwerrors.ValidationError{
				Field:   name + ".auditTrail.healthCheckHistory",
				Value:   n,
				Message: fmt.Sprintf("exceeds the %d entry cap", MaxHealthChecks),
			}
		}
		switch rec.StatusTracking.CurrentStatus {
		case StatusHealthy, StatusWarning, StatusCritical, StatusExpired:
		default:
			return kwerrors.ValidationError{
				Field:   name + ".statusTracking.currentStatus",
				Value:   string(rec.StatusTracking.CurrentStatus),
				Message: "unknown status",
			}
		}
	}
	return nil
}
