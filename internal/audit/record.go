package audit

import (
	"time"
)

// RecordType names a decision point in the pipeline.
type RecordType string

const (
	IngestAccept       RecordType = "INGEST_ACCEPT"
	IngestReject       RecordType = "INGEST_REJECT"
	IngestDuplicate    RecordType = "INGEST_DUPLICATE"
	RuleMatch          RecordType = "RULE_MATCH"
	RuleNoMatch        RecordType = "RULE_NO_MATCH"
	CorrelationOpen    RecordType = "CORRELATION_OPEN"
	CorrelationHit     RecordType = "CORRELATION_HIT"
	CorrelationExpired RecordType = "CORRELATION_EXPIRED"
	CorrelationPruned  RecordType = "CORRELATION_PRUNED"
	AlertBuilt         RecordType = "ALERT_BUILT"
	AlertPersisted     RecordType = "ALERT_PERSISTED"
	AlertSuppressed    RecordType = "ALERT_SUPPRESSED"
	RoutingApplied     RecordType = "ROUTING_APPLIED"
	RulesLoaded        RecordType = "RULES_LOADED"
	SweepCompleted     RecordType = "SWEEP_COMPLETED"
	InternalError      RecordType = "INTERNAL_ERROR"
)

// Record is one audit line. Payload fields are identifiers and codes only;
// a rejected body is never carried here. Field order is fixed so the
// serialized form, and therefore the hash, is deterministic.
type Record struct {
	Seq        uint64     `json:"seq"`
	RecordType RecordType `json:"record_type"`
	Timestamp  time.Time  `json:"timestamp"`

	EventID        string     `json:"event_id,omitempty"`
	SourceSystem   string     `json:"source_system,omitempty"`
	EventType      string     `json:"event_type,omitempty"`
	EventTimestamp string     `json:"event_timestamp,omitempty"`
	ReceivedAt     *time.Time `json:"received_at,omitempty"`

	RejectionCode string `json:"rejection_reason_code,omitempty"`
	RejectionText string `json:"rejection_reason_text,omitempty"`

	SchemaVersion   string `json:"schema_version,omitempty"`
	TripwireVersion string `json:"tripwire_version,omitempty"`
	RulesetName     string `json:"ruleset_name,omitempty"`
	RulesetVersion  string `json:"ruleset_version,omitempty"`

	RuleID      string `json:"rule_id,omitempty"`
	RuleVersion string `json:"rule_version,omitempty"`
	Reason      string `json:"reason,omitempty"`

	CorrelationKey string     `json:"correlation_key,omitempty"`
	Outcome        string     `json:"outcome,omitempty"`
	OpenedAt       *time.Time `json:"opened_at,omitempty"`
	OpeningEventID string     `json:"opening_event_id,omitempty"`
	ClosingEventID string     `json:"closing_event_id,omitempty"`

	AlertID  string `json:"alert_id,omitempty"`
	RiskCode string `json:"risk_code,omitempty"`
	Severity string `json:"severity,omitempty"`

	SuppressionKey string     `json:"suppression_key,omitempty"`
	WindowSeconds  int64      `json:"window_seconds,omitempty"`
	LastAlertAt    *time.Time `json:"last_alert_at,omitempty"`

	Targets       []string `json:"targets,omitempty"`
	PolicyVersion string   `json:"policy_version,omitempty"`

	Count     int  `json:"count,omitempty"`
	Truncated bool `json:"truncated,omitempty"`

	Component string `json:"component,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`
	ErrorText string `json:"error_text,omitempty"`

	PrevHash string `json:"prev_hash"`
	Hash     string `json:"hash"`
}

// TimePtr returns a pointer to a UTC copy of t.
func TimePtr(t time.Time) *time.Time {
	u := t.UTC()
	return &u
}
