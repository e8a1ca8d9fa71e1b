package event

import (
	"time"

	"github.com/gyaneshwarpardhi/sentinel/internal/condition"
)

// Type is the closed set of workflow signals an Event may carry.
type Type string

const (
	TypeStepOpened                    Type = "STEP_OPENED"
	TypeStepCompleted                 Type = "STEP_COMPLETED"
	TypeSubmitRejectedRequiredMissing Type = "SUBMIT_REJECTED_REQUIRED_MISSING"
	TypeSessionTimeout                Type = "SESSION_TIMEOUT"
	TypeOutOfSequenceAttempt          Type = "OUT_OF_SEQUENCE_ATTEMPT"
	TypeCalcStatusChanged             Type = "CALC_STATUS_CHANGED"
	TypeHoldTriggered                 Type = "HOLD_TRIGGERED"
	TypeExceptionTriggered            Type = "EXCEPTION_TRIGGERED"
	TypeSignCaptured                  Type = "SIGN_CAPTURED"
)

// Types lists every valid event type in declaration order.
var Types = []Type{
	TypeStepOpened,
	TypeStepCompleted,
	TypeSubmitRejectedRequiredMissing,
	TypeSessionTimeout,
	TypeOutOfSequenceAttempt,
	TypeCalcStatusChanged,
	TypeHoldTriggered,
	TypeExceptionTriggered,
	TypeSignCaptured,
}

// Valid reports whether t is a member of the closed enum.
func (t Type) Valid() bool {
	for _, v := range Types {
		if v == t {
			return true
		}
	}
	return false
}

// Context is the metadata-only process context of an Event. It is copied
// onto alerts and correlation entries and never holds business values.
type Context struct {
	SourceSystem       string `json:"source_system" validate:"required,max=64"`
	Site               string `json:"site" validate:"required,max=64"`
	Area               string `json:"area" validate:"required,max=64"`
	Suite              string `json:"suite,omitempty"`
	Line               string `json:"line,omitempty"`
	ProductID          string `json:"product_id" validate:"required,max=64"`
	DBRTemplateID      string `json:"dbr_template_id" validate:"required,max=64"`
	DBRTemplateVersion string `json:"dbr_template_version" validate:"required,max=32"`
	PageNumber         *int   `json:"page_number,omitempty" validate:"omitempty,min=1"`
	StepCode           string `json:"step_code" validate:"required,max=64"`
	SectionCode        string `json:"section_code" validate:"required,max=64"`
	BatchToken         string `json:"batch_token,omitempty"`
	CorrelationID      string `json:"correlation_id,omitempty"`
	OperatorToken      string `json:"operator_token,omitempty"`
	OperatorRole       string `json:"operator_role,omitempty"`
	StepCritical       *bool  `json:"step_critical,omitempty"`
}

// Event is the normalized, immutable form of an accepted payload.
type Event struct {
	EventID        string    `json:"event_id" validate:"required,max=128"`
	EventType      Type      `json:"event_type" validate:"required,event_type"`
	EventTimestamp time.Time `json:"event_timestamp" validate:"required"`
	ReceivedAt     time.Time `json:"received_at"`
	Context
}

// CorrelationKey returns the batch token if present, else the correlation id.
// An empty result means correlation rules do not apply to the event.
func (e *Event) CorrelationKey() string {
	if e.BatchToken != "" {
		return e.BatchToken
	}
	return e.CorrelationID
}

// Field resolves a top-level field by its wire name. Absent optional fields
// report false.
func (e *Event) Field(name string) (interface{}, bool) {
	switch name {
	case "event_id":
		return e.EventID, true
	case "event_type":
		return string(e.EventType), true
	case "event_timestamp":
		return e.EventTimestamp.Format(time.RFC3339Nano), true
	}
	return e.Context.Field(name)
}

// Field resolves a context field by its wire name.
func (c *Context) Field(name string) (interface{}, bool) {
	str := func(s string) (interface{}, bool) { return s, s != "" }
	switch name {
	case "source_system":
		return str(c.SourceSystem)
	case "site":
		return str(c.Site)
	case "area":
		return str(c.Area)
	case "suite":
		return str(c.Suite)
	case "line":
		return str(c.Line)
	case "product_id":
		return str(c.ProductID)
	case "dbr_template_id":
		return str(c.DBRTemplateID)
	case "dbr_template_version":
		return str(c.DBRTemplateVersion)
	case "step_code":
		return str(c.StepCode)
	case "section_code":
		return str(c.SectionCode)
	case "batch_token":
		return str(c.BatchToken)
	case "correlation_id":
		return str(c.CorrelationID)
	case "operator_token":
		return str(c.OperatorToken)
	case "operator_role":
		return str(c.OperatorRole)
	case "page_number":
		if c.PageNumber == nil {
			return nil, false
		}
		return *c.PageNumber, true
	case "step_critical":
		if c.StepCritical == nil {
			return nil, false
		}
		return *c.StepCritical, true
	}
	return nil, false
}

// Fields is the allow-list of top-level keys accepted at the ingestion boundary.
var Fields = []string{
	"event_id",
	"source_system",
	"event_type",
	"event_timestamp",
	"site",
	"area",
	"suite",
	"line",
	"product_id",
	"dbr_template_id",
	"dbr_template_version",
	"page_number",
	"step_code",
	"section_code",
	"batch_token",
	"correlation_id",
	"operator_token",
	"operator_role",
	"step_critical",
}

// Schema types every allow-listed field for rule predicates. All fields are
// strings on the wire except page_number and step_critical.
var Schema = func() condition.Schema {
	s := make(condition.Schema, len(Fields))
	for _, f := range Fields {
		s[f] = condition.KindString
	}
	s["page_number"] = condition.KindInt
	s["step_critical"] = condition.KindBool
	return s
}()
