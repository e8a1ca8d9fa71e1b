// Package ingest is the validation gate: every raw payload passes an
// allow-list schema, deny-list tripwires and normalization before it can
// reach rule evaluation.
package ingest

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/gyaneshwarpardhi/sentinel/internal/audit"
	"github.com/gyaneshwarpardhi/sentinel/internal/event"
)

//go:embed policy/event.schema.json
var defaultSchema []byte

// SchemaVersion identifies the embedded event schema.
const SchemaVersion = "0.2"

const maxRejectionText = 240

// Code is a terminal rejection reason.
type Code string

const (
	CodeSchemaInvalid  Code = "SCHEMA_INVALID"
	CodeProhibitedData Code = "PROHIBITED_DATA_DETECTED"
)

// Rejection carries only identifiers and a short reason. It never holds any
// part of the rejected body beyond the three identifying fields.
type Rejection struct {
	Code           Code      `json:"rejection_reason_code"`
	Text           string    `json:"rejection_reason_text"`
	EventID        string    `json:"event_id,omitempty"`
	SourceSystem   string    `json:"source_system,omitempty"`
	EventTimestamp string    `json:"event_timestamp,omitempty"`
	ReceivedAt     time.Time `json:"received_at"`
}

// Result is either an accepted Event or a Rejection.
type Result struct {
	Event     *event.Event
	Rejection *Rejection
}

// Accepted reports whether the payload produced an Event.
func (r Result) Accepted() bool { return r.Event != nil }

// Options configures a Gate. Zero values select embedded defaults.
type Options struct {
	Schema    []byte
	Tripwires *Tripwires
	Audit     audit.Appender
	Clock     func() time.Time
	Logger    *slog.Logger
}

// Gate validates raw payloads. It is safe for concurrent use.
type Gate struct {
	schema    *gojsonschema.Schema
	tripwires *Tripwires
	audit     audit.Appender
	now       func() time.Time
	logger    *slog.Logger
}

// NewGate compiles the schema and returns a ready Gate.
func NewGate(opts Options) (*Gate, error) {
	raw := opts.Schema
	if raw == nil {
		raw = defaultSchema
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("compile event schema: %w", err)
	}
	tw := opts.Tripwires
	if tw == nil {
		if tw, err = LoadTripwires("", DefaultMatchTimeout); err != nil {
			return nil, err
		}
	}
	if opts.Audit == nil {
		return nil, fmt.Errorf("ingest gate: audit appender is required")
	}
	g := &Gate{
		schema:    schema,
		tripwires: tw,
		audit:     opts.Audit,
		now:       opts.Clock,
		logger:    opts.Logger,
	}
	if g.now == nil {
		g.now = time.Now
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	return g, nil
}

// TripwireVersion returns the active deny-list policy version.
func (g *Gate) TripwireVersion() string { return g.tripwires.Version() }

// Validate runs the allow-list, tripwire and normalization checks and writes
// exactly one INGEST_ACCEPT or INGEST_REJECT record. The returned error is
// reserved for audit write failures; rejections are ordinary results.
func (g *Gate) Validate(ctx context.Context, raw []byte) (Result, error) {
	receivedAt := g.now().UTC()

	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return g.reject(ctx, nil, receivedAt, CodeSchemaInvalid, "Payload is not valid JSON")
	}
	obj, ok := doc.(map[string]interface{})
	if !ok {
		return g.reject(ctx, nil, receivedAt, CodeSchemaInvalid, "Payload must be a JSON object")
	}

	// Tripwires run over the whole object whatever the schema says, and win
	// over a schema failure.
	if hit := g.tripwires.Scan(obj); hit != "" {
		return g.reject(ctx, obj, receivedAt, CodeProhibitedData, hit)
	}
	if msg := g.schemaError(obj); msg != "" {
		return g.reject(ctx, obj, receivedAt, CodeSchemaInvalid, msg)
	}

	ev, err := normalize(raw, receivedAt)
	if err != nil {
		return g.reject(ctx, obj, receivedAt, CodeSchemaInvalid, "Normalization failed: "+err.Error())
	}

	rec := audit.Record{
		RecordType:      audit.IngestAccept,
		Timestamp:       receivedAt,
		EventID:         ev.EventID,
		SourceSystem:    ev.SourceSystem,
		EventType:       string(ev.EventType),
		EventTimestamp:  ev.EventTimestamp.Format(time.RFC3339Nano),
		ReceivedAt:      audit.TimePtr(receivedAt),
		SchemaVersion:   SchemaVersion,
		TripwireVersion: g.tripwires.Version(),
	}
	if err := g.audit.Append(ctx, rec); err != nil {
		return Result{}, fmt.Errorf("audit ingest accept: %w", err)
	}
	return Result{Event: ev}, nil
}

func (g *Gate) schemaError(obj map[string]interface{}) string {
	res, err := g.schema.Validate(gojsonschema.NewGoLoader(obj))
	if err != nil {
		return "Schema validation failed: payload could not be evaluated"
	}
	if res.Valid() {
		return ""
	}
	msgs := make([]string, 0, len(res.Errors()))
	for _, e := range res.Errors() {
		msgs = append(msgs, fmt.Sprintf("Schema validation failed at %s: %s", e.Field(), e.Description()))
	}
	sort.Strings(msgs)
	return msgs[0]
}

func (g *Gate) reject(ctx context.Context, obj map[string]interface{}, receivedAt time.Time, code Code, text string) (Result, error) {
	if len(text) > maxRejectionText {
		text = text[:maxRejectionText]
	}
	rej := &Rejection{
		Code:           code,
		Text:           text,
		EventID:        stringField(obj, "event_id"),
		SourceSystem:   stringField(obj, "source_system"),
		EventTimestamp: stringField(obj, "event_timestamp"),
		ReceivedAt:     receivedAt,
	}
	rec := audit.Record{
		RecordType:     audit.IngestReject,
		Timestamp:      receivedAt,
		EventID:        rej.EventID,
		SourceSystem:   rej.SourceSystem,
		EventTimestamp: rej.EventTimestamp,
		ReceivedAt:     audit.TimePtr(receivedAt),
		RejectionCode:  string(code),
		RejectionText:  text,
	}
	if err := g.audit.Append(ctx, rec); err != nil {
		return Result{}, fmt.Errorf("audit ingest reject: %w", err)
	}
	g.logger.Info("event rejected", "event_id", rej.EventID, "code", code)
	return Result{Rejection: rej}, nil
}

// stringField pulls an identifier without assuming the payload is valid.
// Non-string or oversized values are dropped rather than echoed.
func stringField(obj map[string]interface{}, key string) string {
	if obj == nil {
		return ""
	}
	s, ok := obj[key].(string)
	if !ok || len(s) > 128 {
		return ""
	}
	return strings.TrimSpace(s)
}

type wireEvent struct {
	EventID            string `json:"event_id"`
	SourceSystem       string `json:"source_system"`
	EventType          string `json:"event_type"`
	EventTimestamp     string `json:"event_timestamp"`
	Site               string `json:"site"`
	Area               string `json:"area"`
	Suite              string `json:"suite"`
	Line               string `json:"line"`
	ProductID          string `json:"product_id"`
	DBRTemplateID      string `json:"dbr_template_id"`
	DBRTemplateVersion string `json:"dbr_template_version"`
	PageNumber         *int   `json:"page_number"`
	StepCode           string `json:"step_code"`
	SectionCode        string `json:"section_code"`
	BatchToken         string `json:"batch_token"`
	CorrelationID      string `json:"correlation_id"`
	OperatorToken      string `json:"operator_token"`
	OperatorRole       string `json:"operator_role"`
	StepCritical       *bool  `json:"step_critical"`
}

// normalize maps a schema-valid payload into the typed Event.
func normalize(raw []byte, receivedAt time.Time) (*event.Event, error) {
	var w wireEvent
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("decode: field types do not match")
	}
	ts, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(w.EventTimestamp))
	if err != nil {
		return nil, fmt.Errorf("event_timestamp is not RFC 3339")
	}
	t := strings.TrimSpace
	ev := &event.Event{
		EventID:        t(w.EventID),
		EventType:      event.Type(t(w.EventType)),
		EventTimestamp: ts.UTC(),
		ReceivedAt:     receivedAt,
		Context: event.Context{
			SourceSystem:       t(w.SourceSystem),
			Site:               t(w.Site),
			Area:               t(w.Area),
			Suite:              t(w.Suite),
			Line:               t(w.Line),
			ProductID:          t(w.ProductID),
			DBRTemplateID:      t(w.DBRTemplateID),
			DBRTemplateVersion: t(w.DBRTemplateVersion),
			PageNumber:         w.PageNumber,
			StepCode:           t(w.StepCode),
			SectionCode:        t(w.SectionCode),
			BatchToken:         t(w.BatchToken),
			CorrelationID:      t(w.CorrelationID),
			OperatorToken:      t(w.OperatorToken),
			OperatorRole:       t(w.OperatorRole),
			StepCritical:       w.StepCritical,
		},
	}
	if err := event.Validate(ev); err != nil {
		return nil, err
	}
	return ev, nil
}
