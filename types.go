package authority

import (
	"io"
	"log/slog"

	internalaudit "github.com/mapvision/authority/internal/audit"
	"github.com/mapvision/authority/internal/flows"
	"github.com/mapvision/authority/internal/stores"
	"github.com/mapvision/authority/internal/validator"
	"github.com/mapvision/authority/session"
)

// RegisterRequest is the input of Engine.Register. Role is optional and
// limited to the self-service tiers; it defaults to Trial.
type RegisterRequest = validator.Registration

// AccountView is the account shape returned by a successful session check.
type AccountView = session.AccountView

// Session is one row of the session table.
type Session = session.Session

// AccountFilter narrows GetAccountsStatus. State is one of connected,
// disconnected, disabled, locked or unverified. OrderBy is one of
// last_access (default), name, email, role, connected_time or created.
type AccountFilter = stores.AccountFilter

// AccountStatus is an account joined with its connection statistics.
type AccountStatus = stores.AccountStatus

// AccountStats is the per-account statistics row.
type AccountStats = stores.AccountStats

// AccessEntry is one access-log row.
type AccessEntry = stores.AccessEntry

// DailyActivity aggregates one UTC day of the access log.
type DailyActivity = stores.DailyActivity

// SystemStats is the administrative dashboard summary.
type SystemStats = stores.SystemStats

// Alert is one operational condition worth an operator's attention.
type Alert = flows.Alert

// MaintenanceReport counts what one maintenance pass changed.
type MaintenanceReport = flows.MaintenanceReport

// Alert levels.
const (
	AlertInfo    = flows.AlertInfo
	AlertWarning = flows.AlertWarning
	AlertError   = flows.AlertError
)

// AuditEvent is the canonical audit record.
type AuditEvent = internalaudit.Event

// AuditSink receives audit events from the dispatcher goroutine.
type AuditSink = internalaudit.Sink

// NoOpSink discards every event.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink forwards events to a buffered channel and drops them when it
// is full.
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink writes one JSON document per event.
type JSONWriterSink = internalaudit.JSONWriterSink

// KafkaSink publishes events to a Kafka topic keyed by email.
type KafkaSink = internalaudit.KafkaSink

// KafkaConfig configures NewKafkaAuditSink.
type KafkaConfig = internalaudit.KafkaConfig

// MultiSink fans each event out to every member.
type MultiSink = internalaudit.MultiSink

// NewChannelSink returns a ChannelSink with the given buffer.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink returns a sink writing to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

// NewKafkaAuditSink dials nothing up front; the writer connects lazily on
// the first publish. Close the returned sink after the engine.
func NewKafkaAuditSink(cfg KafkaConfig, log *slog.Logger) (*KafkaSink, error) {
	w, err := internalaudit.NewKafkaWriter(cfg)
	if err != nil {
		return nil, err
	}
	return internalaudit.NewKafkaSink(w, log), nil
}
