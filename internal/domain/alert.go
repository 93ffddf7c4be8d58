package domain

import "time"

// Severity grades an alert.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert events emitted by the execution core.
const (
	EventProtectionAlert   = "protection_alert"
	EventProtectionAction  = "protection_action"
	EventEmergencyStop     = "emergency_stop"
	EventRollbackManual    = "rollback_manual_review"
	EventRollbackPartial   = "rollback_partial"
	EventTransactionFailed = "transaction_failed"
	EventExecution         = "execution"
	EventRiskVeto          = "risk_veto"
)

// Alert is a notification queued on the outbox.
type Alert struct {
	Event    string         `json:"event"`
	Severity Severity       `json:"severity"`
	Title    string         `json:"title"`
	Message  string         `json:"message"`
	Fields   map[string]any `json:"fields,omitempty"`
	At       time.Time      `json:"at"`
}

// AlertSink accepts alerts without blocking the caller.
type AlertSink interface {
	Emit(alert Alert) bool
}
