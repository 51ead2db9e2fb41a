package reconcile

import (
	"fmt"
	"time"
)

// Severity grades an audit notice.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityEvent    Severity = "event"
	SeverityAction   Severity = "action"
	SeverityError    Severity = "error"
	SeverityConflict Severity = "conflict"
)

// Notice is one audit record.
type Notice struct {
	Code       string    `json:"code"`
	Severity   Severity  `json:"severity"`
	Message    string    `json:"message"`
	Cohort     string    `json:"cohort,omitempty"`
	TypeGUID   string    `json:"type_guid,omitempty"`
	TypeName   string    `json:"type_name,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// AuditCode is a fixed audit message. Codes never change meaning once
// published, so operators can alert on them.
type AuditCode struct {
	ID       string
	Severity Severity
	Template string
}

// Audit codes written by the engine.
var (
	AuditTypeDefAdded = AuditCode{"RUIKEI-RECON-0001", SeverityInfo,
		"type %s (%s) version %d from %s was added to the local repository"}
	AuditTypeDefNotSupported = AuditCode{"RUIKEI-RECON-0002", SeverityInfo,
		"type %s (%s) from %s is not supported by the local repository and is cached as known only"}
	AuditTypeDefConflict = AuditCode{"RUIKEI-RECON-0003", SeverityConflict,
		"type %s (%s) version %d from %s conflicts with known type %s (%s) version %d"}
	AuditRepositoryUnavailable = AuditCode{"RUIKEI-RECON-0004", SeverityError,
		"local repository could not process type %s (%s) from %s: %v"}
	AuditTypeDefInvalid = AuditCode{"RUIKEI-RECON-0005", SeverityError,
		"type %s (%s) from %s was rejected as invalid: %v"}
	AuditTypeDefUpdated = AuditCode{"RUIKEI-RECON-0006", SeverityInfo,
		"type %s (%s) was updated from version %d to %d by %s"}
	AuditUpdateDropped = AuditCode{"RUIKEI-RECON-0007", SeverityError,
		"update of type %s (%s) from %s was dropped: %v"}
	AuditPatchMismatch = AuditCode{"RUIKEI-RECON-0008", SeverityConflict,
		"patch for type %s (%s) from %s applies to version %d but version %d is known"}
	AuditReviewQueued = AuditCode{"RUIKEI-RECON-0009", SeverityAction,
		"%s event from %s for type %s queued for operator review as %s"}
	AuditReviewResolved = AuditCode{"RUIKEI-RECON-0010", SeverityEvent,
		"review %s (%s) was %s by %s"}
)

// Notice formats the code's template.
func (c AuditCode) Notice(args ...any) Notice {
	return Notice{
		Code:       c.ID,
		Severity:   c.Severity,
		Message:    fmt.Sprintf(c.Template, args...),
		OccurredAt: time.Now().UTC(),
	}
}
