package ruikei

import (
	"time"

	"github.com/google/uuid"
)

// Review is an event the reconciler queued for an operator decision, as seen
// by a ReviewHook.
type Review struct {
	ID          uuid.UUID
	Kind        string // e.g. "delete_typedef", "conflicting_typedefs"
	Cohort      string
	Originator  string // metadata collection ID of the member that sent the event
	TypeDefGUID string
	TypeDefName string
	Reason      string
	CreatedAt   time.Time
}

// Notice is one audit record written by the reconciler, as seen by a
// NoticeSink. Codes never change meaning once published.
type Notice struct {
	Code       string
	Severity   string // info, event, action, error or conflict
	Message    string
	Cohort     string
	TypeGUID   string
	TypeName   string
	OccurredAt time.Time
}
