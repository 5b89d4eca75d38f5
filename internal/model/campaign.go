package model

import "time"

// Campaign lifecycle states.
const (
	CampaignQueued     = "QUEUED"
	CampaignProcessing = "PROCESSING"
	CampaignCompleted  = "COMPLETED"
	CampaignFailed     = "FAILED"
)

// Dispatch sub-states. A two-phase provider passes through
// SCHEDULED_PHASE2 between submission and its deferred confirmation.
const (
	DispatchSubmitted       = "SUBMITTED"
	DispatchScheduledPhase2 = "SCHEDULED_PHASE2"
	DispatchSent            = "SENT"
	DispatchSendError       = "SEND_ERROR"
	DispatchPhase2Error     = "PHASE2_ERROR"
)

type Campaign struct {
	ID             string     `db:"id" json:"id"`
	AgendamentoID  string     `db:"agendamento_id" json:"agendamento_id"`
	Provider       string     `db:"provider" json:"provider"`
	Status         string     `db:"status" json:"status"`
	DispatchStatus string     `db:"dispatch_status" json:"dispatch_status"`
	TotalMessages  int        `db:"total_messages" json:"total_messages"`
	SentMessages   int        `db:"sent_messages" json:"sent_messages"`
	FailedMessages int        `db:"failed_messages" json:"failed_messages"`
	ErrorMessage   string     `db:"error_message" json:"error_message,omitempty"`
	StartedAt      *time.Time `db:"started_at" json:"started_at,omitempty"`
	CompletedAt    *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      *time.Time `db:"updated_at" json:"updated_at,omitempty"`
}
