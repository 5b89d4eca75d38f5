package model

import (
	"encoding/json"
	"time"
)

// Delayed task states. A task is claimed (RUNNING) at most once.
const (
	TaskPending = "PENDING"
	TaskRunning = "RUNNING"
	TaskDone    = "DONE"
	TaskFailed  = "FAILED"
)

// Deferred phase-2 kinds.
const (
	TaskKindRCSDispatch          = "rcs_execute_dispatch"
	TaskKindGosacStart           = "gosac_start_campaign"
	TaskKindSalesforceAutomation = "salesforce_run_automation"
)

// DelayedTask is a persisted one-shot job. Unlike the cron side-table it
// replaces, rows survive a restart and are picked up by the next poll.
type DelayedTask struct {
	ID            string          `db:"id" json:"id"`
	Kind          string          `db:"kind" json:"kind"`
	FireAt        time.Time       `db:"fire_at" json:"fire_at"`
	Payload       json.RawMessage `db:"payload" json:"payload"`
	AgendamentoID string          `db:"agendamento_id" json:"agendamento_id"`
	CampaignID    string          `db:"campaign_id" json:"campaign_id"`
	Status        string          `db:"status" json:"status"`
	ClaimedAt     *time.Time      `db:"claimed_at" json:"claimed_at,omitempty"`
	LastError     string          `db:"last_error" json:"last_error,omitempty"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
}
