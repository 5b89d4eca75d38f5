package model

import "time"

// Message states within a campaign.
const (
	MessagePending = "PENDING"
	MessageSent    = "SENT"
	MessageFailed  = "FAILED"
)

type CampaignMessage struct {
	ID         int       `db:"id" json:"id"`
	CampaignID string    `db:"campaign_id" json:"campaign_id"`
	Phone      string    `db:"phone" json:"phone"`
	Name       string    `db:"name" json:"name"`
	Status     string    `db:"status" json:"status"`
	LastError  string    `db:"last_error" json:"last_error,omitempty"`
	Attempts   int       `db:"attempts" json:"attempts"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}
