package repository

import (
	"database/sql"
	"time"

	"github.com/dcayres/campaign-dispatch/internal/model"
)

type MessageRepositoryInterface interface {
	CreateBatch(campaignID string, records []model.CampaignRecord) error
	MarkAllSent(campaignID string) (int, error)
	MarkAllFailed(campaignID, lastError string) (int, error)
	ListFailed(campaignID string) ([]*model.CampaignMessage, error)
}

type MessageRepository struct {
	DB *sql.DB
}

// CreateBatch replaces the campaign's message rows. A requeued job reruns
// the whole phase, so rows left by a previous attempt must not accumulate.
func (r *MessageRepository) CreateBatch(campaignID string, records []model.CampaignRecord) error {
	if _, err := r.DB.Exec(`DELETE FROM campaign_messages WHERE campaign_id=$1`, campaignID); err != nil {
		return err
	}

	query := `
        INSERT INTO campaign_messages (campaign_id, phone, name, status, attempts, created_at, updated_at)
        VALUES ($1, $2, $3, $4, 0, $5, $5)
    `
	now := time.Now()
	for _, rec := range records {
		if _, err := r.DB.Exec(query, campaignID, rec.Phone, rec.Name, model.MessagePending, now); err != nil {
			return err
		}
	}
	return nil
}

// MarkAllSent flips every pending message of the campaign. Providers accept
// whole batches, so message outcomes are batch-level too.
func (r *MessageRepository) MarkAllSent(campaignID string) (int, error) {
	query := `
        UPDATE campaign_messages
        SET status=$1, last_error='', attempts=attempts+1, updated_at=$2
        WHERE campaign_id=$3 AND status=$4
    `
	res, err := r.DB.Exec(query, model.MessageSent, time.Now(), campaignID, model.MessagePending)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (r *MessageRepository) MarkAllFailed(campaignID, lastError string) (int, error) {
	query := `
        UPDATE campaign_messages
        SET status=$1, last_error=$2, attempts=attempts+1, updated_at=$3
        WHERE campaign_id=$4 AND status=$5
    `
	res, err := r.DB.Exec(query, model.MessageFailed, lastError, time.Now(), campaignID, model.MessagePending)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (r *MessageRepository) ListFailed(campaignID string) ([]*model.CampaignMessage, error) {
	query := `
        SELECT id, campaign_id, phone, name, status, last_error, attempts, created_at, updated_at
        FROM campaign_messages
        WHERE campaign_id=$1 AND status=$2
        ORDER BY id
    `
	rows, err := r.DB.Query(query, campaignID, model.MessageFailed)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []*model.CampaignMessage{}
	for rows.Next() {
		m := &model.CampaignMessage{}
		if err := rows.Scan(&m.ID, &m.CampaignID, &m.Phone, &m.Name, &m.Status, &m.LastError, &m.Attempts, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

var _ MessageRepositoryInterface = (*MessageRepository)(nil)
