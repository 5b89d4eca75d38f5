package repository

import (
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	appErrors "github.com/dcayres/campaign-dispatch/internal/errors"
	"github.com/dcayres/campaign-dispatch/internal/model"
)

type CampaignRepositoryInterface interface {
	Create(c *model.Campaign) error
	GetByID(id string) (*model.Campaign, error)
	GetByAgendamentoID(agendamentoID string) (*model.Campaign, error)
	UpdateStatus(campaignID, status, errorMessage string) error
	UpdateDispatchStatus(campaignID, dispatchStatus string) error
	SetTotalMessages(campaignID string, total int) error
	SetCounters(campaignID string, sent, failed int) error
}

type CampaignRepository struct {
	DB *sql.DB
}

func (r *CampaignRepository) Create(c *model.Campaign) error {
	c.CreatedAt = time.Now()
	if c.Status == "" {
		c.Status = model.CampaignQueued
	}
	query := `
        INSERT INTO campaigns (id, agendamento_id, provider, status, dispatch_status, total_messages, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
    `
	_, err := r.DB.Exec(query, c.ID, c.AgendamentoID, c.Provider, c.Status, c.DispatchStatus, c.TotalMessages, c.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return appErrors.NewCampaignExists(c.AgendamentoID)
		}
		return err
	}
	return nil
}

func (r *CampaignRepository) GetByID(id string) (*model.Campaign, error) {
	c, err := r.scanOne(`
        SELECT id, agendamento_id, provider, status, dispatch_status,
               total_messages, sent_messages, failed_messages, error_message,
               started_at, completed_at, created_at, updated_at
        FROM campaigns WHERE id=$1
    `, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	return c, nil
}

// GetByAgendamentoID returns (nil, nil) when no campaign exists yet; the
// caller decides whether that is an error.
func (r *CampaignRepository) GetByAgendamentoID(agendamentoID string) (*model.Campaign, error) {
	return r.scanOne(`
        SELECT id, agendamento_id, provider, status, dispatch_status,
               total_messages, sent_messages, failed_messages, error_message,
               started_at, completed_at, created_at, updated_at
        FROM campaigns WHERE agendamento_id=$1
    `, agendamentoID)
}

// UpdateStatus sets an absolute status. PROCESSING stamps started_at once;
// terminal states stamp completed_at.
func (r *CampaignRepository) UpdateStatus(campaignID, status, errorMessage string) error {
	now := time.Now()
	switch status {
	case model.CampaignProcessing:
		query := `
            UPDATE campaigns
            SET status=$1, started_at=COALESCE(started_at, $2), updated_at=$2
            WHERE id=$3
        `
		_, err := r.DB.Exec(query, status, now, campaignID)
		return err
	case model.CampaignCompleted, model.CampaignFailed:
		query := `
            UPDATE campaigns
            SET status=$1, error_message=$2, completed_at=$3, updated_at=$3
            WHERE id=$4
        `
		_, err := r.DB.Exec(query, status, errorMessage, now, campaignID)
		return err
	default:
		query := `UPDATE campaigns SET status=$1, error_message=$2, updated_at=$3 WHERE id=$4`
		_, err := r.DB.Exec(query, status, errorMessage, now, campaignID)
		return err
	}
}

func (r *CampaignRepository) UpdateDispatchStatus(campaignID, dispatchStatus string) error {
	query := `UPDATE campaigns SET dispatch_status=$1, updated_at=$2 WHERE id=$3`
	_, err := r.DB.Exec(query, dispatchStatus, time.Now(), campaignID)
	return err
}

func (r *CampaignRepository) SetTotalMessages(campaignID string, total int) error {
	query := `UPDATE campaigns SET total_messages=$1, updated_at=$2 WHERE id=$3`
	_, err := r.DB.Exec(query, total, time.Now(), campaignID)
	return err
}

func (r *CampaignRepository) SetCounters(campaignID string, sent, failed int) error {
	query := `UPDATE campaigns SET sent_messages=$1, failed_messages=$2, updated_at=$3 WHERE id=$4`
	_, err := r.DB.Exec(query, sent, failed, time.Now(), campaignID)
	return err
}

func (r *CampaignRepository) scanOne(query string, arg any) (*model.Campaign, error) {
	var c model.Campaign
	var errorMessage sql.NullString
	err := r.DB.QueryRow(query, arg).Scan(
		&c.ID, &c.AgendamentoID, &c.Provider, &c.Status, &c.DispatchStatus,
		&c.TotalMessages, &c.SentMessages, &c.FailedMessages, &errorMessage,
		&c.StartedAt, &c.CompletedAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	c.ErrorMessage = errorMessage.String
	return &c, nil
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)
