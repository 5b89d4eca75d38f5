package service

import (
	"context"
	"math"
	"time"
)

type MessageError struct {
	Phone    string `json:"phone"`
	Error    string `json:"error"`
	Attempts int    `json:"attempts"`
}

type CampaignStatusDto struct {
	CampaignID         string         `json:"campaign_id"`
	AgendamentoID      string         `json:"agendamento_id"`
	Status             string         `json:"status"`
	Provider           string         `json:"provider"`
	TotalMessages      int            `json:"total_messages"`
	SentMessages       int            `json:"sent_messages"`
	FailedMessages     int            `json:"failed_messages"`
	ProgressPercentage int            `json:"progress_percentage"`
	StartedAt          *time.Time     `json:"started_at,omitempty"`
	CompletedAt        *time.Time     `json:"completed_at,omitempty"`
	Errors             []MessageError `json:"errors,omitempty"`
}

// GetStatus aggregates campaign progress for the polling route.
func (s *DispatchService) GetStatus(ctx context.Context, campaignID string) (*CampaignStatusDto, error) {
	campaign, err := s.CampaignRepo.GetByID(campaignID)
	if err != nil {
		return nil, err
	}

	progress := 0
	if campaign.TotalMessages > 0 {
		progress = int(math.Round(float64(campaign.SentMessages) / float64(campaign.TotalMessages) * 100))
	}

	dto := &CampaignStatusDto{
		CampaignID:         campaign.ID,
		AgendamentoID:      campaign.AgendamentoID,
		Status:             campaign.Status,
		Provider:           campaign.Provider,
		TotalMessages:      campaign.TotalMessages,
		SentMessages:       campaign.SentMessages,
		FailedMessages:     campaign.FailedMessages,
		ProgressPercentage: progress,
		StartedAt:          campaign.StartedAt,
		CompletedAt:        campaign.CompletedAt,
	}

	failed, err := s.MessageRepo.ListFailed(campaignID)
	if err != nil {
		return nil, err
	}
	for _, m := range failed {
		lastError := m.LastError
		if lastError == "" {
			lastError = "unknown error"
		}
		dto.Errors = append(dto.Errors, MessageError{
			Phone:    m.Phone,
			Error:    lastError,
			Attempts: m.Attempts,
		})
	}

	return dto, nil
}
