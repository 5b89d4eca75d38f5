package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	appErrors "github.com/dcayres/campaign-dispatch/internal/errors"
	"github.com/dcayres/campaign-dispatch/internal/gateway"
	"github.com/dcayres/campaign-dispatch/internal/model"
	"github.com/dcayres/campaign-dispatch/internal/provider"
	"github.com/dcayres/campaign-dispatch/internal/queue"
	"github.com/dcayres/campaign-dispatch/internal/repository"
)

// TaskScheduler is the slice of the scheduler the dispatch flow needs.
type TaskScheduler interface {
	Schedule(delay time.Duration, kind string, payload json.RawMessage, agendamentoID, campaignID string) (*model.DelayedTask, error)
}

type DispatchService struct {
	CampaignRepo repository.CampaignRepositoryInterface
	MessageRepo  repository.MessageRepositoryInterface
	Gateway      gateway.RecordFetcher
	Registry     *provider.Registry
	Scheduler    TaskScheduler
	Queue        queue.Publisher
	Prefixes     map[string]string

	// Two-phase adapters, needed directly for the deferred handlers.
	RCS        *provider.RCS
	GOSAC      *provider.GOSAC
	Salesforce *provider.Salesforce
}

// DispatchAck is the immediate answer to a dispatch trigger. Submission is
// acknowledged before delivery; real progress comes from the status route.
type DispatchAck struct {
	Success    bool   `json:"success"`
	CampaignID string `json:"campaign_id"`
	Status     string `json:"status"`
	Message    string `json:"message,omitempty"`
}

// ResolveProvider maps the agendamento id's first character through the
// configured routing table.
func (s *DispatchService) ResolveProvider(agendamentoID string) (string, error) {
	if agendamentoID == "" {
		return "", appErrors.NewUnknownProvider(agendamentoID)
	}
	prefix := strings.ToUpper(agendamentoID[:1])
	providerName, ok := s.Prefixes[prefix]
	if !ok {
		return "", appErrors.NewUnknownProvider(agendamentoID)
	}
	return providerName, nil
}

// EnqueueDispatch creates the campaign (idempotently) and queues the job.
// A duplicate trigger returns the existing campaign unchanged.
func (s *DispatchService) EnqueueDispatch(ctx context.Context, agendamentoID string) (*DispatchAck, error) {
	providerName, err := s.ResolveProvider(agendamentoID)
	if err != nil {
		return nil, err
	}

	existing, err := s.CampaignRepo.GetByAgendamentoID(agendamentoID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		slog.Warn("campaign already exists",
			slog.String("agendamento_id", agendamentoID),
			slog.String("campaign_id", existing.ID),
		)
		return &DispatchAck{
			Success:    true,
			CampaignID: existing.ID,
			Status:     existing.Status,
			Message:    "campaign already queued",
		}, nil
	}

	campaign := &model.Campaign{
		ID:            uuid.New().String(),
		AgendamentoID: agendamentoID,
		Provider:      providerName,
		Status:        model.CampaignQueued,
	}
	if err := s.CampaignRepo.Create(campaign); err != nil {
		// Lost the insert race to a concurrent trigger; answer with the
		// winner's campaign, same as the get-before-create path.
		var exists *appErrors.ErrCampaignExists
		if errors.As(err, &exists) {
			winner, getErr := s.CampaignRepo.GetByAgendamentoID(agendamentoID)
			if getErr == nil && winner != nil {
				return &DispatchAck{
					Success:    true,
					CampaignID: winner.ID,
					Status:     winner.Status,
					Message:    "campaign already queued",
				}, nil
			}
		}
		return nil, err
	}

	if err := s.Queue.Publish(queue.TopicDispatch, queue.DispatchJob{AgendamentoID: agendamentoID}); err != nil {
		_ = s.CampaignRepo.UpdateStatus(campaign.ID, model.CampaignFailed, "failed to enqueue dispatch job: "+err.Error())
		return nil, fmt.Errorf("failed to enqueue dispatch job: %w", err)
	}

	slog.Info("dispatch queued",
		slog.String("agendamento_id", agendamentoID),
		slog.String("campaign_id", campaign.ID),
		slog.String("provider", providerName),
	)

	return &DispatchAck{
		Success:    true,
		CampaignID: campaign.ID,
		Status:     campaign.Status,
		Message:    "campaign queued for dispatch",
	}, nil
}

// ProcessDispatch runs phase 1 for one schedule id. Returned errors mean
// the job may be retried by the queue; definitional failures are absorbed
// into the campaign state and return nil.
func (s *DispatchService) ProcessDispatch(ctx context.Context, agendamentoID string) error {
	campaign, err := s.CampaignRepo.GetByAgendamentoID(agendamentoID)
	if err != nil {
		return err
	}
	if campaign == nil {
		providerName, err := s.ResolveProvider(agendamentoID)
		if err != nil {
			return err
		}
		campaign = &model.Campaign{
			ID:            uuid.New().String(),
			AgendamentoID: agendamentoID,
			Provider:      providerName,
			Status:        model.CampaignQueued,
		}
		if err := s.CampaignRepo.Create(campaign); err != nil {
			var exists *appErrors.ErrCampaignExists
			if !errors.As(err, &exists) {
				return err
			}
			campaign, err = s.CampaignRepo.GetByAgendamentoID(agendamentoID)
			if err != nil {
				return err
			}
			if campaign == nil {
				return fmt.Errorf("campaign for %s vanished after insert race", agendamentoID)
			}
		}
	}

	if err := s.CampaignRepo.UpdateStatus(campaign.ID, model.CampaignProcessing, ""); err != nil {
		return err
	}

	records, err := s.Gateway.FetchRecords(ctx, agendamentoID)
	if err != nil {
		var noRecords *appErrors.ErrNoRecords
		if errors.As(err, &noRecords) {
			s.failCampaign(campaign.ID, model.DispatchSendError, err.Error())
			return nil
		}
		s.failCampaign(campaign.ID, model.DispatchSendError, err.Error())
		return err
	}

	if err := s.CampaignRepo.SetTotalMessages(campaign.ID, len(records)); err != nil {
		return err
	}
	if err := s.MessageRepo.CreateBatch(campaign.ID, records); err != nil {
		return err
	}

	creds, err := s.Gateway.FetchCredentials(ctx, campaign.Provider, records[0].EnvironmentID)
	if err != nil {
		var notFound *appErrors.ErrCredentialsNotFound
		if errors.As(err, &notFound) {
			s.failCampaign(campaign.ID, model.DispatchSendError, err.Error())
			return nil
		}
		s.failCampaign(campaign.ID, model.DispatchSendError, err.Error())
		return err
	}

	var tpl *model.TemplateConfig
	if campaign.Provider == "RCS" {
		tpl, err = s.Gateway.FetchTemplateConfig(ctx, agendamentoID)
		if err != nil {
			slog.Warn("template config unavailable, falling back to text dispatch",
				slog.String("agendamento_id", agendamentoID),
				slog.Any("error", err),
			)
			tpl = nil
		}
	}

	adapter, ok := s.Registry.Get(campaign.Provider)
	if !ok {
		s.failCampaign(campaign.ID, model.DispatchSendError, "no adapter registered for provider "+campaign.Provider)
		return nil
	}

	result := adapter.Send(ctx, agendamentoID, records, creds, tpl)
	if !result.Success {
		s.failCampaign(campaign.ID, model.DispatchSendError, result.Error)
		return nil
	}

	if err := s.CampaignRepo.UpdateDispatchStatus(campaign.ID, model.DispatchSubmitted); err != nil {
		return err
	}

	if result.Deferred != nil {
		raw, err := json.Marshal(result.Deferred)
		if err != nil {
			s.failCampaign(campaign.ID, model.DispatchSendError, "failed to encode deferred dispatch: "+err.Error())
			return nil
		}
		if _, err := s.Scheduler.Schedule(result.Deferred.Delay, result.Deferred.Kind, raw, agendamentoID, campaign.ID); err != nil {
			s.failCampaign(campaign.ID, model.DispatchSendError, err.Error())
			return err
		}
		return s.CampaignRepo.UpdateDispatchStatus(campaign.ID, model.DispatchScheduledPhase2)
	}

	s.completeCampaign(campaign.ID)
	return nil
}

// HandleDeferred is the scheduler entry point for every phase-2 kind. The
// outcome is only recorded; nothing upstream awaits it.
func (s *DispatchService) HandleDeferred(ctx context.Context, task *model.DelayedTask) error {
	var deferred provider.DeferredDispatch
	if err := json.Unmarshal(task.Payload, &deferred); err != nil {
		s.failCampaign(task.CampaignID, model.DispatchPhase2Error, "invalid deferred payload: "+err.Error())
		return fmt.Errorf("invalid deferred payload: %w", err)
	}

	var result *provider.Result
	switch task.Kind {
	case model.TaskKindRCSDispatch:
		result = s.RCS.ExecuteDispatch(ctx, deferred.Endpoint, deferred.Payload, deferred.Credentials)
	case model.TaskKindGosacStart:
		result = s.GOSAC.StartCampaign(ctx, deferred.Endpoint, deferred.Credentials)
	case model.TaskKindSalesforceAutomation:
		result = s.Salesforce.RunAutomation(ctx, deferred.Endpoint, deferred.Credentials)
	default:
		s.failCampaign(task.CampaignID, model.DispatchPhase2Error, "unknown deferred kind "+task.Kind)
		return fmt.Errorf("unknown deferred kind %s", task.Kind)
	}

	if !result.Success {
		s.failCampaignPhase2(task.CampaignID, result.Error)
		return fmt.Errorf("phase 2 failed for campaign %s: %s", task.CampaignID, result.Error)
	}

	s.completeCampaign(task.CampaignID)
	slog.Info("phase 2 completed",
		slog.String("campaign_id", task.CampaignID),
		slog.String("kind", task.Kind),
	)
	return nil
}

func (s *DispatchService) completeCampaign(campaignID string) {
	sent, err := s.MessageRepo.MarkAllSent(campaignID)
	if err != nil {
		slog.Error("failed to mark messages sent", slog.String("campaign_id", campaignID), slog.Any("error", err))
	}
	if err := s.CampaignRepo.SetCounters(campaignID, sent, 0); err != nil {
		slog.Error("failed to update counters", slog.String("campaign_id", campaignID), slog.Any("error", err))
	}
	if err := s.CampaignRepo.UpdateDispatchStatus(campaignID, model.DispatchSent); err != nil {
		slog.Error("failed to update dispatch status", slog.String("campaign_id", campaignID), slog.Any("error", err))
	}
	if err := s.CampaignRepo.UpdateStatus(campaignID, model.CampaignCompleted, ""); err != nil {
		slog.Error("failed to complete campaign", slog.String("campaign_id", campaignID), slog.Any("error", err))
	}
}

func (s *DispatchService) failCampaign(campaignID, dispatchStatus, errorMessage string) {
	failed, err := s.MessageRepo.MarkAllFailed(campaignID, errorMessage)
	if err != nil {
		slog.Error("failed to mark messages failed", slog.String("campaign_id", campaignID), slog.Any("error", err))
	}
	if err := s.CampaignRepo.SetCounters(campaignID, 0, failed); err != nil {
		slog.Error("failed to update counters", slog.String("campaign_id", campaignID), slog.Any("error", err))
	}
	if err := s.CampaignRepo.UpdateDispatchStatus(campaignID, dispatchStatus); err != nil {
		slog.Error("failed to update dispatch status", slog.String("campaign_id", campaignID), slog.Any("error", err))
	}
	if err := s.CampaignRepo.UpdateStatus(campaignID, model.CampaignFailed, errorMessage); err != nil {
		slog.Error("failed to update campaign status", slog.String("campaign_id", campaignID), slog.Any("error", err))
	}

	slog.Error("dispatch failed",
		slog.String("campaign_id", campaignID),
		slog.String("dispatch_status", dispatchStatus),
		slog.String("error", errorMessage),
	)
}

func (s *DispatchService) failCampaignPhase2(campaignID, errorMessage string) {
	s.failCampaign(campaignID, model.DispatchPhase2Error, errorMessage)
}
