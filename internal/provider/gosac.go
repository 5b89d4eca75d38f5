package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/dcayres/campaign-dispatch/internal/httpclient"
	"github.com/dcayres/campaign-dispatch/internal/model"
	"github.com/dcayres/campaign-dispatch/internal/retry"
)

// GOSAC runs a two-phase protocol: phase 1 creates the campaign upstream,
// phase 2 flips it to started two minutes later.
type GOSAC struct {
	client *httpclient.Client
}

func NewGOSAC() *GOSAC {
	return &GOSAC{client: httpclient.New(30 * time.Second)}
}

func (p *GOSAC) Name() string { return "GOSAC" }

func (p *GOSAC) RetryStrategy() retry.Strategy { return retry.DefaultStrategy() }

func (p *GOSAC) ValidateCredentials(creds model.Credentials) bool {
	return creds.URL != "" && creds.Token != ""
}

type gosacContact struct {
	Name        string `json:"name"`
	Number      string `json:"number"`
	HasWhatsapp bool   `json:"hasWhatsapp"`
}

type gosacPayload struct {
	Name           string         `json:"name"`
	Message        string         `json:"message"`
	Kind           string         `json:"kind"`
	ConnectionID   *int           `json:"connectionId"`
	Contacts       []gosacContact `json:"contacts"`
	DefaultQueueID int            `json:"defaultQueueId"`
	InitialMinutes int            `json:"initialMinutes"`
	EndMinutes     int            `json:"endMinutes"`
	CustomProps    []any          `json:"customProps"`
	Scheduled      bool           `json:"scheduled"`
	ScheduledAt    string         `json:"scheduledAt"`
	Speed          string         `json:"speed"`
	TagID          int            `json:"tagId"`
	TemplateID     *int           `json:"templateId"`
}

func (p *GOSAC) Send(ctx context.Context, agendamentoID string, records []model.CampaignRecord, creds model.Credentials, _ *model.TemplateConfig) *Result {
	if !p.ValidateCredentials(creds) {
		return failure("invalid credentials: url and token are required")
	}
	if len(records) == 0 {
		return failure("no records to send")
	}

	message := records[0].Message
	if message == "" {
		message = "Olá"
	}

	contacts := make([]gosacContact, 0, len(records))
	for _, rec := range records {
		if rec.Name == "" || rec.Phone == "" {
			continue
		}
		contacts = append(contacts, gosacContact{
			Name:        rec.Name,
			Number:      rec.Phone,
			HasWhatsapp: true,
		})
	}

	now := time.Now().UTC()
	payload := gosacPayload{
		Name:           fmt.Sprintf("%s_%s", agendamentoID, now.Format("2006-01-02_15-04-05")),
		Message:        message,
		Kind:           "whats",
		Contacts:       contacts,
		DefaultQueueID: 1,
		InitialMinutes: 480,
		EndMinutes:     1140,
		CustomProps:    []any{},
		Scheduled:      false,
		ScheduledAt:    now.Format("2006-01-02T15:04:05Z"),
		Speed:          "low",
		TagID:          0,
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return failure(fmt.Sprintf("failed to encode payload: %v", err))
	}

	headers := map[string]string{
		"Authorization": creds.Token,
		"User-Agent":    "Mozilla/5.0",
	}

	slog.Info("creating GOSAC campaign",
		slog.String("agendamento_id", agendamentoID),
		slog.Int("contacts", len(contacts)),
	)

	resp, err := retry.Do(ctx, p.RetryStrategy(), func() (*httpclient.Response, error) {
		return p.client.PostJSON(ctx, creds.URL, raw, headers)
	})
	if err != nil {
		return failureFromError(err)
	}

	campaignID := extractCampaignID(resp.Body)
	if campaignID == "" {
		return failure("upstream campaign id not found in response: " + truncate(resp.Body, 500))
	}

	return &Result{
		Success: true,
		Message: "campaign created, start scheduled for 2 minutes",
		Data: map[string]any{
			"campaign_id": campaignID,
			"status":      resp.StatusCode,
		},
		Deferred: &DeferredDispatch{
			Kind:        model.TaskKindGosacStart,
			Delay:       120 * time.Second,
			Endpoint:    fmt.Sprintf("%s/%s/status/started", creds.URL, campaignID),
			Credentials: creds,
		},
	}
}

// StartCampaign is phase 2: a PUT that moves the upstream campaign to
// started. Invoked by the scheduler at fire time.
func (p *GOSAC) StartCampaign(ctx context.Context, endpoint string, creds model.Credentials) *Result {
	headers := map[string]string{
		"Authorization": creds.Token,
	}

	resp, err := retry.Do(ctx, p.RetryStrategy(), func() (*httpclient.Response, error) {
		return p.client.Put(ctx, endpoint, nil, headers)
	})
	if err != nil {
		return failureFromError(err)
	}

	return &Result{
		Success: true,
		Message: "campaign started",
		Data:    map[string]any{"status": resp.StatusCode},
	}
}

// extractCampaignID walks the known response shapes for the upstream id,
// in priority order: id, campaign_id, campaignId, data.id.
func extractCampaignID(body string) string {
	var parsed map[string]any
	if err := json.Unmarshal([]byte(body), &parsed); err != nil {
		return ""
	}

	for _, key := range []string{"id", "campaign_id", "campaignId"} {
		if id := stringify(parsed[key]); id != "" {
			return id
		}
	}
	if data, ok := parsed["data"].(map[string]any); ok {
		return stringify(data["id"])
	}
	return ""
}

func stringify(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return fmt.Sprintf("%.0f", val)
	default:
		return ""
	}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
