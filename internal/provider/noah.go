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

// NOAH posts the whole batch as one contacts payload.
type NOAH struct {
	client *httpclient.Client
}

func NewNOAH() *NOAH {
	return &NOAH{client: httpclient.New(30 * time.Second)}
}

func (p *NOAH) Name() string { return "NOAH" }

func (p *NOAH) RetryStrategy() retry.Strategy { return retry.DefaultStrategy() }

func (p *NOAH) ValidateCredentials(creds model.Credentials) bool {
	return creds.URL != "" && creds.Token != ""
}

type noahPayload struct {
	Name string                 `json:"name"`
	Data []model.CampaignRecord `json:"data"`
}

func (p *NOAH) Send(ctx context.Context, agendamentoID string, records []model.CampaignRecord, creds model.Credentials, _ *model.TemplateConfig) *Result {
	if !p.ValidateCredentials(creds) {
		return failure("invalid credentials: url and token are required")
	}
	if len(records) == 0 {
		return failure("no records to send")
	}

	raw, err := json.Marshal(noahPayload{Name: agendamentoID, Data: records})
	if err != nil {
		return failure(fmt.Sprintf("failed to encode payload: %v", err))
	}

	headers := map[string]string{
		"Authorization": "INTEGRATION " + creds.Token,
	}

	slog.Info("submitting NOAH batch",
		slog.String("agendamento_id", agendamentoID),
		slog.Int("records", len(records)),
	)

	resp, err := retry.Do(ctx, p.RetryStrategy(), func() (*httpclient.Response, error) {
		return p.client.PostJSON(ctx, creds.URL+"/contacts", raw, headers)
	})
	if err != nil {
		return failureFromError(err)
	}

	return &Result{
		Success: true,
		Message: "batch submitted",
		Data: map[string]any{
			"status": resp.StatusCode,
			"body":   resp.Body,
		},
	}
}
